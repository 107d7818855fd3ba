package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentMetaTrackMinMax(t *testing.T) {
	m := NewEmptySegmentMeta(1)
	require.True(t, m.IsEmpty())

	m.Track(10, 1000)
	m.Track(5, 2000)
	m.Track(20, 500)

	require.Equal(t, uint64(500), m.MinTimestamp)
	require.Equal(t, uint64(2000), m.MaxTimestamp)
	require.Equal(t, uint64(5), m.MinTxnID)
	require.Equal(t, uint64(20), m.MaxTxnID)
	require.EqualValues(t, 3, m.RecordCount)
	require.False(t, m.IsEmpty())
}

func TestSegmentMetaRoundTripThroughFile(t *testing.T) {
	dir := t.TempDir()
	m := NewEmptySegmentMeta(7)
	m.Track(100, 50000)
	m.Track(200, 60000)

	require.NoError(t, m.WriteToFile(dir))

	loaded, ok, err := ReadMetaFromFile(dir, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m, loaded)
}

func TestReadMetaFromFileMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ReadMetaFromFile(dir, 99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSegmentMetaDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	m := NewEmptySegmentMeta(1)
	m.Track(1, 100)
	require.NoError(t, m.WriteToFile(dir))

	bytes := m.toBytes()
	bytes[10] ^= 0xFF
	_, err := segmentMetaFromBytes(bytes)
	require.Error(t, err)
}

func TestMetaAndSegmentPathNaming(t *testing.T) {
	require.Equal(t, "dir/wal-000001.meta", MetaPath("dir", 1))
	require.Equal(t, "dir/wal-000001.seg", SegmentPath("dir", 1))
}
