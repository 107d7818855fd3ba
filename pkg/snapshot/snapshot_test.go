package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/types"
)

func TestWriterCreateAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbID := RunIDToUUID(types.NewRunID())
	w := NewWriter(dir, dbID)

	sections := []Section{
		{PrimitiveType: 1, Data: []byte("kv-section")},
		{PrimitiveType: 2, Data: []byte("json-section")},
	}
	info, err := w.Create(1, 42, 1000, sections)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "snap-000001.chk"), info.Path)

	loaded, err := Load(dir, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), loaded.Header.SnapshotID)
	require.Equal(t, uint64(42), loaded.Header.WatermarkTxn)
	require.Equal(t, uint64(1000), loaded.Header.CreatedAt)
	require.Equal(t, dbID, loaded.Header.DatabaseUUID)
	require.Len(t, loaded.Sections, 2)
	require.Equal(t, uint8(1), loaded.Sections[0].PrimitiveType)
	require.Equal(t, []byte("kv-section"), loaded.Sections[0].Data)
	require.Equal(t, []byte("json-section"), loaded.Sections[1].Data)
}

func TestWriterCreateWithNoSections(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, [16]byte{})
	_, err := w.Create(1, 0, 0, nil)
	require.NoError(t, err)

	loaded, err := Load(dir, 1)
	require.NoError(t, err)
	require.Empty(t, loaded.Sections)
}

func TestLoadDetectsFooterCorruption(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, [16]byte{})
	_, err := w.Create(1, 0, 0, []Section{{PrimitiveType: 1, Data: []byte("x")}})
	require.NoError(t, err)

	path := filepath.Join(dir, "snap-000001.chk")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(dir, 1)
	require.Error(t, err)
}

func TestParseRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, [16]byte{})
	_, err := w.Create(1, 0, 0, nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "snap-000001.chk")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = 'X'
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(dir, 1)
	require.Error(t, err)
}

func TestListSnapshotsAndLatest(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, [16]byte{})
	_, err := w.Create(1, 0, 0, nil)
	require.NoError(t, err)
	_, err = w.Create(2, 0, 0, nil)
	require.NoError(t, err)
	_, err = w.Create(10, 0, 0, nil)
	require.NoError(t, err)

	ids, err := ListSnapshots(dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 10}, ids)

	latest, ok, err := Latest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), latest)
}

func TestLatestOnEmptyDirReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := Latest(dir)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCleanupTempFilesRemovesStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, [16]byte{})
	require.NoError(t, os.MkdirAll(dir, 0o755))
	strayPath := filepath.Join(dir, tempFileName(5))
	require.NoError(t, os.WriteFile(strayPath, []byte("partial"), 0o644))

	require.NoError(t, w.CleanupTempFiles())

	_, err := os.Stat(strayPath)
	require.True(t, os.IsNotExist(err))
}

func TestCleanupTempFilesOnMissingDirIsNotAnError(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "nonexistent"), [16]byte{})
	require.NoError(t, w.CleanupTempFiles())
}
