package wal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strata/pkg/types"
)

func TestWriterStrictCommitIsDurableImmediately(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Mode: Strict}, 0)
	require.NoError(t, err)

	run := types.NewRunID()
	require.NoError(t, w.AppendBeginTxn(1, run))
	key := types.NewKey(types.Namespace{Tenant: "t", App: "a", Agent: "g", Run: run}, types.TagKV, []byte("k"))
	require.NoError(t, w.AppendWrite(1, run, key, types.I64(5), types.TxnVersion(1)))
	require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
	require.NoError(t, w.Close())

	records, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, EntryBeginTxn, records[0].Type)
	require.Equal(t, EntryKVPut, records[1].Type)
	require.Equal(t, EntryCommitTxn, records[2].Type)
}

func TestWriterInMemoryModeStillPersistsWithinSession(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Mode: InMemory}, 0)
	require.NoError(t, err)

	run := types.NewRunID()
	require.NoError(t, w.AppendBeginTxn(1, run))
	require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
	require.NoError(t, w.Close())

	records, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestWriterBufferedFlushesOnThreshold(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{
		Dir:               dir,
		Mode:               Buffered,
		BufferedInterval:   time.Hour, // long enough that the timer never fires in-test
		BufferedThreshold:  2,
	}, 0)
	require.NoError(t, err)

	run := types.NewRunID()
	require.NoError(t, w.AppendBeginTxn(1, run))
	require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
	require.NoError(t, w.AppendBeginTxn(2, run))
	require.NoError(t, w.AppendCommitTxn(2, types.TxnVersion(2)))

	require.NoError(t, w.Close())

	records, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 4)
}

func TestWriterRotatesSegmentsAndWritesMeta(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Mode: Strict, RotationThreshold: 1}, 0)
	require.NoError(t, err)

	run := types.NewRunID()
	require.NoError(t, w.AppendBeginTxn(1, run))
	require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
	require.NoError(t, w.AppendBeginTxn(2, run))
	require.NoError(t, w.AppendCommitTxn(2, types.TxnVersion(2)))
	require.NoError(t, w.Close())

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1, "a 1-byte rotation threshold should force multiple segments")

	_, ok, err := ReadMetaFromFile(dir, segments[0])
	require.NoError(t, err)
	require.True(t, ok, "a sealed segment must leave behind a .meta sidecar")
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Mode: Strict}, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWriterRejectsAppendAfterClose(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Options{Dir: dir, Mode: Strict}, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.AppendBeginTxn(1, types.NewRunID())
	require.Error(t, err)
}
