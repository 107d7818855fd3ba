package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/coordinator"
	"strata/pkg/kv"
	"strata/pkg/mvcc"
	"strata/pkg/registry"
	"strata/pkg/run"
	"strata/pkg/snapshot"
	"strata/pkg/statecell"
	"strata/pkg/types"
	"strata/pkg/wal"
)

func testNamespace(id types.RunID) types.Namespace {
	return types.Namespace{Tenant: "t", App: "a", Agent: "g", Run: id}
}

type harness struct {
	store *mvcc.Store
	coord *coordinator.Coordinator
	reg   *registry.Registry
	kv    *kv.KV
	sc    *statecell.StateCell
	rm    *run.Manager
}

func newHarness() harness {
	store := mvcc.NewStore(4)
	coord := coordinator.New(store)
	reg := registry.New()
	h := harness{
		store: store,
		coord: coord,
		reg:   reg,
		kv:    kv.New(store, coord),
		sc:    statecell.New(store, coord),
		rm:    run.New(store, coord),
	}
	_ = reg.Register(h.kv)
	_ = reg.Register(h.sc)
	_ = reg.Register(h.rm)
	return h
}

func writeWAL(t *testing.T, dir string, acts func(w *wal.Writer)) {
	t.Helper()
	w, err := wal.Open(wal.Options{Dir: dir, Mode: wal.Strict}, 0)
	require.NoError(t, err)
	acts(w)
	require.NoError(t, w.Close())
}

func TestRecoverReplaysCommittedTransactionsAcrossPrimitives(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())
	kvKey := types.NewKey(ns, types.TagKV, []byte("k1"))
	cellKey := types.NewKey(ns, types.TagState, []byte("cell"))

	writeWAL(t, walDir, func(w *wal.Writer) {
		require.NoError(t, w.AppendBeginTxn(1, ns.Run))
		require.NoError(t, w.AppendWrite(1, ns.Run, kvKey, types.I64(42), types.TxnVersion(1)))
		require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))

		require.NoError(t, w.AppendBeginTxn(2, ns.Run))
		require.NoError(t, w.AppendWrite(2, ns.Run, cellKey, types.String("A"), types.TxnVersion(2)))
		require.NoError(t, w.AppendCommitTxn(2, types.TxnVersion(2)))
	})

	h := newHarness()
	result, err := Recover(walDir, snapDir, h.reg, h.coord, h.rm)
	require.NoError(t, err)
	require.False(t, result.SnapshotFound)
	require.Equal(t, 2, result.TxnsApplied)
	require.Equal(t, 0, result.TxnsDiscarded)
	require.EqualValues(t, 2, result.MaxTxnID)
	require.EqualValues(t, 2, result.FinalVersion)

	v, ok := h.kv.Get(ns, []byte("k1"))
	require.True(t, ok)
	i, _ := v.AsI64()
	require.EqualValues(t, 42, i)

	val, _, ok := h.sc.Get(ns, []byte("cell"))
	require.True(t, ok)
	s, _ := val.AsString()
	require.Equal(t, "A", s)
}

func TestRecoverDiscardsUncommittedTransaction(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())
	kvKey := types.NewKey(ns, types.TagKV, []byte("k1"))

	writeWAL(t, walDir, func(w *wal.Writer) {
		require.NoError(t, w.AppendBeginTxn(1, ns.Run))
		require.NoError(t, w.AppendWrite(1, ns.Run, kvKey, types.I64(1), types.TxnVersion(1)))
		// No commit: simulates a crash mid-transaction.
	})

	h := newHarness()
	result, err := Recover(walDir, snapDir, h.reg, h.coord, h.rm)
	require.NoError(t, err)
	require.Equal(t, 0, result.TxnsApplied)
	require.Equal(t, 1, result.TxnsDiscarded)

	_, ok := h.kv.Get(ns, []byte("k1"))
	require.False(t, ok)
}

func TestRecoverDiscardsExplicitlyAbortedTransaction(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())
	kvKey := types.NewKey(ns, types.TagKV, []byte("k1"))

	writeWAL(t, walDir, func(w *wal.Writer) {
		require.NoError(t, w.AppendBeginTxn(1, ns.Run))
		require.NoError(t, w.AppendWrite(1, ns.Run, kvKey, types.I64(1), types.TxnVersion(1)))
		require.NoError(t, w.AppendAbortTxn(1))
	})

	h := newHarness()
	result, err := Recover(walDir, snapDir, h.reg, h.coord, h.rm)
	require.NoError(t, err)
	require.Equal(t, 0, result.TxnsApplied)
	require.Equal(t, 1, result.TxnsDiscarded)

	_, ok := h.kv.Get(ns, []byte("k1"))
	require.False(t, ok)
}

func TestRecoverMarksUnendedRunsOrphaned(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())
	runKey := types.NewKey(ns, types.TagRun, nil)
	runMeta := types.Object(map[string]types.Value{
		"run_id":           types.Bytes(ns.Run.Bytes()[:]),
		"status":           types.String("Active"),
		"started_at":       types.I64(1000),
		"event_count":      types.I64(0),
		"begin_wal_offset": types.I64(0),
		"ended_at":         types.Null(),
		"end_wal_offset":   types.Null(),
	})

	writeWAL(t, walDir, func(w *wal.Writer) {
		require.NoError(t, w.AppendBeginTxn(1, ns.Run))
		require.NoError(t, w.AppendWrite(1, ns.Run, runKey, runMeta, types.TxnVersion(1)))
		require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
	})

	h := newHarness()
	result, err := Recover(walDir, snapDir, h.reg, h.coord, h.rm)
	require.NoError(t, err)
	require.Equal(t, 1, result.RunsOrphaned)
	require.Equal(t, run.StatusOrphaned, h.rm.StatusOf(ns))
}

// TestRecoverIsIdempotent mirrors the replay(replay(state)) = replay(state)
// determinism property: running recovery twice over the same on-disk WAL
// into two independently constructed stores produces identical results.
func TestRecoverIsIdempotent(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())
	kvKey := types.NewKey(ns, types.TagKV, []byte("k1"))

	writeWAL(t, walDir, func(w *wal.Writer) {
		require.NoError(t, w.AppendBeginTxn(1, ns.Run))
		require.NoError(t, w.AppendWrite(1, ns.Run, kvKey, types.I64(7), types.TxnVersion(1)))
		require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
	})

	h1 := newHarness()
	r1, err := Recover(walDir, snapDir, h1.reg, h1.coord, h1.rm)
	require.NoError(t, err)

	h2 := newHarness()
	r2, err := Recover(walDir, snapDir, h2.reg, h2.coord, h2.rm)
	require.NoError(t, err)

	require.Equal(t, r1.TxnsApplied, r2.TxnsApplied)
	require.Equal(t, r1.MaxTxnID, r2.MaxTxnID)
	require.Equal(t, r1.FinalVersion, r2.FinalVersion)

	v1, ok1 := h1.kv.Get(ns, []byte("k1"))
	v2, ok2 := h2.kv.Get(ns, []byte("k1"))
	require.Equal(t, ok1, ok2)
	require.True(t, v1.Equal(v2))
}

// recordOffsets returns the file offset of the start of each WAL record
// (the beginning of its u32 length prefix), by walking the same
// length-prefixed framing decodeRecord uses, without validating CRCs.
func recordOffsets(t *testing.T, data []byte) []int {
	t.Helper()
	var offsets []int
	offset := 0
	for offset < len(data) {
		offsets = append(offsets, offset)
		bodyAndCRCLen := int(uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16 | uint32(data[offset+3])<<24)
		offset += 4 + bodyAndCRCLen
	}
	return offsets
}

// TestRecoverSurvivesBitFlipInNonTailWALRecord flips a bit inside the
// second transaction's begin record, a record with a commit record still
// after it in the file. Recovery must keep the first transaction's
// effects and simply stop before the corrupted record, rather than
// failing engine.Open outright.
func TestRecoverSurvivesBitFlipInNonTailWALRecord(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())
	kvKey := types.NewKey(ns, types.TagKV, []byte("k1"))

	writeWAL(t, walDir, func(w *wal.Writer) {
		require.NoError(t, w.AppendBeginTxn(1, ns.Run))
		require.NoError(t, w.AppendWrite(1, ns.Run, kvKey, types.I64(42), types.TxnVersion(1)))
		require.NoError(t, w.AppendCommitTxn(1, types.TxnVersion(1)))
		require.NoError(t, w.AppendBeginTxn(2, ns.Run))
		require.NoError(t, w.AppendCommitTxn(2, types.TxnVersion(2)))
	})

	segPath := wal.SegmentPath(walDir, 0)
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	offsets := recordOffsets(t, data)
	require.Len(t, offsets, 5, "begin(1), write(1), commit(1), begin(2), commit(2)")

	// Flip a bit well inside begin(2)'s body (past the 4-byte length
	// prefix), leaving begin(1)/write(1)/commit(1) untouched.
	flipped := append([]byte(nil), data...)
	corruptAt := offsets[3] + 4 + 8
	flipped[corruptAt] ^= 0x01
	require.NoError(t, os.WriteFile(segPath, flipped, 0o644))

	h := newHarness()
	result, err := Recover(walDir, snapDir, h.reg, h.coord, h.rm)
	require.NoError(t, err, "a non-tail CRC mismatch must not fail recovery")
	require.Equal(t, 1, result.TxnsApplied)
	require.Equal(t, 0, result.TxnsDiscarded)

	v, ok := h.kv.Get(ns, []byte("k1"))
	require.True(t, ok, "the transaction committed before the corruption must survive")
	i, _ := v.AsI64()
	require.EqualValues(t, 42, i)
}

// TestRecoverFallsBackToOlderSnapshotWhenLatestIsCorrupt seals two
// snapshots, corrupts the newer one's footer CRC, and checks that
// recovery falls back to the older one instead of failing outright.
func TestRecoverFallsBackToOlderSnapshotWhenLatestIsCorrupt(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()
	ns := testNamespace(types.NewRunID())

	h := newHarness()
	_, err := h.kv.Put(ns, []byte("k1"), types.I64(1))
	require.NoError(t, err)
	kvSection, err := h.kv.SerializeSnapshot()
	require.NoError(t, err)

	w := snapshot.NewWriter(snapDir, [16]byte{})
	_, err = w.Create(1, 1, 1000, []snapshot.Section{{PrimitiveType: h.kv.TypeID(), Data: kvSection}})
	require.NoError(t, err)

	_, err = h.kv.Put(ns, []byte("k1"), types.I64(2))
	require.NoError(t, err)
	kvSection2, err := h.kv.SerializeSnapshot()
	require.NoError(t, err)
	_, err = w.Create(2, 2, 2000, []snapshot.Section{{PrimitiveType: h.kv.TypeID(), Data: kvSection2}})
	require.NoError(t, err)

	ids, err := snapshot.ListSnapshots(snapDir)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)

	newestPath := filepath.Join(snapDir, snapshot.FileName(2))
	data, err := os.ReadFile(newestPath)
	require.NoError(t, err)
	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0x01 // corrupt the footer CRC itself
	require.NoError(t, os.WriteFile(newestPath, flipped, 0o644))

	h2 := newHarness()
	result, err := Recover(walDir, snapDir, h2.reg, h2.coord, h2.rm)
	require.NoError(t, err, "a corrupt latest snapshot must not fail recovery")
	require.True(t, result.SnapshotFound)
	require.EqualValues(t, 1, result.SnapshotID, "recovery must fall back to the older valid snapshot")

	v, ok := h2.kv.Get(ns, []byte("k1"))
	require.True(t, ok)
	i, _ := v.AsI64()
	require.EqualValues(t, 1, i, "state must come from the older snapshot, not the corrupted newer one")
}
