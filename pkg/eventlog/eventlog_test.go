package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/types"
)

func testNamespace(run types.RunID) types.Namespace {
	return types.Namespace{Tenant: "t", App: "a", Agent: "g", Run: run}
}

func newHarness() (*EventLog, *mvcc.Store, *coordinator.Coordinator) {
	store := mvcc.NewStore(4)
	coord := coordinator.New(store)
	return New(store, coord), store, coord
}

// TestEventChainIntegrity appends three events with payloads {1,2,3} to
// one run: sequences are 0,1,2 and the prev_hash of each event is the
// hash of its predecessor, with event 0's prev_hash the all-zero hash.
func TestEventChainIntegrity(t *testing.T) {
	l, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())

	seq0, hash0, err := l.Append(ns, types.I64(1))
	require.NoError(t, err)
	seq1, hash1, err := l.Append(ns, types.I64(2))
	require.NoError(t, err)
	seq2, hash2, err := l.Append(ns, types.I64(3))
	require.NoError(t, err)

	require.EqualValues(t, 0, seq0)
	require.EqualValues(t, 1, seq1)
	require.EqualValues(t, 2, seq2)

	e0, ok := l.Get(ns, 0)
	require.True(t, ok)
	e1, ok := l.Get(ns, 1)
	require.True(t, ok)
	e2, ok := l.Get(ns, 2)
	require.True(t, ok)

	require.Equal(t, ZeroHash, e0.PrevHash)
	require.Equal(t, hash0, e0.Hash)
	require.Equal(t, hash0, e1.PrevHash)
	require.Equal(t, hash1, e1.Hash)
	require.Equal(t, hash1, e2.PrevHash)
	require.Equal(t, hash2, e2.Hash)
}

func TestScanRunReturnsEventsInSequenceOrder(t *testing.T) {
	l, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())

	for i := int64(0); i < 5; i++ {
		_, _, err := l.Append(ns, types.I64(i))
		require.NoError(t, err)
	}

	events := l.ScanRun(ns)
	require.Len(t, events, 5)
	for i, e := range events {
		require.EqualValues(t, i, e.Sequence)
		v, _ := e.Payload.AsI64()
		require.EqualValues(t, i, v)
	}
	require.NoError(t, VerifyChain(events))
}

func TestSequencesAreGapFreeAcrossIndependentRuns(t *testing.T) {
	l, _, _ := newHarness()
	runA := testNamespace(types.NewRunID())
	runB := testNamespace(types.NewRunID())

	seqA0, _, err := l.Append(runA, types.String("a0"))
	require.NoError(t, err)
	seqB0, _, err := l.Append(runB, types.String("b0"))
	require.NoError(t, err)
	seqA1, _, err := l.Append(runA, types.String("a1"))
	require.NoError(t, err)

	require.EqualValues(t, 0, seqA0)
	require.EqualValues(t, 0, seqB0)
	require.EqualValues(t, 1, seqA1)
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	l, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, _, err := l.Append(ns, types.I64(1))
	require.NoError(t, err)
	_, _, err = l.Append(ns, types.I64(2))
	require.NoError(t, err)

	events := l.ScanRun(ns)
	events[0].Payload = types.I64(999)
	require.Error(t, VerifyChain(events))
}

func TestEventLogSnapshotRoundTrip(t *testing.T) {
	l, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, _, err := l.Append(ns, types.String("hello"))
	require.NoError(t, err)

	section, err := l.SerializeSnapshot()
	require.NoError(t, err)

	freshStore := mvcc.NewStore(4)
	freshCoord := coordinator.New(freshStore)
	fresh := New(freshStore, freshCoord)
	require.NoError(t, fresh.DeserializeSnapshot(section))
	require.NoError(t, fresh.RebuildIndexes())

	e, ok := fresh.Get(ns, 0)
	require.True(t, ok)
	s, _ := e.Payload.AsString()
	require.Equal(t, "hello", s)

	seq, _, err := fresh.Append(ns, types.String("world"))
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)
}

func TestEventLogRegistryIdentity(t *testing.T) {
	l, _, _ := newHarness()
	require.Equal(t, "eventlog", l.Name())
	require.EqualValues(t, 3, l.TypeID())
}
