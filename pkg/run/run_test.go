package run

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/types"
)

func testNamespace(id types.RunID) types.Namespace {
	return types.Namespace{Tenant: "t", App: "a", Agent: "g", Run: id}
}

func newHarness() (*Manager, *mvcc.Store, *coordinator.Coordinator) {
	store := mvcc.NewStore(4)
	coord := coordinator.New(store)
	return New(store, coord), store, coord
}

func TestBeginStartsActive(t *testing.T) {
	m, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())

	meta, err := m.Begin(ns, 1000, 0)
	require.NoError(t, err)
	require.Equal(t, StatusActive, meta.Status)
	require.Nil(t, meta.EndedAt)

	require.Equal(t, StatusActive, m.StatusOf(ns))
}

func TestCompleteSetsEndedAtAndOffset(t *testing.T) {
	m, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, err := m.Begin(ns, 1000, 0)
	require.NoError(t, err)

	meta, err := m.Complete(ns, 2000, 100)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, meta.Status)
	require.NotNil(t, meta.EndedAt)
	require.EqualValues(t, 2000, *meta.EndedAt)
	require.NotNil(t, meta.EndWALOffset)
	require.EqualValues(t, 100, *meta.EndWALOffset)
}

// TestStatusTransitionsAreUnconditional checks the "Complete then
// MarkOrphaned still lands on Orphaned" rule: every transition is a plain
// overwrite, with no state machine rejecting a transition from a
// terminal state.
func TestStatusTransitionsAreUnconditional(t *testing.T) {
	m, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, err := m.Begin(ns, 1000, 0)
	require.NoError(t, err)

	_, err = m.Complete(ns, 2000, 100)
	require.NoError(t, err)

	meta, err := m.MarkOrphaned(ns)
	require.NoError(t, err)
	require.Equal(t, StatusOrphaned, meta.Status)
}

func TestStatusOfUnknownRunIsNotFound(t *testing.T) {
	m, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	require.Equal(t, StatusNotFound, m.StatusOf(ns))
}

func TestRecordEventTracksCountAndOffsets(t *testing.T) {
	m, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, err := m.Begin(ns, 1000, 0)
	require.NoError(t, err)

	require.NoError(t, m.RecordEvent(ns, 10))
	require.NoError(t, m.RecordEvent(ns, 20))
	require.NoError(t, m.RecordEvent(ns, 30))

	meta, ok := m.Get(ns)
	require.True(t, ok)
	require.EqualValues(t, 3, meta.EventCount)
	require.Equal(t, []uint64{10, 20, 30}, m.EventOffsets(ns.Run))
}

func TestDeleteRunCascadesAndClearsOffsets(t *testing.T) {
	m, store, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, err := m.Begin(ns, 1000, 0)
	require.NoError(t, err)
	require.NoError(t, m.RecordEvent(ns, 5))

	store.Put(types.NewKey(ns, types.TagKV, []byte("k")), types.I64(1), nil)

	n := m.DeleteRun(ns.Run)
	require.GreaterOrEqual(t, n, 2) // run meta + the kv entry

	_, ok := m.Get(ns)
	require.False(t, ok)
	require.Empty(t, m.EventOffsets(ns.Run))

	_, ok = store.Get(types.NewKey(ns, types.TagKV, []byte("k")))
	require.False(t, ok)
}

func TestRunSnapshotRoundTrip(t *testing.T) {
	m, _, _ := newHarness()
	ns := testNamespace(types.NewRunID())
	_, err := m.Begin(ns, 1000, 0)
	require.NoError(t, err)
	_, err = m.Complete(ns, 2000, 50)
	require.NoError(t, err)

	section, err := m.SerializeSnapshot()
	require.NoError(t, err)

	freshStore := mvcc.NewStore(4)
	freshCoord := coordinator.New(freshStore)
	fresh := New(freshStore, freshCoord)
	require.NoError(t, fresh.DeserializeSnapshot(section))
	require.NoError(t, fresh.RebuildIndexes())

	meta, ok := fresh.Get(ns)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, meta.Status)
	require.EqualValues(t, 2000, *meta.EndedAt)
}

func TestRunRegistryIdentity(t *testing.T) {
	m, _, _ := newHarness()
	require.Equal(t, "run", m.Name())
	require.EqualValues(t, 6, m.TypeID())
}
