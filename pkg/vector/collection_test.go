package vector

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

func newManagerHarness(t *testing.T) (*Manager, *mvcc.Store, *coordinator.Coordinator) {
	t.Helper()
	store := mvcc.NewStore(4)
	coord := coordinator.New(store)
	return New(store, coord, ""), store, coord
}

func TestCreateCollectionRejectsDuplicate(t *testing.T) {
	m, _, _ := newManagerHarness(t)
	ns := testNamespace(types.NewRunID())
	cfg := DefaultCollectionConfig(3, types.DistanceMetricCosine)

	require.NoError(t, m.CreateCollection(ns, "docs", cfg))
	err := m.CreateCollection(ns, "docs", cfg)
	require.Error(t, err)
}

func TestInsertGetDeleteRoundTrip(t *testing.T) {
	m, _, _ := newManagerHarness(t)
	ns := testNamespace(types.NewRunID())
	cfg := DefaultCollectionConfig(3, types.DistanceMetricEuclidean)
	require.NoError(t, m.CreateCollection(ns, "docs", cfg))

	id, err := m.Insert(ns, "docs", types.NewVector([]float32{1, 2, 3}))
	require.NoError(t, err)

	got, ok := m.Get(ns, "docs", id)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, got.Data())

	deleted, err := m.Delete(ns, "docs", id)
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok = m.Get(ns, "docs", id)
	require.False(t, ok)
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	m, _, _ := newManagerHarness(t)
	ns := testNamespace(types.NewRunID())
	require.NoError(t, m.CreateCollection(ns, "docs", DefaultCollectionConfig(3, types.DistanceMetricCosine)))

	_, err := m.Insert(ns, "docs", types.NewVector([]float32{1, 2}))
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchReturnsNearestNeighbors(t *testing.T) {
	m, _, _ := newManagerHarness(t)
	ns := testNamespace(types.NewRunID())
	require.NoError(t, m.CreateCollection(ns, "docs", DefaultCollectionConfig(2, types.DistanceMetricEuclidean)))

	near, err := m.Insert(ns, "docs", types.NewVector([]float32{1, 0}))
	require.NoError(t, err)
	_, err = m.Insert(ns, "docs", types.NewVector([]float32{10, 0}))
	require.NoError(t, err)

	results, err := m.Search(ns, "docs", types.NewVector([]float32{0, 0}), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, near, results[0].ID)
}

// TestManagerSnapshotRoundTrip mirrors the run/eventlog primitives'
// snapshot round-trip pattern: serialize every collection config and
// vector, wipe the store, restore from the snapshot bytes, and confirm
// the data (and a freshly rebuilt in-memory index) reads back correctly.
func TestManagerSnapshotRoundTrip(t *testing.T) {
	store := mvcc.NewStore(4)
	coord := coordinator.New(store)
	m := New(store, coord, "")
	ns := testNamespace(types.NewRunID())

	require.NoError(t, m.CreateCollection(ns, "docs", DefaultCollectionConfig(2, types.DistanceMetricEuclidean)))
	id, err := m.Insert(ns, "docs", types.NewVector([]float32{3, 4}))
	require.NoError(t, err)

	snap, err := m.SerializeSnapshot()
	require.NoError(t, err)

	store2 := mvcc.NewStore(4)
	coord2 := coordinator.New(store2)
	m2 := New(store2, coord2, "")
	require.NoError(t, m2.DeserializeSnapshot(snap))
	require.NoError(t, m2.RebuildIndexes())

	vec, ok := m2.Get(ns, "docs", id)
	require.True(t, ok)
	require.Equal(t, []float32{3, 4}, vec.Data())

	cfg, ok := m2.CollectionConfigOf(ns, "docs")
	require.True(t, ok)
	require.Equal(t, 2, cfg.Dimension)
	require.Equal(t, types.DistanceMetricEuclidean, cfg.Metric)
}

func TestRebuildIndexesDropsInMemoryState(t *testing.T) {
	m, _, _ := newManagerHarness(t)
	ns := testNamespace(types.NewRunID())
	require.NoError(t, m.CreateCollection(ns, "docs", DefaultCollectionConfig(2, types.DistanceMetricCosine)))
	_, err := m.Insert(ns, "docs", types.NewVector([]float32{1, 1}))
	require.NoError(t, err)

	require.NoError(t, m.RebuildIndexes())

	// the collection is reloaded lazily from the canonical store, not lost
	cfg, ok := m.CollectionConfigOf(ns, "docs")
	require.True(t, ok)
	require.Equal(t, 2, cfg.Dimension)
}
