package vector

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/types"
)

func randomVector(dim int, r *rand.Rand) *types.Vector {
	data := make([]float32, dim)
	for i := range data {
		data[i] = r.Float32()
	}
	return types.NewVector(data)
}

func TestHNSWInsertAndSearchFindsExactMatch(t *testing.T) {
	h := newHeap(4)
	idx := newHNSWIndex(DefaultConfig(4), h)

	vecs := map[uint64]*types.Vector{}
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		vec := randomVector(4, r)
		id := h.allocate(vec)
		require.NoError(t, idx.Insert(id, vec))
		vecs[id] = vec
	}
	require.Equal(t, 50, idx.Len())

	for id, vec := range vecs {
		results, err := idx.SearchKNNWithEf(vec, 1, 100)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		require.Equal(t, id, results[0].ID)
		require.InDelta(t, 0, results[0].Distance, 1e-5)
	}
}

func TestHNSWSearchRejectsDimensionMismatch(t *testing.T) {
	h := newHeap(4)
	idx := newHNSWIndex(DefaultConfig(4), h)
	_, err := idx.SearchKNN(types.NewVector([]float32{1, 2, 3}), 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHNSWInsertRejectsDimensionMismatch(t *testing.T) {
	h := newHeap(4)
	idx := newHNSWIndex(DefaultConfig(4), h)
	err := idx.Insert(1, types.NewVector([]float32{1, 2, 3}))
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHNSWDeleteRemovesFromGraphAndResults(t *testing.T) {
	h := newHeap(2)
	idx := newHNSWIndex(DefaultConfig(2), h)

	r := rand.New(rand.NewSource(2))
	ids := make([]uint64, 0, 20)
	for i := 0; i < 20; i++ {
		vec := randomVector(2, r)
		id := h.allocate(vec)
		require.NoError(t, idx.Insert(id, vec))
		ids = append(ids, id)
	}

	target := ids[0]
	require.True(t, idx.Delete(target))
	require.Equal(t, 19, idx.Len())

	results, err := idx.SearchKNNWithEf(randomVector(2, r), 20, 200)
	require.NoError(t, err)
	for _, res := range results {
		require.NotEqual(t, target, res.ID)
	}
}

func TestHNSWApproximatesBruteForceRecall(t *testing.T) {
	dim := 6
	h := newHeap(dim)
	idx := newHNSWIndex(DefaultConfig(dim), h)
	brute := newBruteForce(types.DistanceMetricCosine, h)

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		vec := randomVector(dim, r)
		id := h.allocate(vec)
		require.NoError(t, idx.Insert(id, vec))
		require.NoError(t, brute.Insert(id, vec))
	}

	query := randomVector(dim, r)
	exact, err := brute.Search(query, 10)
	require.NoError(t, err)
	approx, err := idx.SearchKNNWithEf(query, 10, 200)
	require.NoError(t, err)

	exactIDs := make(map[uint64]bool, len(exact))
	for _, e := range exact {
		exactIDs[e.ID] = true
	}
	hits := 0
	for _, a := range approx {
		if exactIDs[a.ID] {
			hits++
		}
	}
	require.GreaterOrEqualf(t, hits, 6, "expected at least 6/10 recall, got %d: %v vs %v", hits, exact, approx)
}

func TestHNSWUpdateEntryPointAfterDeletingEntryPoint(t *testing.T) {
	h := newHeap(2)
	idx := newHNSWIndex(DefaultConfig(2), h)

	r := rand.New(rand.NewSource(4))
	for i := 0; i < 10; i++ {
		vec := randomVector(2, r)
		id := h.allocate(vec)
		require.NoError(t, idx.Insert(id, vec))
	}

	entry := idx.entryPoint
	require.True(t, idx.Delete(entry))
	require.NotEqual(t, entry, idx.entryPoint)
	require.Contains(t, idx.nodes, idx.entryPoint)
}

func TestHNSWUpdateEntryPointOnEmptyGraph(t *testing.T) {
	h := newHeap(2)
	idx := newHNSWIndex(DefaultConfig(2), h)
	vec := types.NewVector([]float32{1, 1})
	id := h.allocate(vec)
	require.NoError(t, idx.Insert(id, vec))

	require.True(t, idx.Delete(id))
	require.Equal(t, 0, idx.Len())
	require.Equal(t, uint64(0), idx.entryPoint)
	require.Equal(t, 0, idx.maxLevel)
}

func Example_sortDistNodes() {
	nodes := []distNode{{id: 1, dist: 3}, {id: 2, dist: 1}, {id: 3, dist: 2}}
	sortDistNodes(nodes)
	for _, n := range nodes {
		fmt.Println(n.id)
	}
	// Output:
	// 2
	// 3
	// 1
}
