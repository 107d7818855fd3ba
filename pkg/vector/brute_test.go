package vector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/types"
)

func TestBruteForceSearchOrdersByDistance(t *testing.T) {
	h := newHeap(2)
	b := newBruteForce(types.DistanceMetricEuclidean, h)

	near := h.allocate(types.NewVector([]float32{1, 0}))
	require.NoError(t, b.Insert(near, types.NewVector([]float32{1, 0})))
	far := h.allocate(types.NewVector([]float32{10, 0}))
	require.NoError(t, b.Insert(far, types.NewVector([]float32{10, 0})))
	mid := h.allocate(types.NewVector([]float32{3, 0}))
	require.NoError(t, b.Insert(mid, types.NewVector([]float32{3, 0})))

	results, err := b.Search(types.NewVector([]float32{0, 0}), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, near, results[0].ID)
	require.Equal(t, mid, results[1].ID)
}

func TestBruteForceDeleteExcludesFromSearch(t *testing.T) {
	h := newHeap(1)
	b := newBruteForce(types.DistanceMetricEuclidean, h)

	id := h.allocate(types.NewVector([]float32{5}))
	require.NoError(t, b.Insert(id, types.NewVector([]float32{5})))
	require.Equal(t, 1, b.Len())

	require.True(t, b.Delete(id))
	require.Equal(t, 0, b.Len())

	results, err := b.Search(types.NewVector([]float32{5}), 5)
	require.NoError(t, err)
	require.Empty(t, results)
}
