package vector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/types"
)

func TestHeapAllocateAssignsFreshIDs(t *testing.T) {
	h := newHeap(3)
	id1 := h.allocate(types.NewVector([]float32{1, 2, 3}))
	id2 := h.allocate(types.NewVector([]float32{4, 5, 6}))
	require.NotEqual(t, id1, id2)
	require.Equal(t, 2, h.len())

	v1, ok := h.get(id1)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, v1.Data())
}

func TestHeapReleaseFreesSlotForReuse(t *testing.T) {
	h := newHeap(2)
	id1 := h.allocate(types.NewVector([]float32{1, 1}))
	require.True(t, h.release(id1))
	require.Equal(t, 0, h.len())

	_, ok := h.get(id1)
	require.False(t, ok)

	id2 := h.allocate(types.NewVector([]float32{2, 2}))
	require.NotEqual(t, id1, id2)
	require.Equal(t, 1, h.len())

	v2, ok := h.get(id2)
	require.True(t, ok)
	require.Equal(t, []float32{2, 2}, v2.Data())
}

func TestHeapReleaseUnknownIDReturnsFalse(t *testing.T) {
	h := newHeap(2)
	require.False(t, h.release(999))
}

func TestHeapPutAdvancesNextID(t *testing.T) {
	h := newHeap(2)
	h.put(41, types.NewVector([]float32{1, 0}))
	id := h.allocate(types.NewVector([]float32{0, 1}))
	require.Equal(t, uint64(42), id)
}

func TestHeapIterateVisitsEveryLiveEntry(t *testing.T) {
	h := newHeap(1)
	a := h.allocate(types.NewVector([]float32{1}))
	b := h.allocate(types.NewVector([]float32{2}))
	c := h.allocate(types.NewVector([]float32{3}))
	h.release(b)

	seen := map[uint64]float32{}
	h.iterate(func(id uint64, vec *types.Vector) {
		seen[id] = vec.Data()[0]
	})

	require.Len(t, seen, 2)
	require.Equal(t, float32(1), seen[a])
	require.Equal(t, float32(3), seen[c])
	require.NotContains(t, seen, b)
}
