package vector

import (
	"sync"

	"strata/pkg/types"
)

// bruteForce is the exact-search backend: a linear scan over every live
// id in the collection's heap. Correct by construction and the right
// choice for small collections, or as the baseline HNSW's approximate
// results are checked against in tests.
type bruteForce struct {
	mu     sync.RWMutex
	metric types.DistanceMetric
	heap   *heap
	ids    map[uint64]struct{}
}

func newBruteForce(metric types.DistanceMetric, h *heap) *bruteForce {
	return &bruteForce{metric: metric, heap: h, ids: make(map[uint64]struct{})}
}

func (b *bruteForce) Insert(id uint64, _ *types.Vector) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[id] = struct{}{}
	return nil
}

func (b *bruteForce) Delete(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ids[id]; !ok {
		return false
	}
	delete(b.ids, id)
	return true
}

func (b *bruteForce) Search(query *types.Vector, k int) ([]SearchResult, error) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.ids))
	for id := range b.ids {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		vec, ok := b.heap.get(id)
		if !ok {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: query.Distance(vec, b.metric)})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (b *bruteForce) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ids)
}
