package vector

import "strata/pkg/types"

// SearchKNN finds the approximate k nearest neighbors to query using the
// index's configured EfSearch.
func (idx *hnswIndex) SearchKNN(query *types.Vector, k int) ([]SearchResult, error) {
	return idx.SearchKNNWithEf(query, k, idx.config.EfSearch)
}

// SearchKNNWithEf is SearchKNN with an explicit candidate-list size,
// trading recall for latency independent of the collection's default.
func (idx *hnswIndex) SearchKNNWithEf(query *types.Vector, k int, ef int) ([]SearchResult, error) {
	if query.Dimension() != idx.config.Dimension {
		return nil, ErrDimensionMismatch
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) == 0 {
		return []SearchResult{}, nil
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.searchLayerClosest(query, ep, l)
	}
	candidates := idx.searchLayer(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, id := range candidates {
		vec, ok := idx.heap.get(id)
		if !ok {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: query.Distance(vec, idx.config.DistanceMetric)})
	}
	sortResults(results)
	return results, nil
}

// Search implements Backend.
func (idx *hnswIndex) Search(query *types.Vector, k int) ([]SearchResult, error) {
	return idx.SearchKNN(query, k)
}
