package vector

import (
	"sort"

	"strata/pkg/types"
)

// SearchResult is one nearest-neighbor hit: a heap id and its distance
// from the query vector under the collection's configured metric.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// Backend is the ANN search strategy a collection is bound to. Brute and
// HNSW both read vector data from the collection's shared heap rather
// than holding private copies.
type Backend interface {
	Insert(id uint64, vec *types.Vector) error
	Delete(id uint64) bool
	Search(query *types.Vector, k int) ([]SearchResult, error)
	Len() int
}

// NewBackend is the pure factory turning a collection's configuration
// into a concrete Backend bound to h.
func NewBackend(kind BackendKind, cfg CollectionConfig, h *heap) Backend {
	if kind == BackendHNSW {
		hc := cfg.HNSW
		hc.Dimension = cfg.Dimension
		hc.DistanceMetric = cfg.Metric
		if hc.M == 0 {
			def := DefaultConfig(cfg.Dimension)
			hc.M, hc.MMax0, hc.EfConstruction, hc.EfSearch, hc.ML = def.M, def.MMax0, def.EfConstruction, def.EfSearch, def.ML
		}
		return newHNSWIndex(hc, h)
	}
	return newBruteForce(cfg.Metric, h)
}

func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
}
