// Package vector implements the vector collection substrate (C9): a
// per-collection, per-run flat f32 vector heap, a pluggable ANN backend
// (brute-force or HNSW) built from each collection's configuration, an
// mmap-backed on-disk cache for fast reopen, and a sealed graph file for
// the HNSW backend — both caches rebuildable from the canonical MVCC
// store whenever they are missing, stale, or fail to parse.
package vector

import (
	"math"

	"strata/pkg/types"
)

// BackendKind selects how a collection resolves nearest-neighbor
// queries.
type BackendKind string

const (
	BackendBrute BackendKind = "Brute"
	BackendHNSW  BackendKind = "HNSW"
)

// Config tunes the HNSW backend, including DistanceMetric: the metric
// distance() uses to compare vectors, closing a gap where earlier
// configuration shapes computed distance without ever declaring which
// metric it used.
type Config struct {
	// M is the maximum number of connections per node at layers above 0.
	M int

	// MMax0 is the maximum number of connections at layer 0.
	MMax0 int

	// EfConstruction is the size of the dynamic candidate list used while
	// inserting a node.
	EfConstruction int

	// EfSearch is the default size of the dynamic candidate list used
	// while searching, absent an explicit per-query override.
	EfSearch int

	// Dimension is the vector dimension this index accepts.
	Dimension int

	// ML is the level generation factor (1/ln(M)).
	ML float64

	// UseHeuristic enables the heuristic neighbor selection from the
	// HNSW paper for better graph quality at some construction cost.
	UseHeuristic bool

	// ExtendCandidates extends the candidate set with candidates'
	// neighbors during heuristic selection.
	ExtendCandidates bool

	// DistanceMetric is the metric distance() uses to compare vectors.
	DistanceMetric types.DistanceMetric
}

// DefaultConfig returns a reasonable Config for dimension, using cosine
// distance absent any collection-specific override.
func DefaultConfig(dimension int) Config {
	m := 16
	return Config{
		M:              m,
		MMax0:          m * 2,
		EfConstruction: 200,
		EfSearch:       50,
		Dimension:      dimension,
		ML:             1.0 / math.Log(float64(m)),
		DistanceMetric: types.DistanceMetricCosine,
	}
}

// CollectionConfig is a collection's persisted configuration: its vector
// dimension, distance metric, and which ANN backend resolves its
// searches. HNSW only applies when Backend is BackendHNSW.
type CollectionConfig struct {
	Dimension int
	Metric    types.DistanceMetric
	Backend   BackendKind
	HNSW      Config
}

// DefaultCollectionConfig returns a brute-force collection configuration,
// the safe default for small collections or callers that haven't
// measured whether HNSW's construction cost pays for itself yet.
func DefaultCollectionConfig(dimension int, metric types.DistanceMetric) CollectionConfig {
	return CollectionConfig{
		Dimension: dimension,
		Metric:    metric,
		Backend:   BackendBrute,
	}
}

const (
	fieldDimension        = "dimension"
	fieldMetric           = "metric"
	fieldBackend          = "backend"
	fieldHNSWM            = "hnsw_m"
	fieldHNSWMMax0        = "hnsw_mmax0"
	fieldHNSWEfConstruct  = "hnsw_ef_construction"
	fieldHNSWEfSearch     = "hnsw_ef_search"
	fieldHNSWML           = "hnsw_ml"
	fieldHNSWUseHeuristic = "hnsw_use_heuristic"
	fieldHNSWExtendCand   = "hnsw_extend_candidates"
)

// toStoredConfig renders cfg as the types.Value a collection's config
// record holds in the store.
func toStoredConfig(cfg CollectionConfig) types.Value {
	return types.Object(map[string]types.Value{
		fieldDimension:        types.I64(int64(cfg.Dimension)),
		fieldMetric:           types.String(cfg.Metric.String()),
		fieldBackend:          types.String(string(cfg.Backend)),
		fieldHNSWM:            types.I64(int64(cfg.HNSW.M)),
		fieldHNSWMMax0:        types.I64(int64(cfg.HNSW.MMax0)),
		fieldHNSWEfConstruct:  types.I64(int64(cfg.HNSW.EfConstruction)),
		fieldHNSWEfSearch:     types.I64(int64(cfg.HNSW.EfSearch)),
		fieldHNSWML:           types.F64(cfg.HNSW.ML),
		fieldHNSWUseHeuristic: types.Bool(cfg.HNSW.UseHeuristic),
		fieldHNSWExtendCand:   types.Bool(cfg.HNSW.ExtendCandidates),
	})
}

// fromStoredConfig reverses toStoredConfig.
func fromStoredConfig(v types.Value) (CollectionConfig, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return CollectionConfig{}, false
	}
	dimension, ok := obj[fieldDimension].AsI64()
	if !ok {
		return CollectionConfig{}, false
	}
	metricStr, ok := obj[fieldMetric].AsString()
	if !ok {
		return CollectionConfig{}, false
	}
	metric, err := types.ParseDistanceMetric(metricStr)
	if err != nil {
		return CollectionConfig{}, false
	}
	backendStr, ok := obj[fieldBackend].AsString()
	if !ok {
		return CollectionConfig{}, false
	}

	cfg := CollectionConfig{
		Dimension: int(dimension),
		Metric:    metric,
		Backend:   BackendKind(backendStr),
		HNSW:      DefaultConfig(int(dimension)),
	}
	cfg.HNSW.DistanceMetric = metric

	if m, ok := obj[fieldHNSWM].AsI64(); ok {
		cfg.HNSW.M = int(m)
	}
	if mMax0, ok := obj[fieldHNSWMMax0].AsI64(); ok {
		cfg.HNSW.MMax0 = int(mMax0)
	}
	if ef, ok := obj[fieldHNSWEfConstruct].AsI64(); ok {
		cfg.HNSW.EfConstruction = int(ef)
	}
	if efs, ok := obj[fieldHNSWEfSearch].AsI64(); ok {
		cfg.HNSW.EfSearch = int(efs)
	}
	if ml, ok := obj[fieldHNSWML].AsF64(); ok {
		cfg.HNSW.ML = ml
	}
	if uh, ok := obj[fieldHNSWUseHeuristic].AsBool(); ok {
		cfg.HNSW.UseHeuristic = uh
	}
	if ec, ok := obj[fieldHNSWExtendCand].AsBool(); ok {
		cfg.HNSW.ExtendCandidates = ec
	}
	return cfg, true
}
