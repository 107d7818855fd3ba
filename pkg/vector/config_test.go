package vector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"strata/pkg/types"
)

func TestDefaultConfigMatchesTeacherDefaults(t *testing.T) {
	cfg := DefaultConfig(128)
	require.Equal(t, 128, cfg.Dimension)
	require.Equal(t, 16, cfg.M)
	require.Equal(t, 32, cfg.MMax0)
	require.Equal(t, 200, cfg.EfConstruction)
	require.Equal(t, 50, cfg.EfSearch)
	require.Equal(t, types.DistanceMetricCosine, cfg.DistanceMetric)
}

func TestStoredConfigRoundTrip(t *testing.T) {
	cfg := CollectionConfig{
		Dimension: 8,
		Metric:    types.DistanceMetricEuclidean,
		Backend:   BackendHNSW,
		HNSW:      DefaultConfig(8),
	}
	cfg.HNSW.M = 24
	cfg.HNSW.UseHeuristic = true

	stored := toStoredConfig(cfg)
	restored, ok := fromStoredConfig(stored)
	require.True(t, ok)

	require.Equal(t, cfg.Dimension, restored.Dimension)
	require.Equal(t, cfg.Metric, restored.Metric)
	require.Equal(t, cfg.Backend, restored.Backend)
	require.Equal(t, cfg.HNSW.M, restored.HNSW.M)
	require.True(t, restored.HNSW.UseHeuristic)
	require.Equal(t, cfg.Metric, restored.HNSW.DistanceMetric)
}

func TestFromStoredConfigRejectsNonObject(t *testing.T) {
	_, ok := fromStoredConfig(types.String("not a config"))
	require.False(t, ok)
}
