// pkg/types/vector_test.go
package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorDistanceMetrics(t *testing.T) {
	a := NewVector([]float32{1, 0, 0})
	b := NewVector([]float32{0, 1, 0})

	require.InDelta(t, 1.0, a.CosineDistance(b), 1e-5)
	require.InDelta(t, 1.4142135, a.EuclideanDistance(b), 1e-4)
	require.InDelta(t, 2.0, a.ManhattanDistance(b), 1e-5)
}

func TestVectorByteRoundTrip(t *testing.T) {
	v := NewVector([]float32{0.5, -1.25, 3.0, 42})
	encoded := v.ToBytes()

	decoded, err := VectorFromBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, v.Data(), decoded.Data())
}

func TestParseDistanceMetric(t *testing.T) {
	m, err := ParseDistanceMetric("euclidean")
	require.NoError(t, err)
	require.Equal(t, DistanceMetricEuclidean, m)

	_, err = ParseDistanceMetric("bogus")
	require.Error(t, err)
}

func TestKeyOrderingAcrossNamespaces(t *testing.T) {
	r1, r2 := NewRunID(), NewRunID()
	ns1 := Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: r1}
	ns2 := Namespace{Tenant: "acme", App: "bot", Agent: "a1", Run: r2}

	k1 := NewKey(ns1, TagKV, []byte("x"))
	k2 := NewKey(ns2, TagKV, []byte("x"))

	require.NotEqual(t, 0, k1.Compare(k2))
	require.False(t, k1.HasPrefix(NamespacePrefix(ns2)))
}
