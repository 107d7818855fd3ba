// pkg/types/value_test.go
package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueNull(t *testing.T) {
	v := Null()
	require.Equal(t, KindNull, v.Kind())
	require.True(t, v.IsNull())
}

func TestValueScalars(t *testing.T) {
	b, ok := Bool(true).AsBool()
	require.True(t, ok)
	require.True(t, b)

	i, ok := I64(42).AsI64()
	require.True(t, ok)
	require.EqualValues(t, 42, i)

	f, ok := F64(3.14).AsF64()
	require.True(t, ok)
	require.InDelta(t, 3.14, f, 1e-9)

	s, ok := String("hi").AsString()
	require.True(t, ok)
	require.Equal(t, "hi", s)
}

func TestValueBytesCopyOnRead(t *testing.T) {
	original := []byte{1, 2, 3}
	v := Bytes(original)
	original[0] = 99

	got, ok := v.AsBytes()
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, got)

	got[1] = 77
	got2, _ := v.AsBytes()
	require.Equal(t, byte(2), got2[1], "mutating a returned slice must not affect the stored value")
}

func TestValueArrayAndObject(t *testing.T) {
	arr := Array([]Value{I64(1), String("a"), Null()})
	elems, ok := arr.AsArray()
	require.True(t, ok)
	require.Len(t, elems, 3)

	obj := Object(map[string]Value{"x": I64(1), "y": Bool(false)})
	m, ok := obj.AsObject()
	require.True(t, ok)
	require.Len(t, m, 2)
}

func TestValueEqual(t *testing.T) {
	a := Object(map[string]Value{"k": Array([]Value{I64(1), I64(2)})})
	b := Object(map[string]Value{"k": Array([]Value{I64(1), I64(2)})})
	c := Object(map[string]Value{"k": Array([]Value{I64(1), I64(3)})})

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestValueWrongKindAccessorsFail(t *testing.T) {
	v := String("x")
	_, ok := v.AsI64()
	require.False(t, ok)
}
