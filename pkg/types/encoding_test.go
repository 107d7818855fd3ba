package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueEncodeDecodeRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Bool(false),
		I64(-42),
		F64(3.5),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
		Array([]Value{I64(1), String("x"), Null()}),
		Object(map[string]Value{"a": I64(1), "b": Array([]Value{Bool(true)})}),
	}

	for _, v := range values {
		encoded := EncodeValue(nil, v)
		decoded, rest, err := DecodeValue(encoded)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.True(t, v.Equal(decoded), "round trip mismatch for %v", v)
	}
}

func TestVersionEncodeDecodeRoundTrip(t *testing.T) {
	versions := []Version{
		TxnVersion(1),
		SequenceVersion(999),
		CounterVersion(0),
	}
	for _, v := range versions {
		encoded := EncodeVersion(nil, v)
		decoded, rest, err := DecodeVersion(encoded)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, v, decoded)
	}
}

func TestDecodeValueTruncatedInputErrors(t *testing.T) {
	_, _, err := DecodeValue([]byte{valTagString, 0, 0, 0, 10})
	require.Error(t, err)
}

func TestEncodeValueAppendsMultipleSequentially(t *testing.T) {
	var buf []byte
	buf = EncodeValue(buf, I64(1))
	buf = EncodeValue(buf, String("two"))

	v1, rest, err := DecodeValue(buf)
	require.NoError(t, err)
	i, _ := v1.AsI64()
	require.EqualValues(t, 1, i)

	v2, rest, err := DecodeValue(rest)
	require.NoError(t, err)
	require.Empty(t, rest)
	s, _ := v2.AsString()
	require.Equal(t, "two", s)
}
