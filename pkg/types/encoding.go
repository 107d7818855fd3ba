package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary value tags used by EncodeValue/DecodeValue. These are the wire
// format shared by the WAL (pkg/wal) and snapshot sections (pkg/snapshot),
// kept here so both encode and decode against the same tag set as the
// in-memory Value kind.
const (
	valTagNull byte = iota
	valTagBool
	valTagI64
	valTagF64
	valTagString
	valTagBytes
	valTagArray
	valTagObject
)

// EncodeValue appends the binary encoding of v to buf and returns the
// extended slice. Strings, byte strings, arrays, and objects are
// length-prefixed so decoding never has to guess where a nested value ends.
func EncodeValue(buf []byte, v Value) []byte {
	switch v.Kind() {
	case KindNull:
		return append(buf, valTagNull)
	case KindBool:
		b, _ := v.AsBool()
		tag := byte(0)
		if b {
			tag = 1
		}
		return append(buf, valTagBool, tag)
	case KindI64:
		i, _ := v.AsI64()
		buf = append(buf, valTagI64)
		return appendU64(buf, uint64(i))
	case KindF64:
		f, _ := v.AsF64()
		buf = append(buf, valTagF64)
		return appendU64(buf, math.Float64bits(f))
	case KindString:
		s, _ := v.AsString()
		buf = append(buf, valTagString)
		return appendLenPrefixed(buf, []byte(s))
	case KindBytes:
		b, _ := v.AsBytes()
		buf = append(buf, valTagBytes)
		return appendLenPrefixed(buf, b)
	case KindArray:
		elems, _ := v.AsArray()
		buf = append(buf, valTagArray)
		buf = appendU32(buf, uint32(len(elems)))
		for _, e := range elems {
			buf = EncodeValue(buf, e)
		}
		return buf
	case KindObject:
		obj, _ := v.AsObject()
		buf = append(buf, valTagObject)
		buf = appendU32(buf, uint32(len(obj)))
		for k, val := range obj {
			buf = appendLenPrefixed(buf, []byte(k))
			buf = EncodeValue(buf, val)
		}
		return buf
	default:
		return append(buf, valTagNull)
	}
}

// DecodeValue parses one Value from the front of data, returning the value
// and the remaining, unconsumed bytes.
func DecodeValue(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return Value{}, nil, fmt.Errorf("types: DecodeValue: empty input")
	}
	tag, rest := data[0], data[1:]
	switch tag {
	case valTagNull:
		return Null(), rest, nil
	case valTagBool:
		if len(rest) < 1 {
			return Value{}, nil, fmt.Errorf("types: DecodeValue: truncated bool")
		}
		return Bool(rest[0] != 0), rest[1:], nil
	case valTagI64:
		u, rest, err := takeU64(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return I64(int64(u)), rest, nil
	case valTagF64:
		u, rest, err := takeU64(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return F64(math.Float64frombits(u)), rest, nil
	case valTagString:
		b, rest, err := takeLenPrefixed(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return String(string(b)), rest, nil
	case valTagBytes:
		b, rest, err := takeLenPrefixed(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Bytes(b), rest, nil
	case valTagArray:
		count, rest, err := takeU32(rest)
		if err != nil {
			return Value{}, nil, err
		}
		elems := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			var v Value
			v, rest, err = DecodeValue(rest)
			if err != nil {
				return Value{}, nil, err
			}
			elems = append(elems, v)
		}
		return Array(elems), rest, nil
	case valTagObject:
		count, rest, err := takeU32(rest)
		if err != nil {
			return Value{}, nil, err
		}
		obj := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			var keyBytes []byte
			keyBytes, rest, err = takeLenPrefixed(rest)
			if err != nil {
				return Value{}, nil, err
			}
			var v Value
			v, rest, err = DecodeValue(rest)
			if err != nil {
				return Value{}, nil, err
			}
			obj[string(keyBytes)] = v
		}
		return Object(obj), rest, nil
	default:
		return Value{}, nil, fmt.Errorf("types: DecodeValue: unknown tag %d", tag)
	}
}

// EncodeVersion appends the binary encoding of v (1 kind byte + 8 value
// bytes) to buf.
func EncodeVersion(buf []byte, v Version) []byte {
	buf = append(buf, byte(v.Kind))
	return appendU64(buf, v.Value)
}

// DecodeVersion parses one Version from the front of data.
func DecodeVersion(data []byte) (Version, []byte, error) {
	if len(data) < 1 {
		return Version{}, nil, fmt.Errorf("types: DecodeVersion: empty input")
	}
	kind := VersionKind(data[0])
	value, rest, err := takeU64(data[1:])
	if err != nil {
		return Version{}, nil, err
	}
	return Version{Kind: kind, Value: value}, rest, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = appendU32(buf, uint32(len(data)))
	return append(buf, data...)
}

func takeU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("types: takeU32: truncated input")
	}
	return binary.LittleEndian.Uint32(data[:4]), data[4:], nil
}

func takeU64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("types: takeU64: truncated input")
	}
	return binary.LittleEndian.Uint64(data[:8]), data[8:], nil
}

func takeLenPrefixed(data []byte) ([]byte, []byte, error) {
	n, rest, err := takeU32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("types: takeLenPrefixed: truncated input")
	}
	return rest[:n], rest[n:], nil
}
