package mvcc

import (
	"encoding/binary"
	"fmt"

	"strata/pkg/strataerr"
	"strata/pkg/types"
)

// EncodeEntries renders a slice of ScanResult as a flat, length-prefixed
// byte section: encoded-key-len + encoded key bytes, then the value and
// version codecs from pkg/types, then an 8-byte timestamp and a 1-byte
// has-TTL flag followed by 8 TTL bytes when set. Used by primitives whose
// snapshot section is just "every live entry I own".
func EncodeEntries(entries []ScanResult) []byte {
	var buf []byte
	for _, e := range entries {
		encodedKey := e.Key.Encode()
		buf = appendU32(buf, uint32(len(encodedKey)))
		buf = append(buf, encodedKey...)
		buf = types.EncodeValue(buf, e.Value.Value)
		buf = types.EncodeVersion(buf, e.Value.Version)
		buf = appendI64(buf, e.Value.TimestampMicro)
		if e.Value.ExpiryMicro != nil {
			buf = append(buf, 1)
			buf = appendI64(buf, *e.Value.ExpiryMicro)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// DecodeEntries reverses EncodeEntries.
func DecodeEntries(data []byte) ([]ScanResult, error) {
	var out []ScanResult
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, strataerr.Corruption("mvcc.DecodeEntries", fmt.Errorf("truncated key length"))
		}
		keyLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < keyLen {
			return nil, strataerr.Corruption("mvcc.DecodeEntries", fmt.Errorf("truncated key bytes"))
		}
		key, err := types.DecodeKey(data[:keyLen])
		if err != nil {
			return nil, strataerr.Corruption("mvcc.DecodeEntries", err)
		}
		data = data[keyLen:]

		value, rest, err := types.DecodeValue(data)
		if err != nil {
			return nil, strataerr.Corruption("mvcc.DecodeEntries", err)
		}
		data = rest

		version, rest, err := types.DecodeVersion(data)
		if err != nil {
			return nil, strataerr.Corruption("mvcc.DecodeEntries", err)
		}
		data = rest

		if len(data) < 9 {
			return nil, strataerr.Corruption("mvcc.DecodeEntries", fmt.Errorf("truncated timestamp/ttl"))
		}
		ts := int64(binary.LittleEndian.Uint64(data[:8]))
		data = data[8:]
		hasTTL := data[0]
		data = data[1:]

		var expiry *int64
		if hasTTL == 1 {
			if len(data) < 8 {
				return nil, strataerr.Corruption("mvcc.DecodeEntries", fmt.Errorf("truncated ttl value"))
			}
			v := int64(binary.LittleEndian.Uint64(data[:8]))
			expiry = &v
			data = data[8:]
		}

		out = append(out, ScanResult{
			Key: key,
			Value: types.VersionedValue{
				Value:          value,
				Version:        version,
				TimestampMicro: ts,
				ExpiryMicro:    expiry,
			},
		})
	}
	return out, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendI64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}
