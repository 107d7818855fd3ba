package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"strata/pkg/strataerr"
	"strata/pkg/types"
)

// EntryType tags a WAL record. The byte space is split into reserved
// 16-value ranges per primitive so a new primitive can claim a range
// without colliding with another's entry types.
type EntryType byte

const (
	// Transaction control, 0x00-0x0F.
	EntryBeginTxn        EntryType = 0x00
	EntryCommitTxn       EntryType = 0x01
	EntryAbortTxn        EntryType = 0x02
	EntrySnapshotMarker  EntryType = 0x03

	// KV, 0x10-0x1F.
	EntryKVPut    EntryType = 0x10
	EntryKVDelete EntryType = 0x11

	// JSON, 0x20-0x2F.
	EntryJSONPut    EntryType = 0x20
	EntryJSONDelete EntryType = 0x21

	// Event, 0x30-0x3F.
	EntryEventAppend EntryType = 0x30

	// State, 0x40-0x4F.
	EntryStatePut    EntryType = 0x40
	EntryStateDelete EntryType = 0x41

	// Run, 0x60-0x6F.
	EntryRunUpsert EntryType = 0x60
	EntryRunDelete EntryType = 0x61

	// Vector, 0x70-0x7F.
	EntryVectorUpsert       EntryType = 0x70
	EntryVectorDelete       EntryType = 0x71
	EntryVectorConfigCreate EntryType = 0x72
)

// EntryTypeForTag returns the write/delete entry type pair a primitive
// keyed by tag uses for ordinary data records. Event has no delete entry
// since the event log is append-only.
func EntryTypeForTag(tag types.TypeTag) (write, del EntryType, ok bool) {
	switch tag {
	case types.TagKV:
		return EntryKVPut, EntryKVDelete, true
	case types.TagJSON:
		return EntryJSONPut, EntryJSONDelete, true
	case types.TagEvent:
		return EntryEventAppend, 0, true
	case types.TagState:
		return EntryStatePut, EntryStateDelete, true
	case types.TagRun:
		return EntryRunUpsert, EntryRunDelete, true
	case types.TagVector:
		return EntryVectorUpsert, EntryVectorDelete, true
	case types.TagVectorConfig:
		return EntryVectorConfigCreate, 0, true
	default:
		return 0, 0, false
	}
}

// Record is one decoded WAL entry: framing fields common to every entry
// type plus an opaque, entry-type-specific payload.
type Record struct {
	Type           EntryType
	TxnID          uint64
	Run            types.RunID
	TimestampMicro uint64
	Payload        []byte
}

// recordFixedSize is the size, in bytes, of every field in a Record's
// on-disk framing except the payload: type(1) + txn_id(8) + run_id(16) +
// timestamp(8).
const recordFixedSize = 1 + 8 + 16 + 8

// encodeRecord serializes r into the on-disk record framing: a u32
// length prefix covering everything that follows it, the fixed fields,
// the payload, and a trailing CRC32 over everything after the length
// prefix.
func encodeRecord(r Record) []byte {
	body := make([]byte, 0, recordFixedSize+len(r.Payload))
	body = append(body, byte(r.Type))
	body = appendU64(body, r.TxnID)
	runBytes := r.Run.Bytes()
	body = append(body, runBytes[:]...)
	body = appendU64(body, r.TimestampMicro)
	body = append(body, r.Payload...)

	crc := crc32.ChecksumIEEE(body)

	out := make([]byte, 0, 4+len(body)+4)
	out = appendU32(out, uint32(len(body)+4))
	out = append(out, body...)
	out = appendU32(out, crc)
	return out
}

// decodeRecord parses one record starting at the front of data (which must
// begin with the u32 length prefix), returning the Record and the number
// of bytes consumed including the length prefix and CRC trailer.
func decodeRecord(data []byte) (Record, int, error) {
	if len(data) < 4 {
		return Record{}, 0, errShortRead
	}
	bodyAndCRCLen := binary.LittleEndian.Uint32(data[0:4])
	total := 4 + int(bodyAndCRCLen)
	if len(data) < total {
		return Record{}, 0, errShortRead
	}
	if bodyAndCRCLen < 4+recordFixedSize {
		return Record{}, 0, strataerr.Corruption("wal.decodeRecord", fmt.Errorf("record too short"))
	}

	body := data[4 : total-4]
	storedCRC := binary.LittleEndian.Uint32(data[total-4 : total])
	computedCRC := crc32.ChecksumIEEE(body)
	if storedCRC != computedCRC {
		return Record{}, 0, strataerr.Corruption("wal.decodeRecord", fmt.Errorf("crc mismatch"))
	}

	entryType := EntryType(body[0])
	txnID := binary.LittleEndian.Uint64(body[1:9])
	var runBytes [16]byte
	copy(runBytes[:], body[9:25])
	run := types.RunIDFromBytes(runBytes)
	ts := binary.LittleEndian.Uint64(body[25:33])
	payload := append([]byte(nil), body[33:]...)

	return Record{
		Type:           entryType,
		TxnID:          txnID,
		Run:            run,
		TimestampMicro: ts,
		Payload:        payload,
	}, total, nil
}

// errShortRead signals that data does not yet contain a complete record —
// either the segment is still being appended to, or its tail was torn by a
// crash mid-write. Recovery treats this as the end of usable records in
// the segment, not as corruption.
var errShortRead = fmt.Errorf("wal: incomplete record at tail")

// IsShortRead reports whether err indicates a torn tail rather than a
// genuine corruption (bad CRC, bad framing).
func IsShortRead(err error) bool {
	return err == errShortRead
}

// encodeKeyValuePayload is the payload shape for Put-style data entries:
// the key's encoded bytes, length-prefixed, followed by the encoded Value
// and the assigned commit Version.
func encodeKeyValuePayload(key types.Key, value types.Value, version types.Version) []byte {
	keyBytes := key.Encode()
	var buf []byte
	buf = appendU32(buf, uint32(len(keyBytes)))
	buf = append(buf, keyBytes...)
	buf = types.EncodeValue(buf, value)
	buf = types.EncodeVersion(buf, version)
	return buf
}

// DecodedWrite is a parsed KV/JSON/State/Vector-style write payload.
type DecodedWrite struct {
	KeyBytes []byte
	Value    types.Value
	Version  types.Version
}

// DecodeKeyValuePayload reverses encodeKeyValuePayload, used by recovery
// and primitives to interpret a replayed write-style WAL record.
func DecodeKeyValuePayload(payload []byte) (DecodedWrite, error) {
	if len(payload) < 4 {
		return DecodedWrite{}, strataerr.Corruption("wal.DecodeKeyValuePayload", fmt.Errorf("truncated"))
	}
	keyLen := binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4:]
	if uint32(len(rest)) < keyLen {
		return DecodedWrite{}, strataerr.Corruption("wal.DecodeKeyValuePayload", fmt.Errorf("truncated key"))
	}
	keyBytes := rest[:keyLen]
	rest = rest[keyLen:]

	value, rest, err := types.DecodeValue(rest)
	if err != nil {
		return DecodedWrite{}, strataerr.Corruption("wal.DecodeKeyValuePayload", err)
	}
	version, _, err := types.DecodeVersion(rest)
	if err != nil {
		return DecodedWrite{}, strataerr.Corruption("wal.DecodeKeyValuePayload", err)
	}
	return DecodedWrite{KeyBytes: keyBytes, Value: value, Version: version}, nil
}

// encodeKeyPayload is the payload shape for Delete-style entries: just the
// key's encoded bytes plus the tombstone's assigned version.
func encodeKeyPayload(key types.Key, version types.Version) []byte {
	keyBytes := key.Encode()
	var buf []byte
	buf = appendU32(buf, uint32(len(keyBytes)))
	buf = append(buf, keyBytes...)
	buf = types.EncodeVersion(buf, version)
	return buf
}

// DecodedDelete is a parsed delete-style payload.
type DecodedDelete struct {
	KeyBytes []byte
	Version  types.Version
}

// DecodeKeyPayload reverses encodeKeyPayload, used by recovery and
// primitives to interpret a replayed delete-style WAL record.
func DecodeKeyPayload(payload []byte) (DecodedDelete, error) {
	if len(payload) < 4 {
		return DecodedDelete{}, strataerr.Corruption("wal.DecodeKeyPayload", fmt.Errorf("truncated"))
	}
	keyLen := binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4:]
	if uint32(len(rest)) < keyLen {
		return DecodedDelete{}, strataerr.Corruption("wal.DecodeKeyPayload", fmt.Errorf("truncated key"))
	}
	keyBytes := rest[:keyLen]
	rest = rest[keyLen:]
	version, _, err := types.DecodeVersion(rest)
	if err != nil {
		return DecodedDelete{}, strataerr.Corruption("wal.DecodeKeyPayload", err)
	}
	return DecodedDelete{KeyBytes: keyBytes, Version: version}, nil
}
