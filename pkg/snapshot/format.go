// Package snapshot implements the binary snapshot file format and
// watermark persistence (C6): a crash-safe write-temp, fsync, rename
// writer, a validating reader, and per-primitive section framing shared
// across the primitive registry (C8).
package snapshot

import (
	"encoding/binary"
	"fmt"

	"strata/pkg/strataerr"
)

// Magic identifies a snapshot file.
var Magic = [4]byte{'S', 'N', 'A', 'P'}

const (
	// FormatVersion is the current snapshot format version.
	FormatVersion uint32 = 1
	// HeaderSize is the fixed on-disk size of a Header.
	HeaderSize = 64
	// SectionHeaderSize is the fixed on-disk size of a SectionHeader.
	SectionHeaderSize = 9
)

// Header is the 64-byte snapshot file header.
type Header struct {
	FormatVersion uint32
	SnapshotID    uint64
	WatermarkTxn  uint64
	CreatedAt     uint64 // microseconds since epoch
	DatabaseUUID  [16]byte
	CodecIDLen    uint8
	// Reserved occupies the remaining 15 bytes of the fixed header for
	// forward-compatible extension without a format bump.
	Reserved [15]byte
}

func (h Header) toBytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, Magic[:]...)
	buf = appendU32(buf, h.FormatVersion)
	buf = appendU64(buf, h.SnapshotID)
	buf = appendU64(buf, h.WatermarkTxn)
	buf = appendU64(buf, h.CreatedAt)
	buf = append(buf, h.DatabaseUUID[:]...)
	buf = append(buf, h.CodecIDLen)
	buf = append(buf, h.Reserved[:]...)
	return buf
}

func headerFromBytes(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, strataerr.Corruption("snapshot.headerFromBytes", fmt.Errorf("short header"))
	}
	if string(data[0:4]) != string(Magic[:]) {
		return Header{}, strataerr.Corruption("snapshot.headerFromBytes", fmt.Errorf("bad magic"))
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version > FormatVersion {
		return Header{}, strataerr.Corruption("snapshot.headerFromBytes", fmt.Errorf("unsupported snapshot version %d", version))
	}
	var h Header
	h.FormatVersion = version
	h.SnapshotID = binary.LittleEndian.Uint64(data[8:16])
	h.WatermarkTxn = binary.LittleEndian.Uint64(data[16:24])
	h.CreatedAt = binary.LittleEndian.Uint64(data[24:32])
	copy(h.DatabaseUUID[:], data[32:48])
	h.CodecIDLen = data[48]
	copy(h.Reserved[:], data[49:64])
	return h, nil
}

// SectionHeader precedes each primitive's serialized section within a
// snapshot file.
type SectionHeader struct {
	PrimitiveType uint8
	DataLen       uint64
}

func (sh SectionHeader) toBytes() []byte {
	buf := make([]byte, 0, SectionHeaderSize)
	buf = append(buf, sh.PrimitiveType)
	buf = appendU64(buf, sh.DataLen)
	return buf
}

func sectionHeaderFromBytes(data []byte) (SectionHeader, error) {
	if len(data) < SectionHeaderSize {
		return SectionHeader{}, strataerr.Corruption("snapshot.sectionHeaderFromBytes", fmt.Errorf("short section header"))
	}
	return SectionHeader{
		PrimitiveType: data[0],
		DataLen:       binary.LittleEndian.Uint64(data[1:9]),
	}, nil
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
