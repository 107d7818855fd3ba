// Package wal implements the segmented write-ahead log (C5): framed,
// CRC32-protected records grouped into rotating segment files, each with a
// small sidecar metadata file enabling O(1) time-range and txn-id coverage
// checks without reading the segment body.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"strata/pkg/strataerr"
)

// segmentMetaMagic identifies a .meta sidecar file.
var segmentMetaMagic = [4]byte{'S', 'T', 'A', 'M'}

const (
	segmentMetaVersion = 1
	// SegmentMetaSize is the fixed on-disk size of a sidecar .meta file:
	// magic(4) + version(4) + segment_number(8) + min_ts(8) + max_ts(8) +
	// min_txn_id(8) + max_txn_id(8) + record_count(8) + crc32(4) = 60.
	SegmentMetaSize = 60
)

// SegmentMeta tracks the min/max timestamp, min/max txn_id, and record
// count observed within one sealed segment. It is a cache written by the
// WAL writer; recovery does not read it, and a missing or corrupt .meta
// file is not regenerated.
type SegmentMeta struct {
	SegmentNumber uint64
	MinTimestamp  uint64 // microseconds since epoch; math.MaxUint64 when empty
	MaxTimestamp  uint64
	MinTxnID      uint64 // math.MaxUint64 when empty
	MaxTxnID      uint64
	RecordCount   uint64
}

// NewEmptySegmentMeta returns a SegmentMeta ready to accumulate records via
// Track, with mins set to their sentinel "nothing seen yet" maximum value.
func NewEmptySegmentMeta(segmentNumber uint64) SegmentMeta {
	return SegmentMeta{
		SegmentNumber: segmentNumber,
		MinTimestamp:  ^uint64(0),
		MinTxnID:      ^uint64(0),
	}
}

// Track folds one record's txn_id and timestamp into the running min/max.
func (m *SegmentMeta) Track(txnID uint64, timestampMicro uint64) {
	if timestampMicro < m.MinTimestamp {
		m.MinTimestamp = timestampMicro
	}
	if timestampMicro > m.MaxTimestamp {
		m.MaxTimestamp = timestampMicro
	}
	if txnID < m.MinTxnID {
		m.MinTxnID = txnID
	}
	if txnID > m.MaxTxnID {
		m.MaxTxnID = txnID
	}
	m.RecordCount++
}

// IsEmpty reports whether no record has been tracked yet.
func (m SegmentMeta) IsEmpty() bool {
	return m.RecordCount == 0
}

// MetaPath returns the sidecar path for segmentNumber under dir.
func MetaPath(dir string, segmentNumber uint64) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%06d.meta", segmentNumber))
}

// SegmentPath returns the segment file path for segmentNumber under dir.
func SegmentPath(dir string, segmentNumber uint64) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%06d.seg", segmentNumber))
}

func (m SegmentMeta) toBytes() []byte {
	buf := make([]byte, 0, SegmentMetaSize)
	buf = append(buf, segmentMetaMagic[:]...)
	buf = appendU32(buf, segmentMetaVersion)
	buf = appendU64(buf, m.SegmentNumber)
	buf = appendU64(buf, m.MinTimestamp)
	buf = appendU64(buf, m.MaxTimestamp)
	buf = appendU64(buf, m.MinTxnID)
	buf = appendU64(buf, m.MaxTxnID)
	buf = appendU64(buf, m.RecordCount)
	crc := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, crc)
	return buf
}

func segmentMetaFromBytes(data []byte) (SegmentMeta, error) {
	if len(data) < SegmentMetaSize {
		return SegmentMeta{}, strataerr.Corruption("wal.segmentMetaFromBytes",
			fmt.Errorf("short meta: want %d bytes, got %d", SegmentMetaSize, len(data)))
	}
	if string(data[0:4]) != string(segmentMetaMagic[:]) {
		return SegmentMeta{}, strataerr.Corruption("wal.segmentMetaFromBytes", fmt.Errorf("bad magic"))
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != segmentMetaVersion {
		return SegmentMeta{}, strataerr.Corruption("wal.segmentMetaFromBytes", fmt.Errorf("unsupported meta version %d", version))
	}
	crcOffset := SegmentMetaSize - 4
	storedCRC := binary.LittleEndian.Uint32(data[crcOffset:SegmentMetaSize])
	computedCRC := crc32.ChecksumIEEE(data[:crcOffset])
	if storedCRC != computedCRC {
		return SegmentMeta{}, strataerr.Corruption("wal.segmentMetaFromBytes", fmt.Errorf("checksum mismatch"))
	}
	return SegmentMeta{
		SegmentNumber: binary.LittleEndian.Uint64(data[8:16]),
		MinTimestamp:  binary.LittleEndian.Uint64(data[16:24]),
		MaxTimestamp:  binary.LittleEndian.Uint64(data[24:32]),
		MinTxnID:      binary.LittleEndian.Uint64(data[32:40]),
		MaxTxnID:      binary.LittleEndian.Uint64(data[40:48]),
		RecordCount:   binary.LittleEndian.Uint64(data[48:56]),
	}, nil
}

// WriteToFile persists m to its .meta sidecar under dir using the
// write-temp, fsync, rename pattern so a crash never leaves a partially
// written sidecar visible under its final name.
func (m SegmentMeta) WriteToFile(dir string) error {
	finalPath := MetaPath(dir, m.SegmentNumber)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, m.toBytes(), 0o644); err != nil {
		return strataerr.IO("wal.SegmentMeta.WriteToFile", err)
	}
	f, err := os.OpenFile(tempPath, os.O_RDWR, 0o644)
	if err != nil {
		return strataerr.IO("wal.SegmentMeta.WriteToFile", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return strataerr.IO("wal.SegmentMeta.WriteToFile", err)
	}
	f.Close()

	if err := os.Rename(tempPath, finalPath); err != nil {
		return strataerr.IO("wal.SegmentMeta.WriteToFile", err)
	}
	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		dirf.Close()
	}
	return nil
}

// ReadMetaFromFile loads the .meta sidecar for segmentNumber under dir. A
// missing file returns (SegmentMeta{}, false, nil); this function does not
// rebuild it from the segment.
func ReadMetaFromFile(dir string, segmentNumber uint64) (SegmentMeta, bool, error) {
	data, err := os.ReadFile(MetaPath(dir, segmentNumber))
	if os.IsNotExist(err) {
		return SegmentMeta{}, false, nil
	}
	if err != nil {
		return SegmentMeta{}, false, strataerr.IO("wal.ReadMetaFromFile", err)
	}
	meta, err := segmentMetaFromBytes(data)
	if err != nil {
		return SegmentMeta{}, false, err
	}
	return meta, true, nil
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
