package snapshot

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"strata/pkg/strataerr"
	"strata/pkg/types"
)

// Section is one primitive's serialized contribution to a snapshot.
type Section struct {
	PrimitiveType uint8
	Data          []byte
}

// Info describes a successfully written snapshot file.
type Info struct {
	SnapshotID   uint64
	WatermarkTxn uint64
	CreatedAt    uint64
	Path         string
}

// Writer creates snapshot files under a fixed directory.
type Writer struct {
	dir          string
	databaseUUID [16]byte
}

// NewWriter returns a Writer rooted at dir. databaseUUID is stamped into
// every snapshot header so a reader can confirm a snapshot belongs to
// this database.
func NewWriter(dir string, databaseUUID [16]byte) *Writer {
	return &Writer{dir: dir, databaseUUID: databaseUUID}
}

// FileName returns the canonical name for a snapshot identified by id.
func FileName(id uint64) string {
	return fmt.Sprintf("snap-%06d.chk", id)
}

func tempFileName(id uint64) string {
	return fmt.Sprintf(".snap-%06d.tmp", id)
}

// Path returns the full path of the sealed snapshot file for id.
func (w *Writer) Path(id uint64) string {
	return filepath.Join(w.dir, FileName(id))
}

// Create writes a new snapshot file atomically: the body (header +
// sections + footer CRC32) is written to a temp file, fsynced, renamed
// into place, and the parent directory is fsynced so the rename itself
// is durable.
func (w *Writer) Create(snapshotID, watermarkTxn, createdAt uint64, sections []Section) (Info, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Info{}, strataerr.IO("snapshot.Create", err)
	}

	body := make([]byte, 0, HeaderSize+4096)
	header := Header{
		FormatVersion: FormatVersion,
		SnapshotID:    snapshotID,
		WatermarkTxn:  watermarkTxn,
		CreatedAt:     createdAt,
		DatabaseUUID:  w.databaseUUID,
	}
	body = append(body, header.toBytes()...)
	for _, s := range sections {
		sh := SectionHeader{PrimitiveType: s.PrimitiveType, DataLen: uint64(len(s.Data))}
		body = append(body, sh.toBytes()...)
		body = append(body, s.Data...)
	}

	footer := crc32.ChecksumIEEE(body)
	body = appendU32(body, footer)

	tempPath := filepath.Join(w.dir, tempFileName(snapshotID))
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Info{}, strataerr.IO("snapshot.Create", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(tempPath)
		return Info{}, strataerr.IO("snapshot.Create", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return Info{}, strataerr.IO("snapshot.Create", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return Info{}, strataerr.IO("snapshot.Create", err)
	}

	finalPath := w.Path(snapshotID)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return Info{}, strataerr.IO("snapshot.Create", err)
	}
	if err := fsyncDir(w.dir); err != nil {
		return Info{}, strataerr.IO("snapshot.Create", err)
	}

	return Info{SnapshotID: snapshotID, WatermarkTxn: watermarkTxn, CreatedAt: createdAt, Path: finalPath}, nil
}

// CleanupTempFiles removes leftover `.snap-NNNNNN.tmp` files from a crash
// that occurred mid-write, before the rename to the final name completed.
// Never fatal: a missing directory is not an error.
func (w *Writer) CleanupTempFiles() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return strataerr.IO("snapshot.CleanupTempFiles", err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".snap-") && strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
				return strataerr.IO("snapshot.CleanupTempFiles", err)
			}
		}
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// RunIDToUUID turns a RunID into the fixed-size array the header stores.
// Kept here (rather than in pkg/types) since only the snapshot header
// needs a RunID coerced into a raw 16-byte database identifier slot.
func RunIDToUUID(id types.RunID) [16]byte {
	return id.Bytes()
}
