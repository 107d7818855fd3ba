package snapshot

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"strata/pkg/strataerr"
)

// Snapshot is a fully parsed snapshot file: header plus its sections, in
// the order they were written.
type Snapshot struct {
	Header   Header
	Sections []Section
}

var snapshotNamePattern = regexp.MustCompile(`^snap-(\d{6})\.chk$`)

// ListSnapshots returns the ids of every sealed snapshot file under dir,
// sorted ascending.
func ListSnapshots(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, strataerr.IO("snapshot.ListSnapshots", err)
	}
	var ids []uint64
	for _, e := range entries {
		m := snapshotNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Latest returns the id of the most recent sealed snapshot, or ok=false
// if none exist.
func Latest(dir string) (id uint64, ok bool, err error) {
	ids, err := ListSnapshots(dir)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[len(ids)-1], true, nil
}

// Load reads and validates the snapshot file identified by id under dir.
func Load(dir string, id uint64) (Snapshot, error) {
	path := filepath.Join(dir, FileName(id))
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, strataerr.IO("snapshot.Load", err)
	}
	return Parse(data)
}

// LoadLatestValid walks the sealed snapshots under dir from newest to
// oldest and returns the first one that loads and parses cleanly. A
// snapshot that fails to load (footer CRC mismatch, truncated header,
// truncated section, or any other read/parse failure) is skipped rather
// than treated as fatal: an older snapshot, or empty state plus a full
// WAL replay, is always a valid fallback. ok is false only when no
// snapshot under dir loads at all, including when none exist.
func LoadLatestValid(dir string) (snap Snapshot, id uint64, ok bool, err error) {
	ids, err := ListSnapshots(dir)
	if err != nil {
		return Snapshot{}, 0, false, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		candidate := ids[i]
		loaded, loadErr := Load(dir, candidate)
		if loadErr != nil {
			continue
		}
		return loaded, candidate, true, nil
	}
	return Snapshot{}, 0, false, nil
}

// Parse validates and decodes a full snapshot file body (including the
// trailing footer CRC32).
func Parse(data []byte) (Snapshot, error) {
	if len(data) < HeaderSize+4 {
		return Snapshot{}, strataerr.Corruption("snapshot.Parse", fmt.Errorf("file too short"))
	}

	body, footerBytes := data[:len(data)-4], data[len(data)-4:]
	wantCRC := uint32(footerBytes[0]) | uint32(footerBytes[1])<<8 | uint32(footerBytes[2])<<16 | uint32(footerBytes[3])<<24
	gotCRC := crc32.ChecksumIEEE(body)
	if wantCRC != gotCRC {
		return Snapshot{}, strataerr.Corruption("snapshot.Parse", fmt.Errorf("footer checksum mismatch"))
	}

	header, err := headerFromBytes(body)
	if err != nil {
		return Snapshot{}, err
	}

	var sections []Section
	offset := HeaderSize
	for offset < len(body) {
		if offset+SectionHeaderSize > len(body) {
			return Snapshot{}, strataerr.Corruption("snapshot.Parse", fmt.Errorf("truncated section header"))
		}
		sh, err := sectionHeaderFromBytes(body[offset : offset+SectionHeaderSize])
		if err != nil {
			return Snapshot{}, err
		}
		offset += SectionHeaderSize
		if offset+int(sh.DataLen) > len(body) {
			return Snapshot{}, strataerr.Corruption("snapshot.Parse", fmt.Errorf("truncated section data"))
		}
		sectionData := make([]byte, sh.DataLen)
		copy(sectionData, body[offset:offset+int(sh.DataLen)])
		sections = append(sections, Section{PrimitiveType: sh.PrimitiveType, Data: sectionData})
		offset += int(sh.DataLen)
	}

	return Snapshot{Header: header, Sections: sections}, nil
}
