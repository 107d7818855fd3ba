package wal

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"strata/pkg/strataerr"
)

// ListSegments returns the segment numbers present under dir, ascending,
// parsed from `wal-NNNNNN.seg` filenames. Missing or malformed entries are
// skipped rather than treated as fatal, since the directory may also hold
// `.meta` sidecars and stray `.tmp` files.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, strataerr.IO("wal.ListSegments", err)
	}
	var nums []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".seg") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".seg")
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

// ReadSegment reads every complete record from segment segmentNumber under
// dir, in file order. A torn tail (an incomplete record at EOF) and a
// mid-segment CRC or framing failure are both treated as a torn write:
// iteration stops and the records decoded so far are returned with no
// error. Either one is the ordinary signature of a crash mid-append, not
// a reason to fail the whole database open — a flipped bit never
// invalidates records that decoded cleanly before it.
func ReadSegment(dir string, segmentNumber uint64) ([]Record, error) {
	records, _, err := readSegment(dir, segmentNumber)
	return records, err
}

// readSegment is ReadSegment plus a torn flag: true if iteration stopped
// before reaching the end of the file (short read or CRC/framing
// failure), which tells ReadAll that any later segment is suspect too and
// should not be trusted, since segments are written in strict order.
func readSegment(dir string, segmentNumber uint64) ([]Record, bool, error) {
	data, err := os.ReadFile(SegmentPath(dir, segmentNumber))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, strataerr.IO("wal.ReadSegment", err)
	}

	var records []Record
	offset := 0
	for offset < len(data) {
		rec, n, err := decodeRecord(data[offset:])
		if err != nil {
			if IsShortRead(err) || strataerr.Is(err, strataerr.KindCorruption) {
				return records, true, nil
			}
			return records, false, err
		}
		records = append(records, rec)
		offset += n
	}
	return records, false, nil
}

// ReadAll reads every record from every segment under dir, in ascending
// segment and file order — the full durable record stream recovery
// replays against the MVCC store. If a segment's tail turns out to be
// torn (truncated or corrupted), reading stops there: any segment
// written after it is ignored too, since segments are appended to in
// strict sequence and nothing past a torn write can be trusted as
// complete.
func ReadAll(dir string) ([]Record, error) {
	segments, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}
	var all []Record
	for _, seg := range segments {
		recs, torn, err := readSegment(dir, seg)
		if err != nil {
			return all, err
		}
		all = append(all, recs...)
		if torn {
			break
		}
	}
	return all, nil
}
