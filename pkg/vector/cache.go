package vector

import (
	"encoding/binary"
	"errors"
	"math"
	"os"

	"strata/pkg/pager"
)

// errCacheMissing signals the cache file doesn't exist yet — a cold
// collection, not corruption.
var errCacheMissing = errors.New("vector: cache file does not exist")

// ErrCacheInvalid signals a cache file that exists but doesn't parse, or
// whose header doesn't match the collection it's being loaded for. Both
// conditions fall back to rebuilding the heap from the canonical store.
var ErrCacheInvalid = errors.New("vector: cache file is invalid or stale")

const (
	cacheMagic         = "SVEC"
	cacheFormatVersion = uint32(1)
	cacheHeaderSize    = 4 + 4 + 4 + 8 + 8 // magic, version, dimension, live count, next id
)

// saveCache seals h to path in the "SVEC" format: magic, version,
// dimension, live count, next id, the live id->slot pairs, the free slot
// list, then the raw f32 backing array. Every byte here is
// reconstructable from the canonical MVCC-stored vectors, so a failure
// writing this file is never fatal to the collection it caches.
func saveCache(path string, h *heap) error {
	h.mu.RLock()
	liveCount := uint64(len(h.idToOff))
	freeCount := uint64(len(h.freeSlots))
	slots := 0
	if h.dim > 0 {
		slots = len(h.data) / h.dim
	}
	size := cacheHeaderSize + int(liveCount)*16 + 8 + int(freeCount)*8 + slots*h.dim*4

	buf := make([]byte, size)
	off := 0
	copy(buf[off:], cacheMagic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], cacheFormatVersion)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.dim))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], liveCount)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.nextID)
	off += 8
	for id, slot := range h.idToOff {
		binary.LittleEndian.PutUint64(buf[off:], id)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], uint64(slot))
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], freeCount)
	off += 8
	for _, slot := range h.freeSlots {
		binary.LittleEndian.PutUint64(buf[off:], uint64(slot))
		off += 8
	}
	for _, v := range h.data {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	h.mu.RUnlock()

	if size == 0 {
		// OpenMmapFile refuses to map an empty file. size always includes
		// the header and free-list count, so even an empty heap is cached.
		_ = os.Remove(path)
		return nil
	}

	_ = os.Remove(path)
	mf, err := pager.OpenMmapFile(path, int64(size))
	if err != nil {
		return err
	}
	defer mf.Close()
	copy(mf.Slice(0, size), buf)
	return mf.Sync()
}

// loadCache reconstructs a heap from a cache file previously written by
// saveCache, verifying its header matches dim before trusting its
// contents.
func loadCache(path string, dim int) (*heap, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errCacheMissing
	}
	mf, err := pager.OpenMmapFile(path, 0)
	if err != nil {
		return nil, ErrCacheInvalid
	}
	defer mf.Close()

	size := int(mf.Size())
	if size < cacheHeaderSize {
		return nil, ErrCacheInvalid
	}
	buf := mf.Slice(0, size)
	if string(buf[0:4]) != cacheMagic {
		return nil, ErrCacheInvalid
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	fileDim := int(binary.LittleEndian.Uint32(buf[8:12]))
	if version != cacheFormatVersion || fileDim != dim {
		return nil, ErrCacheInvalid
	}
	liveCount := binary.LittleEndian.Uint64(buf[12:20])
	nextID := binary.LittleEndian.Uint64(buf[20:28])
	off := cacheHeaderSize

	idToOff := make(map[uint64]int, liveCount)
	for i := uint64(0); i < liveCount; i++ {
		if off+16 > size {
			return nil, ErrCacheInvalid
		}
		id := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		slot := int(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		idToOff[id] = slot
	}

	if off+8 > size {
		return nil, ErrCacheInvalid
	}
	freeCount := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	freeSlots := make([]int, 0, freeCount)
	for i := uint64(0); i < freeCount; i++ {
		if off+8 > size {
			return nil, ErrCacheInvalid
		}
		freeSlots = append(freeSlots, int(binary.LittleEndian.Uint64(buf[off:])))
		off += 8
	}

	totalSlots := int(liveCount + freeCount)
	dataLen := totalSlots * dim
	if off+dataLen*4 > size {
		return nil, ErrCacheInvalid
	}
	data := make([]float32, dataLen)
	for i := 0; i < dataLen; i++ {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}

	return &heap{
		dim:       dim,
		data:      data,
		idToOff:   idToOff,
		freeSlots: freeSlots,
		nextID:    nextID,
	}, nil
}
