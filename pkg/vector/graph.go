package vector

import (
	"encoding/binary"
	"errors"
	"os"
)

// errGraphMissing signals the sealed graph file doesn't exist yet.
var errGraphMissing = errors.New("vector: graph file does not exist")

// ErrGraphInvalid signals a graph file that exists but doesn't parse.
// Like ErrCacheInvalid, this falls back to rebuilding — here, by
// reinserting every vector in the collection's heap into a fresh index.
var ErrGraphInvalid = errors.New("vector: graph file is invalid or stale")

const (
	graphMagic   = "SHGR"
	graphVersion = uint32(1)
)

// saveGraph seals idx's node graph to path. Unlike the vector heap cache
// this is written once per flush and read whole, so it uses plain file
// I/O rather than mmap.
func saveGraph(path string, idx *hnswIndex) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var buf []byte
	buf = append(buf, graphMagic...)
	buf = appendU32(buf, graphVersion)
	buf = appendU64(buf, idx.entryPoint)
	buf = appendU32(buf, uint32(idx.maxLevel))
	buf = appendU64(buf, uint64(len(idx.nodes)))
	for id, node := range idx.nodes {
		buf = appendU64(buf, id)
		buf = appendU32(buf, uint32(node.level))
		for l := 0; l <= node.level; l++ {
			ns := node.Neighbors(l)
			buf = appendU32(buf, uint32(len(ns)))
			for _, nid := range ns {
				buf = appendU64(buf, nid)
			}
		}
	}
	return os.WriteFile(path, buf, 0o644)
}

// loadGraph restores a node graph previously sealed by saveGraph into a
// fresh hnswIndex bound to heap h.
func loadGraph(path string, cfg Config, h *heap) (*hnswIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errGraphMissing
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrGraphInvalid
	}
	if len(data) < 4+4+8+4+8 || string(data[0:4]) != graphMagic {
		return nil, ErrGraphInvalid
	}
	off := 4
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != graphVersion {
		return nil, ErrGraphInvalid
	}
	entryPoint := binary.LittleEndian.Uint64(data[off:])
	off += 8
	maxLevel := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	nodeCount := binary.LittleEndian.Uint64(data[off:])
	off += 8

	idx := newHNSWIndex(cfg, h)
	idx.entryPoint = entryPoint
	idx.maxLevel = maxLevel

	for i := uint64(0); i < nodeCount; i++ {
		if off+12 > len(data) {
			return nil, ErrGraphInvalid
		}
		id := binary.LittleEndian.Uint64(data[off:])
		off += 8
		level := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		node := newHNSWNode(id, level)
		for l := 0; l <= level; l++ {
			if off+4 > len(data) {
				return nil, ErrGraphInvalid
			}
			count := binary.LittleEndian.Uint32(data[off:])
			off += 4
			neighbors := make([]uint64, count)
			for j := uint32(0); j < count; j++ {
				if off+8 > len(data) {
					return nil, ErrGraphInvalid
				}
				neighbors[j] = binary.LittleEndian.Uint64(data[off:])
				off += 8
			}
			node.SetNeighbors(l, neighbors)
		}
		idx.nodes[id] = node
	}
	return idx, nil
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
