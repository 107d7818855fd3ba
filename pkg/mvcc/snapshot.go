package mvcc

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/btree"

	"strata/pkg/types"
)

// cloneHandle wraps a cloned per-shard btree so SnapshotView never touches
// the live shard's lock again after creation.
type cloneHandle struct {
	tree *btree.BTree
}

// SnapshotView is an immutable, point-in-time view of the store bound to
// the version that was current when it was created (§4.2). It is built
// from google/btree's O(1) Clone, so the live store's later writes never
// mutate it: each modified node is copied on first write after the clone,
// the unmodified majority stays structure-shared.
type SnapshotView struct {
	version uint64
	shards  []cloneHandle
}

// Version returns the commit version this view is pinned to.
func (sv *SnapshotView) Version() uint64 {
	return sv.version
}

// Get returns the live value for key as it stood when the snapshot was
// taken.
func (sv *SnapshotView) Get(key types.Key) (types.VersionedValue, bool) {
	idx := sv.shardIndex(key.Namespace)
	found := sv.shards[idx].tree.Get(&item{encodedKey: key.Encode()})
	if found == nil {
		return types.VersionedValue{}, false
	}
	stored := found.(*item).value
	if stored.IsTombstone() || stored.ExpiredAt(time.Now().UnixMicro()) {
		return types.VersionedValue{}, false
	}
	return stored.VersionedValue, true
}

// shardIndex recomputes the same fnv32a hash Store.shardFor uses, so a
// SnapshotView stays consistent with the shard layout it was cloned from
// without needing to retain the Store's shardCount field separately.
func (sv *SnapshotView) shardIndex(ns types.Namespace) uint32 {
	return fnv32a(ns.Encode()) % uint32(len(sv.shards))
}

// ScanPrefix mirrors Store.ScanPrefix but reads only from the cloned
// shards, so results never reflect writes made after the snapshot.
func (sv *SnapshotView) ScanPrefix(prefix []byte) []ScanResult {
	var out []ScanResult
	now := time.Now().UnixMicro()
	pivot := &item{encodedKey: prefix}
	for _, sh := range sv.shards {
		sh.tree.AscendGreaterOrEqual(pivot, func(bi btree.Item) bool {
			it := bi.(*item)
			if !bytes.HasPrefix(it.encodedKey, prefix) {
				return false
			}
			if !it.value.IsTombstone() && !it.value.ExpiredAt(now) {
				out = append(out, ScanResult{Key: it.key, Value: it.value.VersionedValue})
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Compare(out[j].Key) < 0
	})
	return out
}

func fnv32a(data []byte) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, b := range data {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}
