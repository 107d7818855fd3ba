// Package mvcc implements the sharded, MVCC-versioned keyed store (C2):
// an in-memory ordered map from Key to StoredValue split across N shards,
// each individually synchronized, plus the snapshot views (C2 read side)
// transactions read through.
package mvcc

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"strata/pkg/types"
)

// Store is the sharded MVCC store. Namespaces are hashed to a shard, so
// all keys of one namespace live in exactly one shard, and writers to
// namespaces that hash to different shards never contend on the same lock.
type Store struct {
	shards     []*shard
	shardCount uint32

	version atomic.Uint64 // current global version (highest installed)

	runsMu sync.RWMutex
	runs   map[types.RunID]struct{}
}

// NewStore creates a Store with shardCount shards. Any positive count
// works, since a namespace's shard is its hash modulo shardCount; a
// non-positive count is treated as 1.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	s := &Store{
		shardCount: uint32(shardCount),
		shards:     make([]*shard, shardCount),
		runs:       make(map[types.RunID]struct{}),
	}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s
}

func (s *Store) shardFor(ns types.Namespace) *shard {
	h := fnv.New32a()
	_, _ = h.Write(ns.Encode())
	return s.shards[h.Sum32()%s.shardCount]
}

// AllocateVersion returns a freshly allocated, strictly monotonic version
// number. The coordinator (C4) is the usual caller during commit; direct
// non-transactional callers (tests, the bare KV API) may call Put, which
// allocates internally.
func (s *Store) AllocateVersion() uint64 {
	return s.version.Add(1)
}

// bumpVersion advances the store's watermark to at least v, used when
// installing entries at an externally allocated commit version so
// CurrentVersion() never regresses.
func (s *Store) bumpVersion(v uint64) {
	for {
		cur := s.version.Load()
		if v <= cur {
			return
		}
		if s.version.CompareAndSwap(cur, v) {
			return
		}
	}
}

// CurrentVersion returns the highest version installed into the store so
// far.
func (s *Store) CurrentVersion() uint64 {
	return s.version.Load()
}

// SeedVersion advances the store's version watermark to at least v without
// installing any entry, used by the coordinator when recovery reports a
// final_version higher than anything replayed into the store directly.
func (s *Store) SeedVersion(v uint64) {
	s.bumpVersion(v)
}

// trackRun records that ns.Run has at least one key in the store.
func (s *Store) trackRun(run types.RunID) {
	s.runsMu.RLock()
	_, ok := s.runs[run]
	s.runsMu.RUnlock()
	if ok {
		return
	}
	s.runsMu.Lock()
	s.runs[run] = struct{}{}
	s.runsMu.Unlock()
}

// RunIDs returns the set of runs known to have had at least one key
// written, including runs whose keys have since been tombstoned (the
// run's lifecycle record, not its data, decides whether it still
// "exists" — see pkg/run).
func (s *Store) RunIDs() map[types.RunID]struct{} {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	out := make(map[types.RunID]struct{}, len(s.runs))
	for r := range s.runs {
		out[r] = struct{}{}
	}
	return out
}

// ForgetRun drops run from the tracked run-id set, used by cascading run
// deletion once every key under the run's namespace has been removed.
func (s *Store) ForgetRun(run types.RunID) {
	s.runsMu.Lock()
	delete(s.runs, run)
	s.runsMu.Unlock()
}

func nowMicro() int64 {
	return time.Now().UnixMicro()
}

// Get returns the current live value for key, or false if it is missing,
// tombstoned, or TTL-expired as of now.
func (s *Store) Get(key types.Key) (types.VersionedValue, bool) {
	sv, ok := s.shardFor(key.Namespace).get(key)
	if !ok {
		return types.VersionedValue{}, false
	}
	if sv.IsTombstone() || sv.ExpiredAt(nowMicro()) {
		return types.VersionedValue{}, false
	}
	return sv.VersionedValue, true
}

// GetRaw returns the stored value including tombstones, bypassing the
// liveness filter — used by the coordinator to validate read/CAS sets
// against the version actually on record (a tombstone's version still
// counts for OCC purposes).
func (s *Store) GetRaw(key types.Key) (types.StoredValue, bool) {
	return s.shardFor(key.Namespace).get(key)
}

// Put installs value at key with a freshly allocated version, returning
// that version. ttlMicro, if non-nil, is an absolute expiry timestamp in
// microseconds since epoch.
func (s *Store) Put(key types.Key, value types.Value, ttlMicro *int64) types.Version {
	v := s.AllocateVersion()
	version := types.TxnVersion(v)
	s.InstallAt(key, value, version, nowMicro(), ttlMicro)
	return version
}

// InstallAt installs value at key using an externally allocated version
// (the coordinator's commit path). It advances the store's version
// watermark so CurrentVersion() never regresses below an installed entry.
func (s *Store) InstallAt(key types.Key, value types.Value, version types.Version, tsMicro int64, ttlMicro *int64) {
	sv := types.StoredValue{VersionedValue: types.VersionedValue{
		Value:          value,
		Version:        version,
		TimestampMicro: tsMicro,
		ExpiryMicro:    ttlMicro,
	}}
	s.shardFor(key.Namespace).put(key, sv)
	if version.Kind == types.VersionTxn {
		s.bumpVersion(version.Value)
	}
	s.trackRun(key.Namespace.Run)
}

// Delete installs a tombstone at key, returning whether a live value
// existed beforehand.
func (s *Store) Delete(key types.Key) bool {
	_, hadLive := s.Get(key)
	s.Put(key, types.Null(), nil)
	return hadLive
}

// ScanResult is one (key, value) pair returned by ScanPrefix.
type ScanResult struct {
	Key   types.Key
	Value types.VersionedValue
}

// ScanPrefix returns every live (non-tombstoned, non-expired) entry whose
// key extends prefix, in ascending lexicographic order. Shards are
// visited in a fixed, deterministic order (shard index 0..N) and results
// from each shard are already individually ordered, so a simple
// concatenate-then-sort merges them into one globally sorted stream.
func (s *Store) ScanPrefix(prefix []byte) []ScanResult {
	now := nowMicro()
	var out []ScanResult
	for _, sh := range s.shards {
		sh.scanPrefix(prefix, func(k types.Key, sv types.StoredValue) bool {
			if !sv.IsTombstone() && !sv.ExpiredAt(now) {
				out = append(out, ScanResult{Key: k, Value: sv.VersionedValue})
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Compare(out[j].Key) < 0
	})
	return out
}

// ScanByTag returns every live entry across every namespace whose key
// carries the given tag, in ascending key order. Used to materialize a
// primitive's full snapshot section, since a primitive's data is scattered
// across every run's namespace rather than confined to one prefix.
func (s *Store) ScanByTag(tag types.TypeTag) []ScanResult {
	now := nowMicro()
	var out []ScanResult
	for _, sh := range s.shards {
		sh.scanPrefix(nil, func(k types.Key, sv types.StoredValue) bool {
			if k.Tag == tag && !sv.IsTombstone() && !sv.ExpiredAt(now) {
				out = append(out, ScanResult{Key: k, Value: sv.VersionedValue})
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Compare(out[j].Key) < 0
	})
	return out
}

// DeleteRun permanently removes every key belonging to run across every
// shard and tag, and forgets the run from the tracked run-id set. Unlike
// Delete, this does not leave tombstones behind: cascading run deletion
// means the run's data actually vanishes, not that it becomes a dead
// version future scans must still skip past.
func (s *Store) DeleteRun(run types.RunID) int {
	var toDelete []types.Key
	for _, sh := range s.shards {
		sh.scanPrefix(nil, func(k types.Key, sv types.StoredValue) bool {
			if k.Namespace.Run == run {
				toDelete = append(toDelete, k)
			}
			return true
		})
	}
	for _, k := range toDelete {
		s.shardFor(k.Namespace).deleteKey(k)
	}
	s.ForgetRun(run)
	return len(toDelete)
}

// CreateSnapshot returns an immutable, point-in-time view of the store
// bound to its current version (§4.2).
func (s *Store) CreateSnapshot() *SnapshotView {
	clones := make([]cloneHandle, len(s.shards))
	for i, sh := range s.shards {
		clones[i] = cloneHandle{tree: sh.clone()}
	}
	return &SnapshotView{
		version: s.version.Load(),
		shards:  clones,
	}
}

// ShardCount returns the number of shards backing the store.
func (s *Store) ShardCount() int {
	return len(s.shards)
}
