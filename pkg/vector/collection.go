package vector

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// Manager is the vector collection primitive bound to one store and
// coordinator. Each collection's raw vectors are canonically stored in
// the MVCC store (so they snapshot and replay exactly like every other
// primitive); the per-collection heap and ANN backend are process-local,
// derived state, optionally accelerated by an on-disk mmap cache and a
// sealed HNSW graph file under cacheDir — both rebuildable from the
// canonical store whenever they're absent, stale, or fail to parse.
type Manager struct {
	store    *mvcc.Store
	coord    *coordinator.Coordinator
	cacheDir string

	mu          sync.Mutex
	collections map[collectionKey]*collectionState
}

type collectionKey struct {
	ns   types.Namespace
	name string
}

type collectionState struct {
	cfg     CollectionConfig
	heap    *heap
	backend Backend
}

// New returns a Manager over store and coord. cacheDir, if non-empty, is
// the base directory under which per-run vector caches and sealed graph
// files are written (vectors/<run_hex>/<collection>.vec and .hgr); an
// empty cacheDir disables on-disk caching and every reopen rebuilds from
// the canonical store.
func New(store *mvcc.Store, coord *coordinator.Coordinator, cacheDir string) *Manager {
	return &Manager{store: store, coord: coord, cacheDir: cacheDir, collections: make(map[collectionKey]*collectionState)}
}

func vectorConfigKey(ns types.Namespace, name string) types.Key {
	return types.NewKey(ns, types.TagVectorConfig, []byte(name))
}

// collectionPrefix is name plus a NUL separator, so that scanning for one
// collection's vectors never accidentally matches a different collection
// whose name happens to start with name (e.g. "a" vs "ab").
func collectionPrefix(name string) []byte {
	prefix := make([]byte, len(name)+1)
	copy(prefix, name)
	return prefix
}

func vectorDataKey(ns types.Namespace, name string, id uint64) types.Key {
	user := collectionPrefix(name)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], id)
	user = append(user, idBuf[:]...)
	return types.NewKey(ns, types.TagVector, user)
}

func vectorIDFromKey(key types.Key, name string) (uint64, bool) {
	prefix := collectionPrefix(name)
	if len(key.UserBytes) != len(prefix)+8 {
		return 0, false
	}
	for i, b := range prefix {
		if key.UserBytes[i] != b {
			return 0, false
		}
	}
	return binary.BigEndian.Uint64(key.UserBytes[len(prefix):]), true
}

func errCollectionExists(name string) error {
	return fmt.Errorf("vector collection %q already exists", name)
}

// cachePaths returns the .vec and .hgr paths for (ns, name), or ok=false
// if caching is disabled.
func (m *Manager) cachePaths(ns types.Namespace, name string) (vecPath, hgrPath string, ok bool) {
	if m.cacheDir == "" {
		return "", "", false
	}
	dir := filepath.Join(m.cacheDir, "vectors", ns.Run.Hex())
	return filepath.Join(dir, name+".vec"), filepath.Join(dir, name+".hgr"), true
}

// CreateCollection registers a new collection under ns with the given
// configuration. Creating a collection that already exists is rejected.
func (m *Manager) CreateCollection(ns types.Namespace, name string, cfg CollectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectionKey{ns, name}
	if _, exists := m.collections[key]; exists {
		return strataerr.ConstraintViolation("vector.CreateCollection", name, errCollectionExists(name))
	}
	if _, ok := m.store.Get(vectorConfigKey(ns, name)); ok {
		return strataerr.ConstraintViolation("vector.CreateCollection", name, errCollectionExists(name))
	}

	ctx := m.coord.Begin(ns.Run)
	ctx.Put(vectorConfigKey(ns, name), toStoredConfig(cfg))
	if _, err := m.coord.Commit(ctx); err != nil {
		return err
	}

	h := newHeap(cfg.Dimension)
	m.collections[key] = &collectionState{cfg: cfg, heap: h, backend: NewBackend(cfg.Backend, cfg, h)}
	return nil
}

// ensureLoaded returns the in-memory state for (ns, name), lazily
// building it the first time the collection is touched in this process:
// loading the mmap cache and sealed graph if present and valid, falling
// back to a full rebuild from the canonical store otherwise.
func (m *Manager) ensureLoaded(ns types.Namespace, name string) (*collectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectionKey{ns, name}
	if cs, ok := m.collections[key]; ok {
		return cs, nil
	}

	vv, ok := m.store.Get(vectorConfigKey(ns, name))
	if !ok {
		return nil, strataerr.NotFound("vector.ensureLoaded", name)
	}
	cfg, ok := fromStoredConfig(vv.Value)
	if !ok {
		return nil, strataerr.Corruption("vector.ensureLoaded", fmt.Errorf("malformed collection config for %q", name))
	}

	h := m.loadOrRebuildHeap(ns, name, cfg)
	backend := m.loadOrRebuildBackend(ns, name, cfg, h)

	state := &collectionState{cfg: cfg, heap: h, backend: backend}
	m.collections[key] = state
	return state, nil
}

func (m *Manager) loadOrRebuildHeap(ns types.Namespace, name string, cfg CollectionConfig) *heap {
	if vecPath, _, ok := m.cachePaths(ns, name); ok {
		if h, err := loadCache(vecPath, cfg.Dimension); err == nil {
			return h
		}
	}

	h := newHeap(cfg.Dimension)
	prefix := types.NamespaceTagPrefix(ns, types.TagVector)
	prefix = append(prefix, collectionPrefix(name)...)
	for _, r := range m.store.ScanPrefix(prefix) {
		id, ok := vectorIDFromKey(r.Key, name)
		if !ok {
			continue
		}
		raw, ok := r.Value.Value.AsBytes()
		if !ok {
			continue
		}
		vec, err := types.VectorFromBytes(raw)
		if err != nil {
			continue
		}
		h.put(id, vec)
	}
	return h
}

func (m *Manager) loadOrRebuildBackend(ns types.Namespace, name string, cfg CollectionConfig, h *heap) Backend {
	if cfg.Backend == BackendHNSW {
		if _, hgrPath, ok := m.cachePaths(ns, name); ok {
			hc := cfg.HNSW
			hc.Dimension = cfg.Dimension
			hc.DistanceMetric = cfg.Metric
			if idx, err := loadGraph(hgrPath, hc, h); err == nil {
				return idx
			}
		}
	}

	backend := NewBackend(cfg.Backend, cfg, h)
	h.iterate(func(id uint64, vec *types.Vector) {
		_ = backend.Insert(id, vec)
	})
	return backend
}

// Insert allocates a fresh id in name's heap, persists the vector as the
// canonical record, and indexes it in the collection's backend. The heap
// allocation is rolled back if the canonical write fails, keeping heap
// and store in step.
func (m *Manager) Insert(ns types.Namespace, name string, vec *types.Vector) (uint64, error) {
	cs, err := m.ensureLoaded(ns, name)
	if err != nil {
		return 0, err
	}
	if vec.Dimension() != cs.cfg.Dimension {
		return 0, ErrDimensionMismatch
	}

	id := cs.heap.allocate(vec)
	ctx := m.coord.Begin(ns.Run)
	ctx.Put(vectorDataKey(ns, name, id), types.Bytes(vec.ToBytes()))
	if _, err := m.coord.Commit(ctx); err != nil {
		cs.heap.release(id)
		return 0, err
	}
	if err := cs.backend.Insert(id, vec); err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes id from name's heap, backend, and canonical storage.
// Returns false if id was not live.
func (m *Manager) Delete(ns types.Namespace, name string, id uint64) (bool, error) {
	cs, err := m.ensureLoaded(ns, name)
	if err != nil {
		return false, err
	}
	if !cs.heap.release(id) {
		return false, nil
	}
	cs.backend.Delete(id)

	ctx := m.coord.Begin(ns.Run)
	ctx.Delete(vectorDataKey(ns, name, id))
	if _, err := m.coord.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the live vector stored at id within name.
func (m *Manager) Get(ns types.Namespace, name string, id uint64) (*types.Vector, bool) {
	cs, err := m.ensureLoaded(ns, name)
	if err != nil {
		return nil, false
	}
	return cs.heap.get(id)
}

// Search resolves a k-nearest-neighbor query against name's backend.
func (m *Manager) Search(ns types.Namespace, name string, query *types.Vector, k int) ([]SearchResult, error) {
	cs, err := m.ensureLoaded(ns, name)
	if err != nil {
		return nil, err
	}
	if query.Dimension() != cs.cfg.Dimension {
		return nil, ErrDimensionMismatch
	}
	return cs.backend.Search(query, k)
}

// CollectionConfigOf returns name's persisted configuration.
func (m *Manager) CollectionConfigOf(ns types.Namespace, name string) (CollectionConfig, bool) {
	cs, err := m.ensureLoaded(ns, name)
	if err != nil {
		return CollectionConfig{}, false
	}
	return cs.cfg, true
}

// FlushCache seals name's current heap and (for an HNSW backend) its
// graph to disk, accelerating the next process's reopen. A no-op if
// caching is disabled or the collection was never loaded in this
// process.
func (m *Manager) FlushCache(ns types.Namespace, name string) error {
	m.mu.Lock()
	cs, ok := m.collections[collectionKey{ns, name}]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	vecPath, hgrPath, ok := m.cachePaths(ns, name)
	if !ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(vecPath), 0o755); err != nil {
		return err
	}
	if err := saveCache(vecPath, cs.heap); err != nil {
		return err
	}
	if idx, ok := cs.backend.(*hnswIndex); ok {
		return saveGraph(hgrPath, idx)
	}
	return nil
}

// Name identifies this primitive in the registry.
func (m *Manager) Name() string { return "vector" }

// TypeID is the vector primitive's snapshot section tag.
func (m *Manager) TypeID() uint8 { return 7 }

// WALEntryTypes lists the WAL entry types vector collections own:
// per-vector upserts/deletes and collection-config creation.
func (m *Manager) WALEntryTypes() []wal.EntryType {
	return []wal.EntryType{wal.EntryVectorUpsert, wal.EntryVectorDelete, wal.EntryVectorConfigCreate}
}

// SerializeSnapshot dumps every collection config and every live vector
// across every collection. The heap/backend derived state is never
// snapshotted; RebuildIndexes drops it so it is rebuilt lazily from
// whatever this section (plus any WAL suffix) restores into the store.
func (m *Manager) SerializeSnapshot() ([]byte, error) {
	entries := append(m.store.ScanByTag(types.TagVectorConfig), m.store.ScanByTag(types.TagVector)...)
	return mvcc.EncodeEntries(entries), nil
}

// DeserializeSnapshot restores collection configs and vector data from a
// snapshot section.
func (m *Manager) DeserializeSnapshot(data []byte) error {
	entries, err := mvcc.DecodeEntries(data)
	if err != nil {
		return err
	}
	for _, e := range entries {
		m.store.InstallAt(e.Key, e.Value.Value, e.Value.Version, e.Value.TimestampMicro, e.Value.ExpiryMicro)
	}
	return nil
}

// ApplyWALEntry replays a single committed vector WAL record into the
// store.
func (m *Manager) ApplyWALEntry(rec wal.Record) error {
	switch rec.Type {
	case wal.EntryVectorConfigCreate, wal.EntryVectorUpsert:
		w, err := wal.DecodeKeyValuePayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(w.KeyBytes)
		if err != nil {
			return strataerr.Corruption("vector.ApplyWALEntry", err)
		}
		m.store.InstallAt(key, w.Value, w.Version, int64(rec.TimestampMicro), nil)
		return nil
	case wal.EntryVectorDelete:
		d, err := wal.DecodeKeyPayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(d.KeyBytes)
		if err != nil {
			return strataerr.Corruption("vector.ApplyWALEntry", err)
		}
		m.store.InstallAt(key, types.Null(), d.Version, int64(rec.TimestampMicro), nil)
		return nil
	default:
		return strataerr.Internal("vector.ApplyWALEntry", nil)
	}
}

// RebuildIndexes drops every in-memory collection: heap and backend are
// derived, rebuildable state, never themselves snapshotted, so after a
// snapshot load or WAL replay the only correct contents are whatever the
// next ensureLoaded call rebuilds from the now-current store.
func (m *Manager) RebuildIndexes() error {
	m.mu.Lock()
	m.collections = make(map[collectionKey]*collectionState)
	m.mu.Unlock()
	return nil
}
