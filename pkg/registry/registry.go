// Package registry is the dual-keyed directory of primitive
// implementations (C8): every KV/JSON/Event/State/Run/Vector module
// registers itself here once at startup so that snapshotting and WAL
// replay can dispatch by primitive type id or by the WAL entry type a
// record carries, without the recovery engine or the WAL writer needing
// to import every primitive package directly.
package registry

import (
	"sort"
	"sync"

	"strata/pkg/strataerr"
	"strata/pkg/wal"
)

// Primitive is the extension point every storage primitive implements to
// participate in snapshotting and WAL replay.
type Primitive interface {
	// Name is a short, unique identifier used for duplicate-registration
	// checks and introspection (e.g. "kv", "jsondoc", "eventlog").
	Name() string
	// TypeID is the primitive's snapshot section tag (spec.md §4.8's
	// explicit numbering: 1=KV, 2=JSON, 3=Event, 4=State, 6=Run,
	// 7=Vector — 5 reserved).
	TypeID() uint8
	// WALEntryTypes lists every wal.EntryType this primitive produces and
	// consumes, used to build the secondary entry-type lookup.
	WALEntryTypes() []wal.EntryType
	// SerializeSnapshot renders the primitive's full live state as an
	// opaque byte section for a checkpoint.
	SerializeSnapshot() ([]byte, error)
	// DeserializeSnapshot restores state from a section previously
	// produced by SerializeSnapshot, installing its entries on top of
	// whatever the primitive currently holds.
	DeserializeSnapshot(data []byte) error
	// ApplyWALEntry replays a single WAL record belonging to this
	// primitive (one of the entry types returned by WALEntryTypes) during
	// recovery, after the owning transaction has been confirmed committed.
	ApplyWALEntry(rec wal.Record) error
	// RebuildIndexes reconstructs any secondary indexes the primitive
	// keeps (e.g. event sequence/offset indexes) after a snapshot load or
	// WAL replay, since those indexes are never themselves snapshotted.
	RebuildIndexes() error
}

// Registry is an engine's directory of registered primitives, keyed by
// name, by type id and by the WAL entry types they own.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Primitive
	byTypeID map[uint8]Primitive
	byEntry  map[wal.EntryType]Primitive
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]Primitive),
		byTypeID: make(map[uint8]Primitive),
		byEntry:  make(map[wal.EntryType]Primitive),
	}
}

// Register adds p to the registry. Registering a name, type id, or WAL
// entry type that already has an owner is rejected rather than silently
// overwriting it — a second primitive claiming the same type id is
// always a wiring bug, never an intentional override.
func (r *Registry) Register(p Primitive) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name()]; exists {
		return strataerr.ConstraintViolation("registry.Register", p.Name(), errAlreadyRegisteredName(p.Name()))
	}
	if _, exists := r.byTypeID[p.TypeID()]; exists {
		return strataerr.ConstraintViolation("registry.Register", p.Name(), errAlreadyRegisteredTypeID(p.TypeID()))
	}
	for _, et := range p.WALEntryTypes() {
		if owner, exists := r.byEntry[et]; exists {
			return strataerr.ConstraintViolation("registry.Register", p.Name(), errEntryTypeOwned(et, owner.Name()))
		}
	}

	r.byName[p.Name()] = p
	r.byTypeID[p.TypeID()] = p
	for _, et := range p.WALEntryTypes() {
		r.byEntry[et] = p
	}
	return nil
}

// Unregister removes a primitive by name, along with its type-id and
// WAL-entry-type mappings. A no-op if name was never registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	delete(r.byTypeID, p.TypeID())
	for _, et := range p.WALEntryTypes() {
		if r.byEntry[et] == p {
			delete(r.byEntry, et)
		}
	}
}

// ByTypeID looks up the primitive owning a snapshot section type id.
func (r *Registry) ByTypeID(id uint8) (Primitive, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byTypeID[id]
	return p, ok
}

// ByEntryType looks up the primitive that owns a WAL entry type, used by
// recovery to dispatch a replayed record without knowing its primitive
// ahead of time.
func (r *Registry) ByEntryType(et wal.EntryType) (Primitive, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byEntry[et]
	return p, ok
}

// ByName looks up a primitive by its registered name.
func (r *Registry) ByName(name string) (Primitive, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// IsRegistered reports whether name has an owner.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.ByName(name)
	return ok
}

// List returns every registered primitive's name, sorted, for
// introspection and debugging.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeIDs returns every registered type id, sorted.
func (r *Registry) TypeIDs() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint8, 0, len(r.byTypeID))
	for id := range r.byTypeID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WALTypes returns every WAL entry type currently owned by some
// primitive, sorted.
func (r *Registry) WALTypes() []wal.EntryType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ets := make([]wal.EntryType, 0, len(r.byEntry))
	for et := range r.byEntry {
		ets = append(ets, et)
	}
	sort.Slice(ets, func(i, j int) bool { return ets[i] < ets[j] })
	return ets
}

// All returns every registered primitive, ordered by type id, for
// snapshot-writing code that needs to visit every section in a stable
// order.
func (r *Registry) All() []Primitive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps := make([]Primitive, 0, len(r.byTypeID))
	for _, p := range r.byTypeID {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].TypeID() < ps[j].TypeID() })
	return ps
}

// Clear removes every registration. Intended for test teardown between
// cases that each want a fresh registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]Primitive)
	r.byTypeID = make(map[uint8]Primitive)
	r.byEntry = make(map[wal.EntryType]Primitive)
}
