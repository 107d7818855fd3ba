// Package statecell is the compare-and-swap state cell primitive: single
// named values per run that only change via an atomic CAS against the
// version the caller last observed, giving agents an ABA-safe coordination
// primitive on top of the shared MVCC store.
package statecell

import (
	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// StateCell is the state-cell primitive bound to one store and coordinator.
type StateCell struct {
	store *mvcc.Store
	coord *coordinator.Coordinator
}

// New returns a StateCell primitive over store and coord.
func New(store *mvcc.Store, coord *coordinator.Coordinator) *StateCell {
	return &StateCell{store: store, coord: coord}
}

func (sc *StateCell) key(ns types.Namespace, name []byte) types.Key {
	return types.NewKey(ns, types.TagState, name)
}

// Get returns the cell's current value and the version it must be
// compare-and-swapped against, or false if the cell has never been
// initialized.
func (sc *StateCell) Get(ns types.Namespace, name []byte) (types.Value, types.Version, bool) {
	vv, ok := sc.store.Get(sc.key(ns, name))
	if !ok {
		return types.Value{}, types.Version{}, false
	}
	return vv.Value, vv.Version, true
}

// Init writes value to the cell unconditionally, creating it or
// overwriting any existing value, and returns the version assigned. Init is
// not a CAS: a concurrent Init racing this one produces a well-defined (if
// arbitrary) winner, exactly like Put.
func (sc *StateCell) Init(ns types.Namespace, name []byte, value types.Value) (types.Version, error) {
	ctx := sc.coord.Begin(ns.Run)
	ctx.Put(sc.key(ns, name), value)
	return sc.coord.Commit(ctx)
}

// CompareAndSwap installs newValue at name iff the cell's current version
// equals expected, per invariant 4: CAS(k, v_expected, v_new) succeeds iff
// the store's current version for k equals v_expected. A mismatch aborts
// the transaction and returns a Conflict error; the cell is left
// untouched.
func (sc *StateCell) CompareAndSwap(ns types.Namespace, name []byte, expected types.Version, newValue types.Value) (types.Version, error) {
	ctx := sc.coord.Begin(ns.Run)
	ctx.CAS(sc.key(ns, name), expected, newValue)
	return sc.coord.Commit(ctx)
}

// Name identifies this primitive in the registry.
func (sc *StateCell) Name() string { return "statecell" }

// TypeID is the state cell primitive's snapshot section tag.
func (sc *StateCell) TypeID() uint8 { return 4 }

// WALEntryTypes lists the WAL entry types state cells own.
func (sc *StateCell) WALEntryTypes() []wal.EntryType {
	return []wal.EntryType{wal.EntryStatePut, wal.EntryStateDelete}
}

// SerializeSnapshot dumps every live state-cell entry in the store.
func (sc *StateCell) SerializeSnapshot() ([]byte, error) {
	return mvcc.EncodeEntries(sc.store.ScanByTag(types.TagState)), nil
}

// DeserializeSnapshot restores state cells from a snapshot section at
// their originally recorded versions, so a CAS against a version read
// before the snapshot still validates consistently afterward.
func (sc *StateCell) DeserializeSnapshot(data []byte) error {
	entries, err := mvcc.DecodeEntries(data)
	if err != nil {
		return err
	}
	for _, e := range entries {
		sc.store.InstallAt(e.Key, e.Value.Value, e.Value.Version, e.Value.TimestampMicro, e.Value.ExpiryMicro)
	}
	return nil
}

// ApplyWALEntry replays a single committed state-cell WAL record.
func (sc *StateCell) ApplyWALEntry(rec wal.Record) error {
	switch rec.Type {
	case wal.EntryStatePut:
		w, err := wal.DecodeKeyValuePayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(w.KeyBytes)
		if err != nil {
			return strataerr.Corruption("statecell.ApplyWALEntry", err)
		}
		sc.store.InstallAt(key, w.Value, w.Version, int64(rec.TimestampMicro), nil)
		return nil
	case wal.EntryStateDelete:
		d, err := wal.DecodeKeyPayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(d.KeyBytes)
		if err != nil {
			return strataerr.Corruption("statecell.ApplyWALEntry", err)
		}
		sc.store.InstallAt(key, types.Null(), d.Version, int64(rec.TimestampMicro), nil)
		return nil
	default:
		return strataerr.Internal("statecell.ApplyWALEntry", nil)
	}
}

// RebuildIndexes is a no-op: state cells keep no secondary index.
func (sc *StateCell) RebuildIndexes() error { return nil }
