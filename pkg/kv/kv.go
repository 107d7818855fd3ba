// Package kv is the key/value primitive: plain get/put/delete/scan over
// the shared MVCC store, transactional when staged through a
// coordinator-issued txn.Context, and registered with pkg/registry so its
// live data participates in snapshotting and WAL replay.
package kv

import (
	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// KV is the key/value primitive bound to one store and coordinator.
type KV struct {
	store *mvcc.Store
	coord *coordinator.Coordinator
}

// New returns a KV primitive over store, committing single-operation
// writes through coord so they are WAL-framed and OCC-validated the same
// way a multi-key transaction would be.
func New(store *mvcc.Store, coord *coordinator.Coordinator) *KV {
	return &KV{store: store, coord: coord}
}

func (kv *KV) key(ns types.Namespace, userKey []byte) types.Key {
	return types.NewKey(ns, types.TagKV, userKey)
}

// Get returns the live value at userKey within ns, or false if absent.
func (kv *KV) Get(ns types.Namespace, userKey []byte) (types.Value, bool) {
	vv, ok := kv.store.Get(kv.key(ns, userKey))
	if !ok {
		return types.Value{}, false
	}
	return vv.Value, true
}

// Put writes value at userKey within ns as its own single-key
// transaction, returning the commit version.
func (kv *KV) Put(ns types.Namespace, userKey []byte, value types.Value) (types.Version, error) {
	ctx := kv.coord.Begin(ns.Run)
	ctx.Put(kv.key(ns, userKey), value)
	return kv.coord.Commit(ctx)
}

// Delete tombstones userKey within ns as its own single-key transaction.
func (kv *KV) Delete(ns types.Namespace, userKey []byte) error {
	ctx := kv.coord.Begin(ns.Run)
	ctx.Delete(kv.key(ns, userKey))
	_, err := kv.coord.Commit(ctx)
	return err
}

// PutIn stages a put against an already-open transaction context, for
// callers composing multiple primitive operations into one commit.
func (kv *KV) PutIn(ctx *txn.Context, ns types.Namespace, userKey []byte, value types.Value) {
	ctx.Put(kv.key(ns, userKey), value)
}

// GetIn reads userKey through ctx's read-your-writes view.
func (kv *KV) GetIn(ctx *txn.Context, ns types.Namespace, userKey []byte) (types.Value, bool) {
	return ctx.Get(kv.key(ns, userKey))
}

// ScanPrefix returns every live key/value pair under ns whose user-key
// bytes extend userPrefix.
func (kv *KV) ScanPrefix(ns types.Namespace, userPrefix []byte) []mvcc.ScanResult {
	prefix := types.NamespaceTagPrefix(ns, types.TagKV)
	prefix = append(prefix, userPrefix...)
	return kv.store.ScanPrefix(prefix)
}

// Name identifies this primitive in the registry.
func (kv *KV) Name() string { return "kv" }

// TypeID is the KV primitive's snapshot section tag.
func (kv *KV) TypeID() uint8 { return 1 }

// WALEntryTypes lists the WAL entry types KV owns.
func (kv *KV) WALEntryTypes() []wal.EntryType {
	return []wal.EntryType{wal.EntryKVPut, wal.EntryKVDelete}
}

// SerializeSnapshot dumps every live KV-tagged entry in the store.
func (kv *KV) SerializeSnapshot() ([]byte, error) {
	return mvcc.EncodeEntries(kv.store.ScanByTag(types.TagKV)), nil
}

// DeserializeSnapshot restores KV entries from a snapshot section,
// installing each at its originally recorded version.
func (kv *KV) DeserializeSnapshot(data []byte) error {
	entries, err := mvcc.DecodeEntries(data)
	if err != nil {
		return err
	}
	for _, e := range entries {
		kv.store.InstallAt(e.Key, e.Value.Value, e.Value.Version, e.Value.TimestampMicro, e.Value.ExpiryMicro)
	}
	return nil
}

// ApplyWALEntry replays a single committed KV WAL record into the store.
func (kv *KV) ApplyWALEntry(rec wal.Record) error {
	switch rec.Type {
	case wal.EntryKVPut:
		w, err := wal.DecodeKeyValuePayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(w.KeyBytes)
		if err != nil {
			return strataerr.Corruption("kv.ApplyWALEntry", err)
		}
		kv.store.InstallAt(key, w.Value, w.Version, int64(rec.TimestampMicro), nil)
		return nil
	case wal.EntryKVDelete:
		d, err := wal.DecodeKeyPayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(d.KeyBytes)
		if err != nil {
			return strataerr.Corruption("kv.ApplyWALEntry", err)
		}
		kv.store.InstallAt(key, types.Null(), d.Version, int64(rec.TimestampMicro), nil)
		return nil
	default:
		return strataerr.Internal("kv.ApplyWALEntry", nil)
	}
}

// RebuildIndexes is a no-op: KV keeps no secondary index beyond the store
// itself.
func (kv *KV) RebuildIndexes() error { return nil }
