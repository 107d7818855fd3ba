// Package jsondoc is the JSON document primitive: whole documents stored
// as nested types.Value trees under the Json tag, with a shallow dotted-
// path accessor for reading a nested field without deserializing the
// whole document into a caller-side structure.
package jsondoc

import (
	"strings"

	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// JSONDoc is the JSON document primitive bound to one store and
// coordinator.
type JSONDoc struct {
	store *mvcc.Store
	coord *coordinator.Coordinator
}

// New returns a JSONDoc primitive over store and coord.
func New(store *mvcc.Store, coord *coordinator.Coordinator) *JSONDoc {
	return &JSONDoc{store: store, coord: coord}
}

func (j *JSONDoc) key(ns types.Namespace, docID []byte) types.Key {
	return types.NewKey(ns, types.TagJSON, docID)
}

// Get returns the whole document stored at docID, or false if absent.
func (j *JSONDoc) Get(ns types.Namespace, docID []byte) (types.Value, bool) {
	vv, ok := j.store.Get(j.key(ns, docID))
	if !ok {
		return types.Value{}, false
	}
	return vv.Value, true
}

// GetPath reads a nested field out of the document at docID, addressed by
// a dotted path ("a.b.c") through nested objects. Returns false if the
// document is absent, not an object at some step, or the path doesn't
// resolve to a field.
func (j *JSONDoc) GetPath(ns types.Namespace, docID []byte, path string) (types.Value, bool) {
	doc, ok := j.Get(ns, docID)
	if !ok {
		return types.Value{}, false
	}
	return resolvePath(doc, strings.Split(path, "."))
}

func resolvePath(v types.Value, segments []string) (types.Value, bool) {
	if len(segments) == 0 {
		return v, true
	}
	obj, ok := v.AsObject()
	if !ok {
		return types.Value{}, false
	}
	next, ok := obj[segments[0]]
	if !ok {
		return types.Value{}, false
	}
	return resolvePath(next, segments[1:])
}

// Put replaces the whole document at docID as its own single-key
// transaction, returning the commit version.
func (j *JSONDoc) Put(ns types.Namespace, docID []byte, doc types.Value) (types.Version, error) {
	ctx := j.coord.Begin(ns.Run)
	ctx.Put(j.key(ns, docID), doc)
	return j.coord.Commit(ctx)
}

// Delete tombstones the document at docID.
func (j *JSONDoc) Delete(ns types.Namespace, docID []byte) error {
	ctx := j.coord.Begin(ns.Run)
	ctx.Delete(j.key(ns, docID))
	_, err := j.coord.Commit(ctx)
	return err
}

// ScanPrefix returns every live document under ns whose document id bytes
// extend idPrefix.
func (j *JSONDoc) ScanPrefix(ns types.Namespace, idPrefix []byte) []mvcc.ScanResult {
	prefix := types.NamespaceTagPrefix(ns, types.TagJSON)
	prefix = append(prefix, idPrefix...)
	return j.store.ScanPrefix(prefix)
}

// Name identifies this primitive in the registry.
func (j *JSONDoc) Name() string { return "jsondoc" }

// TypeID is the JSON document primitive's snapshot section tag.
func (j *JSONDoc) TypeID() uint8 { return 2 }

// WALEntryTypes lists the WAL entry types JSON documents own.
func (j *JSONDoc) WALEntryTypes() []wal.EntryType {
	return []wal.EntryType{wal.EntryJSONPut, wal.EntryJSONDelete}
}

// SerializeSnapshot dumps every live JSON document in the store.
func (j *JSONDoc) SerializeSnapshot() ([]byte, error) {
	return mvcc.EncodeEntries(j.store.ScanByTag(types.TagJSON)), nil
}

// DeserializeSnapshot restores JSON documents from a snapshot section.
func (j *JSONDoc) DeserializeSnapshot(data []byte) error {
	entries, err := mvcc.DecodeEntries(data)
	if err != nil {
		return err
	}
	for _, e := range entries {
		j.store.InstallAt(e.Key, e.Value.Value, e.Value.Version, e.Value.TimestampMicro, e.Value.ExpiryMicro)
	}
	return nil
}

// ApplyWALEntry replays a single committed JSON document WAL record.
func (j *JSONDoc) ApplyWALEntry(rec wal.Record) error {
	switch rec.Type {
	case wal.EntryJSONPut:
		w, err := wal.DecodeKeyValuePayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(w.KeyBytes)
		if err != nil {
			return strataerr.Corruption("jsondoc.ApplyWALEntry", err)
		}
		j.store.InstallAt(key, w.Value, w.Version, int64(rec.TimestampMicro), nil)
		return nil
	case wal.EntryJSONDelete:
		d, err := wal.DecodeKeyPayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(d.KeyBytes)
		if err != nil {
			return strataerr.Corruption("jsondoc.ApplyWALEntry", err)
		}
		j.store.InstallAt(key, types.Null(), d.Version, int64(rec.TimestampMicro), nil)
		return nil
	default:
		return strataerr.Internal("jsondoc.ApplyWALEntry", nil)
	}
}

// RebuildIndexes is a no-op: JSON documents keep no secondary index.
func (j *JSONDoc) RebuildIndexes() error { return nil }
