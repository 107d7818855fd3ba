package engine

import (
	"path/filepath"

	"strata/pkg/mvcc"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// ReadOnlyView is a point-in-time materialization of one run's key space,
// built directly from its own WAL records rather than from the shared
// store. It never mutates the live database and is cheap to discard.
type ReadOnlyView struct {
	entries map[string]types.Value
}

// Get returns the value last written to key within the replayed run, if
// any survived to the end of the run's WAL history (a later delete of the
// same key removes it from the view).
func (v ReadOnlyView) Get(key types.Key) (types.Value, bool) {
	val, ok := v.entries[string(key.Encode())]
	return val, ok
}

// Len reports how many live keys the view holds.
func (v ReadOnlyView) Len() int { return len(v.entries) }

// Keys returns every live key the view holds, in no particular order.
func (v ReadOnlyView) Keys() []types.Key {
	out := make([]types.Key, 0, len(v.entries))
	for encoded := range v.entries {
		k, err := types.DecodeKey([]byte(encoded))
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out
}

// replayTxnBuffer mirrors pkg/recovery's txnBuffer: writes and deletes
// accumulate until the transaction's commit marker is seen, and a
// transaction that never commits contributes nothing to the view.
type replayTxnBuffer struct {
	records []wal.Record
}

// ReplayRun reconstructs the live key/value state that existed at the end
// of ns.Run's WAL history, considering only records tagged with that run.
// Commit and abort markers carry no run id, so they are matched to the
// run's open transactions by transaction id instead. It assumes the run's full WAL history is still on disk: this module has
// no WAL segment truncation or garbage collection yet, so every record
// ever appended for a run is always available for replay.
func (e *Engine) ReplayRun(ns types.Namespace) (ReadOnlyView, error) {
	records, err := wal.ReadAll(filepath.Join(e.dir, "wal"))
	if err != nil {
		return ReadOnlyView{}, err
	}

	open := make(map[uint64]*replayTxnBuffer)
	view := ReadOnlyView{entries: make(map[string]types.Value)}

	for _, rec := range records {
		if rec.Run != ns.Run && rec.Type != wal.EntryCommitTxn && rec.Type != wal.EntryAbortTxn {
			continue
		}
		switch rec.Type {
		case wal.EntryBeginTxn:
			open[rec.TxnID] = &replayTxnBuffer{}
		case wal.EntryAbortTxn:
			delete(open, rec.TxnID)
		case wal.EntryCommitTxn:
			buf, ok := open[rec.TxnID]
			delete(open, rec.TxnID)
			if !ok {
				continue
			}
			for _, writeRec := range buf.records {
				applyReplayRecord(view, writeRec)
			}
		default:
			buf, ok := open[rec.TxnID]
			if !ok {
				continue
			}
			buf.records = append(buf.records, rec)
		}
	}
	return view, nil
}

// applyReplayRecord decodes one committed data record and installs (or
// removes) its entry in view. A record decodes as a write first since
// every entry type's payload shape is either the write form or the
// delete form; one of the two always matches.
func applyReplayRecord(view ReadOnlyView, rec wal.Record) {
	if write, err := wal.DecodeKeyValuePayload(rec.Payload); err == nil {
		if key, err := types.DecodeKey(write.KeyBytes); err == nil {
			view.entries[string(key.Encode())] = write.Value
			return
		}
	}
	if del, err := wal.DecodeKeyPayload(rec.Payload); err == nil {
		if key, err := types.DecodeKey(del.KeyBytes); err == nil {
			delete(view.entries, string(key.Encode()))
		}
	}
}

// DiffEntry describes one key's difference between two runs.
type DiffEntry struct {
	Tag     types.TypeTag
	UserKey []byte
	Before  types.Value
	After   types.Value
}

// RunDiff is the structural difference between two runs' live KV, JSON,
// and state cell key sets, computed directly against the canonical
// store rather than by replaying either run's WAL history.
type RunDiff struct {
	Added   []DiffEntry
	Removed []DiffEntry
	Changed []DiffEntry
}

var diffableTags = []types.TypeTag{types.TagKV, types.TagJSON, types.TagState}

// DiffRuns compares the live key/value state of two runs tag by tag,
// reporting every key that exists in only one run (Added/Removed, named
// relative to b) and every key present in both with a different value
// (Changed).
func (e *Engine) DiffRuns(a, b types.Namespace) RunDiff {
	var diff RunDiff
	for _, tag := range diffableTags {
		left := scanTagToMap(e.store.ScanPrefix(types.NamespaceTagPrefix(a, tag)))
		right := scanTagToMap(e.store.ScanPrefix(types.NamespaceTagPrefix(b, tag)))

		for userKey, rv := range right {
			lv, ok := left[userKey]
			if !ok {
				diff.Added = append(diff.Added, DiffEntry{Tag: tag, UserKey: []byte(userKey), After: rv})
				continue
			}
			if !lv.Equal(rv) {
				diff.Changed = append(diff.Changed, DiffEntry{Tag: tag, UserKey: []byte(userKey), Before: lv, After: rv})
			}
		}
		for userKey, lv := range left {
			if _, ok := right[userKey]; !ok {
				diff.Removed = append(diff.Removed, DiffEntry{Tag: tag, UserKey: []byte(userKey), Before: lv})
			}
		}
	}
	return diff
}

func scanTagToMap(results []mvcc.ScanResult) map[string]types.Value {
	out := make(map[string]types.Value, len(results))
	for _, r := range results {
		out[string(r.Key.UserBytes)] = r.Value.Value
	}
	return out
}
