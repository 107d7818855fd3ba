// Package txn implements the per-transaction context (C3): an isolated
// read/write/delete/CAS view over a snapshot, with read-your-writes
// semantics, that the coordinator (pkg/coordinator) validates and commits.
package txn

import (
	"strata/pkg/mvcc"
	"strata/pkg/types"
)

// casEntry records one compare-and-swap intent: key must still be at
// expectedVersion at commit time, or the whole transaction aborts.
type casEntry struct {
	key             types.Key
	expectedVersion types.Version
	newValue        types.Value
}

// Context carries all state for one in-flight transaction. It is never
// safe for concurrent use by more than one goroutine at a time.
type Context struct {
	TxnID        uint64
	RunID        types.RunID
	StartVersion uint64
	snapshot     *mvcc.SnapshotView

	readSet   map[string]types.Version // encoded key -> version read at
	readKeys  map[string]types.Key     // encoded key -> original Key, for validation
	writeSet  map[string]types.Value
	writeKeys map[string]types.Key
	deleteSet map[string]types.Key
	casSet    []casEntry
}

// reset clears a Context back to a zero-value transaction so it can be
// returned to a Pool and reused without reallocating its maps.
func (c *Context) reset() {
	c.TxnID = 0
	c.RunID = types.RunID{}
	c.StartVersion = 0
	c.snapshot = nil
	for k := range c.readSet {
		delete(c.readSet, k)
	}
	for k := range c.readKeys {
		delete(c.readKeys, k)
	}
	for k := range c.writeSet {
		delete(c.writeSet, k)
	}
	for k := range c.writeKeys {
		delete(c.writeKeys, k)
	}
	for k := range c.deleteSet {
		delete(c.deleteSet, k)
	}
	c.casSet = c.casSet[:0]
}

func newContext() *Context {
	return &Context{
		readSet:   make(map[string]types.Version),
		readKeys:  make(map[string]types.Key),
		writeSet:  make(map[string]types.Value),
		writeKeys: make(map[string]types.Key),
		deleteSet: make(map[string]types.Key),
	}
}

// begin binds the context to a fresh transaction id, run, and snapshot.
func (c *Context) begin(txnID uint64, run types.RunID, snapshot *mvcc.SnapshotView) {
	c.TxnID = txnID
	c.RunID = run
	c.StartVersion = snapshot.Version()
	c.snapshot = snapshot
}

func encKey(k types.Key) string {
	return string(k.Encode())
}

// Get serves key from the write set (read-your-writes), reports a miss if
// the key is pending deletion, otherwise falls through to the bound
// snapshot and records the observed version in the read set for commit-time
// validation.
func (c *Context) Get(key types.Key) (types.Value, bool) {
	ek := encKey(key)
	if v, ok := c.writeSet[ek]; ok {
		return v, true
	}
	if _, ok := c.deleteSet[ek]; ok {
		return types.Value{}, false
	}
	vv, ok := c.snapshot.Get(key)
	if !ok {
		return types.Value{}, false
	}
	c.readSet[ek] = vv.Version
	c.readKeys[ek] = key
	return vv.Value, true
}

// Put stages value for key, superseding any pending delete.
func (c *Context) Put(key types.Key, value types.Value) {
	ek := encKey(key)
	c.writeSet[ek] = value
	c.writeKeys[ek] = key
	delete(c.deleteSet, ek)
}

// Delete stages a tombstone for key, superseding any pending write.
func (c *Context) Delete(key types.Key) {
	ek := encKey(key)
	c.deleteSet[ek] = key
	delete(c.writeSet, ek)
	delete(c.writeKeys, ek)
}

// CAS stages a compare-and-swap: at commit, key must still be at
// expectedVersion or the transaction aborts with a Conflict error.
func (c *Context) CAS(key types.Key, expectedVersion types.Version, newValue types.Value) {
	c.casSet = append(c.casSet, casEntry{key: key, expectedVersion: expectedVersion, newValue: newValue})
	ek := encKey(key)
	c.writeSet[ek] = newValue
	c.writeKeys[ek] = key
	delete(c.deleteSet, ek)
}

// ScanResult is one (key, value) pair from ScanPrefix, reflecting the
// transaction's own uncommitted writes layered over the snapshot.
type ScanResult struct {
	Key   types.Key
	Value types.Value
}

// ScanPrefix merges the bound snapshot's view of keys extending prefix with
// this transaction's write-set and delete-set overlay, preserving ascending
// key order.
func (c *Context) ScanPrefix(prefix []byte) []ScanResult {
	base := c.snapshot.ScanPrefix(prefix)

	merged := make(map[string]ScanResult, len(base))
	for _, r := range base {
		merged[encKey(r.Key)] = ScanResult{Key: r.Key, Value: r.Value}
	}
	for ek, key := range c.writeKeys {
		if !key.HasPrefix(prefix) {
			continue
		}
		merged[ek] = ScanResult{Key: key, Value: c.writeSet[ek]}
	}
	for ek, key := range c.deleteSet {
		if !key.HasPrefix(prefix) {
			continue
		}
		delete(merged, ek)
	}

	out := make([]ScanResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sortScanResults(out)
	return out
}

func sortScanResults(rs []ScanResult) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1].Key.Compare(rs[j].Key) > 0; j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

// ReadSet exposes the (key, version_read) pairs accumulated via Get, for
// the coordinator's commit-time validation.
func (c *Context) ReadSet() map[string]types.Version {
	return c.readSet
}

// ReadKey returns the original Key for an encoded read-set entry.
func (c *Context) ReadKey(encoded string) types.Key {
	return c.readKeys[encoded]
}

// Writes exposes the staged puts, keyed by their original Key.
func (c *Context) Writes() map[string]types.Value {
	return c.writeSet
}

// WriteKey returns the original Key for an encoded write-set entry.
func (c *Context) WriteKey(encoded string) types.Key {
	return c.writeKeys[encoded]
}

// Deletes exposes the staged deletes.
func (c *Context) Deletes() map[string]types.Key {
	return c.deleteSet
}

// CASEntries exposes the staged compare-and-swap intents.
func (c *Context) CASEntries() []casEntry {
	return c.casSet
}

// Key returns the CAS entry's target key.
func (e casEntry) Key() types.Key { return e.key }

// ExpectedVersion returns the version the entry requires to still hold at
// commit time.
func (e casEntry) ExpectedVersion() types.Version { return e.expectedVersion }

// NewValue returns the value to install if the CAS succeeds.
func (e casEntry) NewValue() types.Value { return e.newValue }
