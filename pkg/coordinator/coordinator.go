// Package coordinator implements the validation and commit coordinator
// (C4): transaction-id and commit-version allocation, optimistic
// concurrency control validation of a transaction's read set and CAS set,
// and the seven-step commit protocol tying the transaction layer (pkg/txn)
// to the MVCC store (pkg/mvcc) and the write-ahead log (pkg/wal).
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/txn"
	"strata/pkg/types"
)

func nowMicro() int64 {
	return time.Now().UnixMicro()
}

// WALWriter is the subset of the write-ahead log the coordinator needs
// during commit. pkg/wal implements this; tests and in-memory-only
// configurations may leave it unset.
type WALWriter interface {
	AppendBeginTxn(txnID uint64, run types.RunID) error
	AppendWrite(txnID uint64, run types.RunID, key types.Key, value types.Value, version types.Version) error
	AppendDelete(txnID uint64, run types.RunID, key types.Key, version types.Version) error
	AppendCommitTxn(txnID uint64, version types.Version) error
	AppendAbortTxn(txnID uint64) error
}

// Metrics tracks coordinator-wide transaction counters.
type Metrics struct {
	Started   uint64
	Committed uint64
	Aborted   uint64
	Active    uint64
}

// CommitRate returns committed / (committed + aborted), or 0 if neither has
// happened yet.
func (m Metrics) CommitRate() float64 {
	total := m.Committed + m.Aborted
	if total == 0 {
		return 0
	}
	return float64(m.Committed) / float64(total)
}

// AbortRate returns aborted / (committed + aborted), or 0 if neither has
// happened yet.
func (m Metrics) AbortRate() float64 {
	total := m.Committed + m.Aborted
	if total == 0 {
		return 0
	}
	return float64(m.Aborted) / float64(total)
}

// Coordinator owns transaction-id allocation, the commit-time write gate,
// and OCC validation. One Coordinator is bound to one Store for the
// lifetime of an open database.
type Coordinator struct {
	store *mvcc.Store
	pool  *txn.Pool
	wal   WALWriter

	txnIDCounter atomic.Uint64

	// writeGate serializes the validate-allocate-install sequence of a
	// commit, conceptually a fair mutex per shard group; a single mutex is
	// the simplest correct implementation, and commits are typically short
	// enough that correctness does not depend on per-shard granularity.
	writeGate sync.Mutex

	started   atomic.Uint64
	committed atomic.Uint64
	aborted   atomic.Uint64
	active    atomic.Int64
}

// New creates a Coordinator over store with a default-capacity context
// pool and no WAL writer attached.
func New(store *mvcc.Store) *Coordinator {
	return &Coordinator{store: store, pool: txn.NewPool()}
}

// SetWAL attaches the write-ahead log the commit protocol appends framed
// records to. A nil WAL (the default) makes commits skip step 5 entirely,
// suitable for InMemory durability or unit tests that don't exercise
// recovery.
func (c *Coordinator) SetWAL(w WALWriter) {
	c.wal = w
}

// SeedFromRecovery initialises the coordinator's txn-id and version
// counters so that new transactions never reuse an id or regress a
// version already observed during recovery.
func (c *Coordinator) SeedFromRecovery(maxTxnID uint64, finalVersion uint64) {
	for {
		cur := c.txnIDCounter.Load()
		if maxTxnID <= cur {
			break
		}
		if c.txnIDCounter.CompareAndSwap(cur, maxTxnID) {
			break
		}
	}
	c.store.SeedVersion(finalVersion)
}

// Begin allocates a new transaction id and snapshot, returning a Context
// ready for reads and writes scoped to run.
func (c *Coordinator) Begin(run types.RunID) *txn.Context {
	txnID := c.txnIDCounter.Add(1)
	snapshot := c.store.CreateSnapshot()
	ctx := c.pool.Begin(txnID, run, snapshot)

	c.started.Add(1)
	c.active.Add(1)

	if c.wal != nil {
		_ = c.wal.AppendBeginTxn(txnID, run) // best-effort; framing errors surface at commit
	}
	return ctx
}

// Abort discards ctx's pending writes without installing anything,
// returning it to the pool.
func (c *Coordinator) Abort(ctx *txn.Context) error {
	defer c.pool.Put(ctx)
	c.active.Add(-1)
	c.aborted.Add(1)
	if c.wal != nil {
		return c.wal.AppendAbortTxn(ctx.TxnID)
	}
	return nil
}

// Commit runs the seven-step commit protocol: acquire the write gate,
// validate the read set and CAS set against the live store, allocate a
// commit version, append WAL entries, install writes/deletes/CAS results,
// release the gate, and record metrics.
func (c *Coordinator) Commit(ctx *txn.Context) (types.Version, error) {
	c.writeGate.Lock()

	if err := c.validate(ctx); err != nil {
		c.writeGate.Unlock()
		_ = c.Abort(ctx)
		return types.Version{}, err
	}

	version := types.TxnVersion(c.store.AllocateVersion())

	if c.wal != nil {
		if err := c.appendCommitFrame(ctx, version); err != nil {
			c.writeGate.Unlock()
			return types.Version{}, strataerr.IO("coordinator.Commit", err)
		}
	}

	c.install(ctx, version)
	c.writeGate.Unlock()

	c.pool.Put(ctx)
	c.active.Add(-1)
	c.committed.Add(1)
	return version, nil
}

// validate checks the read set and CAS set against the store's current
// record for each key, per §4.4: every (key, version_read) must still
// match, and every CAS (key, expected_version) must still match.
func (c *Coordinator) validate(ctx *txn.Context) error {
	for encoded, readVersion := range ctx.ReadSet() {
		key := ctx.ReadKey(encoded)
		current, ok := c.store.GetRaw(key)
		if !ok {
			return strataerr.Conflict("coordinator.validate", string(key.UserBytes))
		}
		if current.Version != readVersion {
			return strataerr.Conflict("coordinator.validate", string(key.UserBytes))
		}
	}
	for _, entry := range ctx.CASEntries() {
		current, ok := c.store.GetRaw(entry.Key())
		if !ok {
			return strataerr.Conflict("coordinator.validate.cas", string(entry.Key().UserBytes))
		}
		if current.Version != entry.ExpectedVersion() {
			return strataerr.Conflict("coordinator.validate.cas", string(entry.Key().UserBytes))
		}
	}
	return nil
}

func (c *Coordinator) appendCommitFrame(ctx *txn.Context, version types.Version) error {
	for encoded, value := range ctx.Writes() {
		key := ctx.WriteKey(encoded)
		if err := c.wal.AppendWrite(ctx.TxnID, ctx.RunID, key, value, version); err != nil {
			return err
		}
	}
	for _, key := range ctx.Deletes() {
		if err := c.wal.AppendDelete(ctx.TxnID, ctx.RunID, key, version); err != nil {
			return err
		}
	}
	return c.wal.AppendCommitTxn(ctx.TxnID, version)
}

// install applies every staged write, delete, and CAS result to the store
// at the given commit version. Deletes install a tombstone; CAS entries
// share the regular write path since they were already mirrored into the
// write set when staged.
func (c *Coordinator) install(ctx *txn.Context, version types.Version) {
	now := nowMicro()
	for encoded, value := range ctx.Writes() {
		key := ctx.WriteKey(encoded)
		c.store.InstallAt(key, value, version, now, nil)
	}
	for _, key := range ctx.Deletes() {
		c.store.InstallAt(key, types.Null(), version, now, nil)
	}
}

// Metrics returns a point-in-time snapshot of the coordinator's counters.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		Started:   c.started.Load(),
		Committed: c.committed.Load(),
		Aborted:   c.aborted.Load(),
		Active:    uint64(c.active.Load()),
	}
}

// Store returns the store this coordinator validates and installs into,
// for primitives that need direct read access.
func (c *Coordinator) Store() *mvcc.Store {
	return c.store
}
