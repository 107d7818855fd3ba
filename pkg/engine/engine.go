// Package engine wires every other package in this module into the one
// embeddable handle applications open: the MVCC store, the commit
// coordinator, the write-ahead log, the snapshot writer, boot-time
// recovery, the primitive registry, and each primitive facade (KV, JSON
// documents, event log, state cells, run/branch lifecycle, vector
// collections) sharing that single store.
package engine

import (
	"os"
	"path/filepath"
	"sync"

	"strata/internal/obslog"
	"strata/pkg/coordinator"
	"strata/pkg/eventlog"
	"strata/pkg/jsondoc"
	"strata/pkg/kv"
	"strata/pkg/mvcc"
	"strata/pkg/recovery"
	"strata/pkg/registry"
	"strata/pkg/run"
	"strata/pkg/snapshot"
	"strata/pkg/statecell"
	"strata/pkg/strataerr"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/vector"
	"strata/pkg/wal"
)

// Options configures Open. Dir is the only required field; every other
// field has a default matching an embedded, single-process deployment.
type Options struct {
	// Dir is the database root directory. Its wal/ subdirectory is created
	// on open; snapshots/ and vectors/ are created when first written to.
	Dir string

	// WALMode selects the commit-path fsync policy. Defaults to Strict.
	WALMode wal.DurabilityMode

	// ShardCount is the MVCC store's internal shard count. Defaults to 16.
	ShardCount int

	// Logger receives structured logs from recovery and the commit path.
	// Defaults to a discard logger.
	Logger *obslog.Logger
}

func (o Options) withDefaults() Options {
	if o.ShardCount <= 0 {
		o.ShardCount = 16
	}
	if o.Logger == nil {
		o.Logger = obslog.Nop()
	}
	return o
}

// Engine is the open database handle: one store, one coordinator, one
// WAL writer, and every primitive registered against them.
type Engine struct {
	dir      string
	manifest manifest
	log      *obslog.Logger

	store *mvcc.Store
	coord *coordinator.Coordinator
	walW  *wal.Writer
	reg   *registry.Registry

	kv       *kv.KV
	jsondoc  *jsondoc.JSONDoc
	eventlog *eventlog.EventLog
	state    *statecell.StateCell
	runs     *run.Manager
	vectors  *vector.Manager

	snapWriter *snapshot.Writer
	snapDir    string

	mu     sync.Mutex
	closed bool
}

func subdirs(dir string) (walDir, snapDir string) {
	return filepath.Join(dir, "wal"), filepath.Join(dir, "snapshots")
}

// Open opens (or creates) the database rooted at opts.Dir: reads or
// stamps MANIFEST, runs boot-time recovery against any existing WAL and
// snapshot, and returns a handle with every primitive ready for use.
func Open(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.Dir == "" {
		return nil, strataerr.InvalidPath("engine.Open", nil)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, strataerr.IO("engine.Open", err)
	}

	m, dbUUID, err := loadOrCreateManifest(opts.Dir)
	if err != nil {
		return nil, err
	}

	walDir, snapDir := subdirs(opts.Dir)

	store := mvcc.NewStore(opts.ShardCount)
	coord := coordinator.New(store)
	reg := registry.New()

	runs := run.New(store, coord)
	kvPrim := kv.New(store, coord)
	jsonPrim := jsondoc.New(store, coord)
	eventPrim := eventlog.New(store, coord)
	statePrim := statecell.New(store, coord)
	vectorPrim := vector.New(store, coord, opts.Dir)

	for _, p := range []registry.Primitive{runs, kvPrim, jsonPrim, eventPrim, statePrim, vectorPrim} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	result, err := recovery.Recover(walDir, snapDir, reg, coord, runs)
	if err != nil {
		return nil, err
	}
	opts.Logger.Infow("engine recovered",
		"snapshot_found", result.SnapshotFound,
		"records_replayed", result.RecordsReplayed,
		"txns_applied", result.TxnsApplied,
		"txns_discarded", result.TxnsDiscarded,
		"runs_orphaned", result.RunsOrphaned,
	)

	segments, err := wal.ListSegments(walDir)
	if err != nil {
		return nil, err
	}
	nextSegment := uint64(0)
	for _, s := range segments {
		if s >= nextSegment {
			nextSegment = s + 1
		}
	}
	walW, err := wal.Open(wal.Options{Dir: walDir, Mode: opts.WALMode, Logger: opts.Logger}, nextSegment)
	if err != nil {
		return nil, err
	}
	coord.SetWAL(walW)

	e := &Engine{
		dir:        opts.Dir,
		manifest:   m,
		log:        opts.Logger,
		store:      store,
		coord:      coord,
		walW:       walW,
		reg:        reg,
		kv:         kvPrim,
		jsondoc:    jsonPrim,
		eventlog:   eventPrim,
		state:      statePrim,
		runs:       runs,
		vectors:    vectorPrim,
		snapWriter: snapshot.NewWriter(snapDir, dbUUID),
		snapDir:    snapDir,
	}
	return e, nil
}

// Close flushes and closes the WAL writer. It does not delete anything
// on disk; reopening Dir resumes from exactly this state.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return strataerr.Closed("engine.Close")
	}
	e.closed = true
	e.log.Sync()
	return e.walW.Close()
}

// Begin starts a transaction scoped to run.
func (e *Engine) Begin(runID types.RunID) *txn.Context {
	return e.coord.Begin(runID)
}

// Commit runs the coordinator's seven-step commit protocol over ctx.
func (e *Engine) Commit(ctx *txn.Context) (types.Version, error) {
	return e.coord.Commit(ctx)
}

// Abort discards ctx's staged writes without installing anything.
func (e *Engine) Abort(ctx *txn.Context) error {
	return e.coord.Abort(ctx)
}

// RegisterPrimitive adds a custom primitive to an already-open engine's
// registry. Recovery has already run inside Open, so the primitive receives
// no snapshot sections or WAL records replayed before it was registered;
// it sees only entries written from then on.
func (e *Engine) RegisterPrimitive(p registry.Primitive) error {
	return e.reg.Register(p)
}

// Store exposes the shared MVCC store directly for primitives or tooling
// that need to scan across tags.
func (e *Engine) Store() *mvcc.Store { return e.store }

// Coordinator exposes the shared commit coordinator.
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }

// Registry exposes the primitive registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// KV returns the key/value primitive facade.
func (e *Engine) KV() *kv.KV { return e.kv }

// JSON returns the JSON document primitive facade.
func (e *Engine) JSON() *jsondoc.JSONDoc { return e.jsondoc }

// Events returns the event log primitive facade.
func (e *Engine) Events() *eventlog.EventLog { return e.eventlog }

// State returns the state cell primitive facade.
func (e *Engine) State() *statecell.StateCell { return e.state }

// Runs returns the run/branch lifecycle primitive facade.
func (e *Engine) Runs() *run.Manager { return e.runs }

// Vectors returns the vector collection primitive facade.
func (e *Engine) Vectors() *vector.Manager { return e.vectors }

// Flush forces every buffered WAL record to durable storage immediately,
// regardless of the configured durability mode.
func (e *Engine) Flush() error {
	return e.walW.Sync()
}
