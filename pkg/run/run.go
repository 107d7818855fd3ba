// Package run implements the run/branch lifecycle index (C10): per-run
// metadata (status, timing, WAL offsets, event count), unconditional
// status-transition overwrites, an in-memory event-offset index for
// bounding replay to one run, and cascading delete across every primitive.
package run

import (
	"sync"

	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// Status is a run's durability lifecycle state.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusOrphaned  Status = "Orphaned"
	StatusNotFound  Status = "NotFound"
)

// Meta is a run's lifecycle record. EndedAt and EndWALOffset are nil until
// the run completes.
type Meta struct {
	RunID          types.RunID
	Status         Status
	StartedAt      int64
	EndedAt        *int64
	EventCount     uint64
	BeginWALOffset uint64
	EndWALOffset   *uint64
}

const (
	fieldRunID      = "run_id"
	fieldStatus     = "status"
	fieldStartedAt  = "started_at"
	fieldEndedAt    = "ended_at"
	fieldEventCount = "event_count"
	fieldBeginWAL   = "begin_wal_offset"
	fieldEndWAL     = "end_wal_offset"
)

func toStoredValue(m Meta) types.Value {
	obj := map[string]types.Value{
		fieldRunID:      types.Bytes(m.RunID.Bytes()[:]),
		fieldStatus:     types.String(string(m.Status)),
		fieldStartedAt:  types.I64(m.StartedAt),
		fieldEventCount: types.I64(int64(m.EventCount)),
		fieldBeginWAL:   types.I64(int64(m.BeginWALOffset)),
		fieldEndedAt:    types.Null(),
		fieldEndWAL:     types.Null(),
	}
	if m.EndedAt != nil {
		obj[fieldEndedAt] = types.I64(*m.EndedAt)
	}
	if m.EndWALOffset != nil {
		obj[fieldEndWAL] = types.I64(int64(*m.EndWALOffset))
	}
	return types.Object(obj)
}

func fromStoredValue(v types.Value) (Meta, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return Meta{}, false
	}
	runIDBytes, ok := obj[fieldRunID].AsBytes()
	if !ok || len(runIDBytes) != 16 {
		return Meta{}, false
	}
	var raw [16]byte
	copy(raw[:], runIDBytes)

	statusStr, ok := obj[fieldStatus].AsString()
	if !ok {
		return Meta{}, false
	}
	startedAt, ok := obj[fieldStartedAt].AsI64()
	if !ok {
		return Meta{}, false
	}
	eventCount, ok := obj[fieldEventCount].AsI64()
	if !ok {
		return Meta{}, false
	}
	beginWAL, ok := obj[fieldBeginWAL].AsI64()
	if !ok {
		return Meta{}, false
	}

	m := Meta{
		RunID:          types.RunIDFromBytes(raw),
		Status:         Status(statusStr),
		StartedAt:      startedAt,
		EventCount:     uint64(eventCount),
		BeginWALOffset: uint64(beginWAL),
	}
	if endedAt, ok := obj[fieldEndedAt].AsI64(); ok {
		m.EndedAt = &endedAt
	}
	if endWAL, ok := obj[fieldEndWAL].AsI64(); ok {
		v := uint64(endWAL)
		m.EndWALOffset = &v
	}
	return m, true
}

// Manager is the run/branch lifecycle primitive bound to one store and
// coordinator. It also keeps a process-local event-offset index: a
// derived view over the WAL, not a new source of truth, rebuilt from
// scratch whenever the process restarts (see RebuildIndexes).
type Manager struct {
	store *mvcc.Store
	coord *coordinator.Coordinator

	mu      sync.Mutex
	offsets map[types.RunID][]uint64
}

// New returns a Manager over store and coord.
func New(store *mvcc.Store, coord *coordinator.Coordinator) *Manager {
	return &Manager{store: store, coord: coord, offsets: make(map[types.RunID][]uint64)}
}

func (m *Manager) namespace(tenant, app, agent string, run types.RunID) types.Namespace {
	return types.Namespace{Tenant: tenant, App: app, Agent: agent, Run: run}
}

func (m *Manager) key(ns types.Namespace) types.Key {
	return types.NewKey(ns, types.TagRun, nil)
}

func (m *Manager) put(ns types.Namespace, meta Meta) error {
	ctx := m.coord.Begin(ns.Run)
	ctx.Put(m.key(ns), toStoredValue(meta))
	_, err := m.coord.Commit(ctx)
	return err
}

// Begin records a freshly started run as Active.
func (m *Manager) Begin(ns types.Namespace, startedAt int64, beginWALOffset uint64) (Meta, error) {
	meta := Meta{
		RunID:          ns.Run,
		Status:         StatusActive,
		StartedAt:      startedAt,
		BeginWALOffset: beginWALOffset,
	}
	if err := m.put(ns, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Complete unconditionally overwrites the run's status to Completed,
// regardless of its prior state — matching the source system's documented
// "status transitions are unconditional overwrites" design decision.
func (m *Manager) Complete(ns types.Namespace, endedAt int64, endWALOffset uint64) (Meta, error) {
	meta, ok := m.Get(ns)
	if !ok {
		return Meta{}, strataerr.NotFound("run.Complete", ns.Run.String())
	}
	meta.Status = StatusCompleted
	meta.EndedAt = &endedAt
	meta.EndWALOffset = &endWALOffset
	if err := m.put(ns, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// MarkOrphaned unconditionally overwrites the run's status to Orphaned,
// used by recovery when a run's begin marker has no matching end marker.
func (m *Manager) MarkOrphaned(ns types.Namespace) (Meta, error) {
	meta, ok := m.Get(ns)
	if !ok {
		return Meta{}, strataerr.NotFound("run.MarkOrphaned", ns.Run.String())
	}
	meta.Status = StatusOrphaned
	if err := m.put(ns, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// MarkAllOrphaned scans every run lifecycle record in the store and
// transitions any still Active to Orphaned — the crash-recovery sweep
// that runs once WAL replay reaches the end of the log and any run
// without a matching Complete call is presumed abandoned mid-run.
func (m *Manager) MarkAllOrphaned() (int, error) {
	n := 0
	for _, r := range m.store.ScanByTag(types.TagRun) {
		meta, ok := fromStoredValue(r.Value.Value)
		if !ok || meta.Status != StatusActive {
			continue
		}
		if _, err := m.MarkOrphaned(r.Key.Namespace); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Get returns the run's lifecycle record, or false if the run was never
// begun (or was cascade-deleted).
func (m *Manager) Get(ns types.Namespace) (Meta, bool) {
	vv, ok := m.store.Get(m.key(ns))
	if !ok {
		return Meta{}, false
	}
	return fromStoredValue(vv.Value)
}

// StatusOf reports a run's status, returning StatusNotFound if the run
// doesn't exist in the system at all.
func (m *Manager) StatusOf(ns types.Namespace) Status {
	meta, ok := m.Get(ns)
	if !ok {
		return StatusNotFound
	}
	return meta.Status
}

// RecordEvent increments the run's event count and appends walOffset to
// its in-memory event-offset index. It is not called by pkg/eventlog's
// Append; the index holds only offsets that callers record explicitly.
func (m *Manager) RecordEvent(ns types.Namespace, walOffset uint64) error {
	meta, ok := m.Get(ns)
	if !ok {
		return strataerr.NotFound("run.RecordEvent", ns.Run.String())
	}
	meta.EventCount++
	if err := m.put(ns, meta); err != nil {
		return err
	}

	m.mu.Lock()
	m.offsets[ns.Run] = append(m.offsets[ns.Run], walOffset)
	m.mu.Unlock()
	return nil
}

// EventOffsets returns the WAL offsets of every event recorded for run,
// enabling replay bounded to O(run size) instead of a full WAL scan.
func (m *Manager) EventOffsets(runID types.RunID) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.offsets[runID]))
	copy(out, m.offsets[runID])
	return out
}

// DeleteRun cascades: it permanently removes every key belonging to run
// across every primitive (KV, JSON, Event, State, the run's own lifecycle
// record) and drops its event-offset index entry.
func (m *Manager) DeleteRun(runID types.RunID) int {
	m.mu.Lock()
	delete(m.offsets, runID)
	m.mu.Unlock()
	return m.store.DeleteRun(runID)
}

// Name identifies this primitive in the registry.
func (m *Manager) Name() string { return "run" }

// TypeID is the run lifecycle primitive's snapshot section tag.
func (m *Manager) TypeID() uint8 { return 6 }

// WALEntryTypes lists the WAL entry types run lifecycle records own.
func (m *Manager) WALEntryTypes() []wal.EntryType {
	return []wal.EntryType{wal.EntryRunUpsert, wal.EntryRunDelete}
}

// SerializeSnapshot dumps every live run lifecycle record in the store.
func (m *Manager) SerializeSnapshot() ([]byte, error) {
	return mvcc.EncodeEntries(m.store.ScanByTag(types.TagRun)), nil
}

// DeserializeSnapshot restores run lifecycle records from a snapshot
// section. The event-offset index is not part of the section and is not
// restored.
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

// ApplyWALEntry replays a single committed run-lifecycle WAL record.
func (m *Manager) ApplyWALEntry(rec wal.Record) error {
	switch rec.Type {
	case wal.EntryRunUpsert:
		w, err := wal.DecodeKeyValuePayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(w.KeyBytes)
		if err != nil {
			return strataerr.Corruption("run.ApplyWALEntry", err)
		}
		m.store.InstallAt(key, w.Value, w.Version, int64(rec.TimestampMicro), nil)
		return nil
	case wal.EntryRunDelete:
		d, err := wal.DecodeKeyPayload(rec.Payload)
		if err != nil {
			return err
		}
		key, err := types.DecodeKey(d.KeyBytes)
		if err != nil {
			return strataerr.Corruption("run.ApplyWALEntry", err)
		}
		m.store.InstallAt(key, types.Null(), d.Version, int64(rec.TimestampMicro), nil)
		return nil
	default:
		return strataerr.Internal("run.ApplyWALEntry", nil)
	}
}

// RebuildIndexes discards the process-local event-offset index. It is a
// derived view over the WAL (not a new source of truth per the durability
// design this index follows), so after a fresh open there is nothing to
// reconstruct from the store alone. Recovery does not call RecordEvent, so
// after it the index is empty and holds only offsets recorded later.
func (m *Manager) RebuildIndexes() error {
	m.mu.Lock()
	m.offsets = make(map[types.RunID][]uint64)
	m.mu.Unlock()
	return nil
}
