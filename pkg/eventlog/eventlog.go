// Package eventlog is the append-only event log primitive: per-run,
// gap-free, monotonically sequenced events whose hash chain
// (hash_n = H(hash_{n-1} || payload_n)) is verifiable from any event back
// to sequence 0.
package eventlog

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"strata/pkg/coordinator"
	"strata/pkg/mvcc"
	"strata/pkg/strataerr"
	"strata/pkg/types"
	"strata/pkg/wal"
)

// ZeroHash is the prev_hash of the first event (sequence 0) in any run.
var ZeroHash [32]byte

// Event is one decoded log entry.
type Event struct {
	Sequence uint64
	Payload  types.Value
	PrevHash [32]byte
	Hash     [32]byte
}

const (
	fieldPayload  = "payload"
	fieldPrevHash = "prev_hash"
	fieldHash     = "hash"
	fieldSequence = "sequence"
)

func toStoredValue(e Event) types.Value {
	return types.Object(map[string]types.Value{
		fieldPayload:  e.Payload,
		fieldPrevHash: types.Bytes(e.PrevHash[:]),
		fieldHash:     types.Bytes(e.Hash[:]),
		fieldSequence: types.I64(int64(e.Sequence)),
	})
}

func fromStoredValue(v types.Value) (Event, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return Event{}, false
	}
	payload, ok := obj[fieldPayload]
	if !ok {
		return Event{}, false
	}
	prevHashBytes, ok := obj[fieldPrevHash].AsBytes()
	if !ok {
		return Event{}, false
	}
	hashBytes, ok := obj[fieldHash].AsBytes()
	if !ok {
		return Event{}, false
	}
	seq, ok := obj[fieldSequence].AsI64()
	if !ok {
		return Event{}, false
	}
	var e Event
	e.Sequence = uint64(seq)
	e.Payload = payload
	copy(e.PrevHash[:], prevHashBytes)
	copy(e.Hash[:], hashBytes)
	return e, true
}

func seqBytes(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func seqFromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func chainHash(prev [32]byte, payload types.Value) [32]byte {
	payloadBytes := types.EncodeValue(nil, payload)
	h := sha256.New()
	h.Write(prev[:])
	h.Write(payloadBytes)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// runState is the cached chain tip for one run: the next sequence to
// assign and the hash of the most recently appended event.
type runState struct {
	next     uint64
	lastHash [32]byte
}

// EventLog is the event log primitive bound to one store and coordinator.
type EventLog struct {
	store *mvcc.Store
	coord *coordinator.Coordinator

	mu    sync.Mutex
	state map[types.RunID]runState
}

// New returns an EventLog primitive over store and coord.
func New(store *mvcc.Store, coord *coordinator.Coordinator) *EventLog {
	return &EventLog{store: store, coord: coord, state: make(map[types.RunID]runState)}
}

func (l *EventLog) key(ns types.Namespace, seq uint64) types.Key {
	return types.NewKey(ns, types.TagEvent, seqBytes(seq))
}

// stateFor returns the cached chain tip for ns.Run, computing it by
// scanning the run's existing events the first time it's needed (after
// a fresh open, or before any Append in this process has touched the
// run).
func (l *EventLog) stateFor(ns types.Namespace) runState {
	if st, ok := l.state[ns.Run]; ok {
		return st
	}
	prefix := types.NamespaceTagPrefix(ns, types.TagEvent)
	results := l.store.ScanPrefix(prefix)
	st := runState{next: 0, lastHash: ZeroHash}
	for _, r := range results {
		e, ok := fromStoredValue(r.Value.Value)
		if !ok {
			continue
		}
		if e.Sequence+1 > st.next {
			st.next = e.Sequence + 1
			st.lastHash = e.Hash
		}
	}
	l.state[ns.Run] = st
	return st
}

// Append adds payload as the next event in ns.Run's chain, returning the
// assigned sequence and this event's hash.
func (l *EventLog) Append(ns types.Namespace, payload types.Value) (uint64, [32]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateFor(ns)
	hash := chainHash(st.lastHash, payload)
	event := Event{Sequence: st.next, Payload: payload, PrevHash: st.lastHash, Hash: hash}

	ctx := l.coord.Begin(ns.Run)
	ctx.Put(l.key(ns, st.next), toStoredValue(event))
	if _, err := l.coord.Commit(ctx); err != nil {
		return 0, [32]byte{}, err
	}

	l.state[ns.Run] = runState{next: st.next + 1, lastHash: hash}
	return event.Sequence, hash, nil
}

// Get returns the event at sequence seq within ns.Run.
func (l *EventLog) Get(ns types.Namespace, seq uint64) (Event, bool) {
	vv, ok := l.store.Get(l.key(ns, seq))
	if !ok {
		return Event{}, false
	}
	return fromStoredValue(vv.Value)
}

// ScanRun returns every event in ns.Run in ascending sequence order. Since
// sequence numbers are encoded big-endian, the store's natural key order
// is already sequence order.
func (l *EventLog) ScanRun(ns types.Namespace) []Event {
	prefix := types.NamespaceTagPrefix(ns, types.TagEvent)
	results := l.store.ScanPrefix(prefix)
	events := make([]Event, 0, len(results))
	for _, r := range results {
		if e, ok := fromStoredValue(r.Value.Value); ok {
			events = append(events, e)
		}
	}
	return events
}

// VerifyChain re-derives each event's hash from its payload and the
// previous event's hash, returning an error at the first mismatch.
// Implements the "hash chain verifiable from any event back to sequence
// 0" invariant as a callable check rather than just an on-write guarantee.
func VerifyChain(events []Event) error {
	prev := ZeroHash
	for _, e := range events {
		if e.PrevHash != prev {
			return strataerr.Corruption("eventlog.VerifyChain", nil)
		}
		want := chainHash(prev, e.Payload)
		if want != e.Hash {
			return strataerr.Corruption("eventlog.VerifyChain", nil)
		}
		prev = e.Hash
	}
	return nil
}

// Name identifies this primitive in the registry.
func (l *EventLog) Name() string { return "eventlog" }

// TypeID is the event log primitive's snapshot section tag.
func (l *EventLog) TypeID() uint8 { return 3 }

// WALEntryTypes lists the WAL entry types the event log owns. Events are
// append-only: there is no delete entry type.
func (l *EventLog) WALEntryTypes() []wal.EntryType {
	return []wal.EntryType{wal.EntryEventAppend}
}

// SerializeSnapshot dumps every event in the store.
func (l *EventLog) SerializeSnapshot() ([]byte, error) {
	return mvcc.EncodeEntries(l.store.ScanByTag(types.TagEvent)), nil
}

// DeserializeSnapshot restores events from a snapshot section. The chain
// tip cache is left to be rebuilt by RebuildIndexes.
func (l *EventLog) DeserializeSnapshot(data []byte) error {
	entries, err := mvcc.DecodeEntries(data)
	if err != nil {
		return err
	}
	for _, e := range entries {
		l.store.InstallAt(e.Key, e.Value.Value, e.Value.Version, e.Value.TimestampMicro, e.Value.ExpiryMicro)
	}
	return nil
}

// ApplyWALEntry replays a single committed event-append WAL record.
func (l *EventLog) ApplyWALEntry(rec wal.Record) error {
	if rec.Type != wal.EntryEventAppend {
		return strataerr.Internal("eventlog.ApplyWALEntry", nil)
	}
	w, err := wal.DecodeKeyValuePayload(rec.Payload)
	if err != nil {
		return err
	}
	key, err := types.DecodeKey(w.KeyBytes)
	if err != nil {
		return strataerr.Corruption("eventlog.ApplyWALEntry", err)
	}
	l.store.InstallAt(key, w.Value, w.Version, int64(rec.TimestampMicro), nil)
	return nil
}

// RebuildIndexes recomputes each run's cached chain tip (next sequence,
// last hash) from the events currently in the store, discarding whatever
// was cached before.
func (l *EventLog) RebuildIndexes() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make(map[types.RunID]runState)
	for _, r := range l.store.ScanByTag(types.TagEvent) {
		e, ok := fromStoredValue(r.Value.Value)
		if !ok {
			continue
		}
		run := r.Key.Namespace.Run
		st := fresh[run]
		if e.Sequence+1 > st.next {
			st.next = e.Sequence + 1
			st.lastHash = e.Hash
		}
		fresh[run] = st
	}
	l.state = fresh
	return nil
}
