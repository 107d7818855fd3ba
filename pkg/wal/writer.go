package wal

import (
	"bufio"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"strata/internal/obslog"
	"strata/pkg/strataerr"
	"strata/pkg/types"
)

// DurabilityMode selects the commit-path fsync policy (§4.5.1).
type DurabilityMode int

const (
	// Strict fsyncs the commit marker before acknowledging: every
	// acknowledged commit survives a crash.
	Strict DurabilityMode = iota
	// Buffered appends without fsync; a background goroutine fsyncs on a
	// timer or once enough writes have accumulated. Bounded loss window of
	// max(interval, threshold) writes.
	Buffered
	// Async appends without fsync; a dedicated goroutine fsyncs at a fixed
	// interval regardless of pending write count.
	Async
	// InMemory never touches disk.
	InMemory
)

// defaultRotationThreshold is the segment size, in bytes, past which a new
// segment is started on the next append.
const defaultRotationThreshold = 64 << 20 // 64 MiB

// Options configures a Writer.
type Options struct {
	Dir               string
	Mode              DurabilityMode
	RotationThreshold int64         // bytes; 0 uses defaultRotationThreshold
	BufferedInterval  time.Duration // Buffered mode fsync timer
	BufferedThreshold int           // Buffered mode pending-write count trigger
	AsyncInterval     time.Duration // Async mode fsync timer
	Logger            *obslog.Logger
}

// Writer appends framed records to the current segment, rotating to a new
// segment file once the rotation threshold is exceeded, and maintains the
// sidecar SegmentMeta for the segment currently being written.
type Writer struct {
	dir               string
	mode              DurabilityMode
	rotationThreshold int64
	log               *obslog.Logger

	mu             sync.Mutex
	file           *os.File
	buf            *bufio.Writer
	segmentNumber  uint64
	segmentOffset  int64
	segmentMeta    SegmentMeta
	lastSyncOffset int64

	pendingWrites atomic.Int64
	lastFlush     atomic.Int64 // unix nanos

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}
	wg           sync.WaitGroup

	bufferedInterval  time.Duration
	bufferedThreshold int
	asyncInterval     time.Duration
}

// Open creates or resumes a WAL writer rooted at opts.Dir, starting a fresh
// segment numbered nextSegment (the caller — typically the recovery
// engine — determines this from the highest existing segment on disk).
func Open(opts Options, nextSegment uint64) (*Writer, error) {
	if opts.RotationThreshold <= 0 {
		opts.RotationThreshold = defaultRotationThreshold
	}
	if opts.BufferedInterval <= 0 {
		opts.BufferedInterval = 50 * time.Millisecond
	}
	if opts.BufferedThreshold <= 0 {
		opts.BufferedThreshold = 200
	}
	if opts.AsyncInterval <= 0 {
		opts.AsyncInterval = 200 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = obslog.Nop()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, strataerr.IO("wal.Open", err)
	}

	w := &Writer{
		dir:               opts.Dir,
		mode:              opts.Mode,
		rotationThreshold: opts.RotationThreshold,
		log:               logger,
		done:              make(chan struct{}),
		bufferedInterval:  opts.BufferedInterval,
		bufferedThreshold: opts.BufferedThreshold,
		asyncInterval:     opts.AsyncInterval,
	}
	if err := w.openSegment(nextSegment); err != nil {
		return nil, err
	}

	if w.mode == Buffered || w.mode == Async {
		w.wg.Add(1)
		go w.flushLoop()
	}
	return w, nil
}

func (w *Writer) openSegment(segmentNumber uint64) error {
	path := SegmentPath(w.dir, segmentNumber)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return strataerr.IO("wal.openSegment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return strataerr.IO("wal.openSegment", err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.segmentNumber = segmentNumber
	w.segmentOffset = info.Size()
	w.segmentMeta = NewEmptySegmentMeta(segmentNumber)
	return nil
}

// rotate seals the current segment (flushing its meta sidecar) and opens
// the next one. Caller must hold w.mu.
func (w *Writer) rotate() error {
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.segmentMeta.WriteToFile(w.dir); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return strataerr.IO("wal.rotate", err)
	}
	return w.openSegment(w.segmentNumber + 1)
}

func (w *Writer) appendLocked(r Record) error {
	if w.segmentOffset >= w.rotationThreshold {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	encoded := encodeRecord(r)
	n, err := w.buf.Write(encoded)
	if err != nil {
		return strataerr.IO("wal.appendLocked", err)
	}
	w.segmentOffset += int64(n)
	w.segmentMeta.Track(r.TxnID, r.TimestampMicro)
	return nil
}

func (w *Writer) flushLocked() error {
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return strataerr.IO("wal.flushLocked", err)
	}
	return nil
}

func (w *Writer) syncLocked() error {
	if err := w.flushLocked(); err != nil {
		return err
	}
	if w.mode == InMemory {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return strataerr.IO("wal.syncLocked", err)
	}
	w.lastSyncOffset = w.segmentOffset
	return nil
}

func nowMicro() uint64 {
	return uint64(time.Now().UnixMicro())
}

func (w *Writer) append(entryType EntryType, txnID uint64, run types.RunID, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shutdown.Load() {
		return strataerr.Closed("wal.append")
	}
	return w.appendLocked(Record{
		Type:           entryType,
		TxnID:          txnID,
		Run:            run,
		TimestampMicro: nowMicro(),
		Payload:        payload,
	})
}

// AppendBeginTxn writes a BeginTxn control record.
func (w *Writer) AppendBeginTxn(txnID uint64, run types.RunID) error {
	if err := w.append(EntryBeginTxn, txnID, run, nil); err != nil {
		return err
	}
	return w.afterWrite()
}

// AppendWrite writes a data Put entry for key's primitive (resolved from
// key.Tag), carrying value and the commit version the coordinator assigned.
func (w *Writer) AppendWrite(txnID uint64, run types.RunID, key types.Key, value types.Value, version types.Version) error {
	entryType, _, ok := EntryTypeForTag(key.Tag)
	if !ok {
		return strataerr.Internal("wal.AppendWrite", nil)
	}
	payload := encodeKeyValuePayload(key, value, version)
	if err := w.append(entryType, txnID, run, payload); err != nil {
		return err
	}
	return w.afterWrite()
}

// AppendDelete writes a data Delete entry for key's primitive.
func (w *Writer) AppendDelete(txnID uint64, run types.RunID, key types.Key, version types.Version) error {
	_, entryType, ok := EntryTypeForTag(key.Tag)
	if !ok || entryType == 0 {
		return strataerr.Internal("wal.AppendDelete", nil)
	}
	payload := encodeKeyPayload(key, version)
	if err := w.append(entryType, txnID, run, payload); err != nil {
		return err
	}
	return w.afterWrite()
}

// AppendCommitTxn writes the CommitTxn marker — the durability point for
// the transaction — and applies the durability-mode fsync policy.
func (w *Writer) AppendCommitTxn(txnID uint64, version types.Version) error {
	var payload []byte
	payload = types.EncodeVersion(payload, version)
	if err := w.append(EntryCommitTxn, txnID, types.RunID{}, payload); err != nil {
		return err
	}
	return w.afterCommit()
}

// AppendAbortTxn writes an AbortTxn marker. Optional in principle (an
// uncommitted transaction's entries are discarded by recovery regardless),
// kept for diagnostics and for tools that reconstruct a txn timeline.
func (w *Writer) AppendAbortTxn(txnID uint64) error {
	if err := w.append(EntryAbortTxn, txnID, types.RunID{}, nil); err != nil {
		return err
	}
	return w.afterWrite()
}

// AppendSnapshotMarker records the WAL offset a consistent snapshot was
// taken at, always followed by an fsync regardless of durability mode —
// the watermark's correctness depends on this record being durable.
func (w *Writer) AppendSnapshotMarker(snapshotID types.RunID, walOffset uint64) error {
	var payload []byte
	snapBytes := snapshotID.Bytes()
	payload = append(payload, snapBytes[:]...)
	payload = appendU64(payload, walOffset)
	if err := w.append(EntrySnapshotMarker, 0, types.RunID{}, payload); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// afterWrite applies the non-commit durability policy: Strict and InMemory
// flush the buffer (but only Strict's commit marker actually fsyncs);
// Buffered and Async leave fsync to the background goroutine.
func (w *Writer) afterWrite() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.mode {
	case Strict, InMemory:
		return w.flushLocked()
	case Buffered:
		w.pendingWrites.Add(1)
		return w.flushLocked()
	case Async:
		return w.flushLocked()
	default:
		return w.flushLocked()
	}
}

// afterCommit is the durability point: Strict fsyncs synchronously before
// returning, guaranteeing every acknowledged commit survives a crash.
// Other modes flush the buffer and rely on the background goroutine.
func (w *Writer) afterCommit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.mode {
	case Strict:
		return w.syncLocked()
	case InMemory:
		return w.flushLocked()
	case Buffered:
		if err := w.flushLocked(); err != nil {
			return err
		}
		if int(w.pendingWrites.Add(1)) >= w.bufferedThreshold {
			if err := w.syncLocked(); err != nil {
				return err
			}
			w.pendingWrites.Store(0)
		}
		return nil
	case Async:
		return w.flushLocked()
	default:
		return w.flushLocked()
	}
}

// flushLoop is the background fsync goroutine for Buffered and Async
// modes. It wakes only on its ticker; a Buffered writer whose pending
// writes cross the threshold syncs inline in afterCommit instead.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	interval := w.asyncInterval
	if w.mode == Buffered {
		interval = w.bufferedInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			// The timer firing is itself one of Buffered's two trigger
			// conditions (interval or pending-writes threshold), so every
			// tick syncs regardless of how many writes are pending.
			w.mu.Lock()
			_ = w.syncLocked()
			w.mu.Unlock()
			w.pendingWrites.Store(0)
		}
	}
}

// Close stops the background flush goroutine (if any), performs a final
// flush, seals the current segment's meta sidecar, and closes the
// underlying file.
func (w *Writer) Close() error {
	var err error
	w.shutdownOnce.Do(func() {
		w.shutdown.Store(true)
		close(w.done)
		w.wg.Wait()

		w.mu.Lock()
		defer w.mu.Unlock()
		if syncErr := w.syncLocked(); syncErr != nil {
			err = syncErr
			return
		}
		if metaErr := w.segmentMeta.WriteToFile(w.dir); metaErr != nil {
			err = metaErr
			return
		}
		err = w.file.Close()
	})
	return err
}

// Sync forces every buffered record out to the OS and fsyncs the
// current segment file, regardless of the writer's configured
// durability mode. Used by engine.Flush to honor a caller's explicit
// durability request without waiting for Buffered/Async's timers.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shutdown.Load() {
		return strataerr.Closed("wal.Sync")
	}
	return w.syncLocked()
}

// SegmentNumber returns the segment currently being appended to.
func (w *Writer) SegmentNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentNumber
}

// Dir returns the WAL directory this writer appends into.
func (w *Writer) Dir() string {
	return w.dir
}
