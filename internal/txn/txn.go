// Package txn implements Sombra's transaction manager: single-writer,
// many-reader scheduling on top of the pager's per-page WAL logging,
// snapshot-TxId assignment for readers, and the active-reader bookkeeping
// that both MVCC garbage collection (internal/mvcc) and the checkpointer's
// smart-skip (internal/pager) need.
//
// Sombra never allows more than one writer at a time, so there is no
// write-write conflict to detect: the only coordination problem this
// package solves is making sure a writer's in-flight mutations never
// become visible to a reader who took its snapshot before the writer's
// commit, and that version history isn't pruned out from under a reader
// that still needs it.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

// Snapshot is a reader's frozen view of the database: every entity is
// observed exactly as committed at TxID. Callers must call Release when
// done so the Manager can advance its GC watermark and run any checkpoint
// that was deferred on account of this reader being active.
type Snapshot struct {
	TxID pager.TxID

	mgr    *Manager
	handle uint64
	once   sync.Once
}

// Release drops this snapshot from the active-reader set. Idempotent.
func (s *Snapshot) Release() {
	s.once.Do(func() {
		s.mgr.releaseReader(s.handle)
	})
}

// WriterTx is the single in-flight writer transaction. Pages mutated
// through it are staged in the pager's buffer pool and logged to the WAL
// immediately (see pager.WritePage), which also records them against
// TxID internally; Commit only needs to write the commit marker and
// publish deferred frees, and Rollback asks the pager to evict exactly
// the pages this transaction touched so a subsequent read falls back to
// the pre-transaction disk image.
type WriterTx struct {
	TxID pager.TxID

	mgr  *Manager
	done bool
}

// WritePage writes pid through the pager on behalf of this transaction.
func (w *WriterTx) WritePage(pid pager.PageID, buf []byte) error {
	return w.mgr.pager.WritePage(w.TxID, pid, buf)
}

// Manager schedules the single writer and tracks active reader snapshots.
type Manager struct {
	pager *pager.Pager

	writerSem chan struct{} // capacity 1; held by the in-flight writer

	mu            sync.Mutex
	lastCommitted pager.TxID
	readers       map[uint64]pager.TxID
	nextHandle    uint64

	maxCheckpointDefer int
	deferCount         int
	pendingCheckpoint  bool
}

// Config tunes the checkpoint smart-skip policy.
type Config struct {
	// MaxCheckpointDefer bounds how many times a soft checkpoint request
	// may be deferred while readers are active before it is forced
	// through regardless, bounding WAL growth.
	MaxCheckpointDefer int
}

// NewManager creates a transaction manager over p. lastCommitted starts
// at p's current NextTxID-1, i.e. whatever was durable when the file was
// last closed (or 0 for a brand-new file).
func NewManager(p *pager.Pager, cfg Config) *Manager {
	hdr := p.HeaderSnapshot()
	last := pager.TxID(0)
	if hdr.NextTxID > 0 {
		last = hdr.NextTxID - 1
	}
	maxDefer := cfg.MaxCheckpointDefer
	if maxDefer <= 0 {
		maxDefer = 64
	}
	return &Manager{
		pager:              p,
		writerSem:          make(chan struct{}, 1),
		lastCommitted:      last,
		readers:            make(map[uint64]pager.TxID),
		maxCheckpointDefer: maxDefer,
	}
}

// LastCommitted returns the most recently committed TxID.
func (m *Manager) LastCommitted() pager.TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCommitted
}

// BeginRead acquires a reader snapshot at the last committed TxID. It
// never blocks on the writer lock — readers are lock-free past this call.
func (m *Manager) BeginRead() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextHandle++
	h := m.nextHandle
	snap := m.lastCommitted
	m.readers[h] = snap

	return &Snapshot{TxID: snap, mgr: m, handle: h}
}

func (m *Manager) releaseReader(handle uint64) {
	m.mu.Lock()
	delete(m.readers, handle)
	empty := len(m.readers) == 0
	pending := m.pendingCheckpoint
	m.mu.Unlock()

	if empty && pending {
		// The last reader to leave runs the checkpoint that was deferred
		// while it (or a sibling) was active.
		_ = m.runCheckpointLocked(true)
	}
}

// ActiveReaders returns the TxIDs of every currently held reader snapshot.
func (m *Manager) ActiveReaders() []pager.TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pager.TxID, 0, len(m.readers))
	for _, tx := range m.readers {
		out = append(out, tx)
	}
	return out
}

// GCWatermark is the minimum TxID that must remain visible: the oldest
// active reader's snapshot, or lastCommitted if there are no active
// readers (nothing older than the latest commit needs to survive).
func (m *Manager) GCWatermark() pager.TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	watermark := m.lastCommitted
	for _, tx := range m.readers {
		if tx < watermark {
			watermark = tx
		}
	}
	return watermark
}

// BeginWrite blocks until the exclusive writer lock is available (or ctx
// is cancelled) and returns a fresh WriterTx with a newly assigned TxID.
func (m *Manager) BeginWrite(ctx context.Context) (*WriterTx, error) {
	select {
	case m.writerSem <- struct{}{}:
	case <-ctx.Done():
		return nil, sombraerr.Wrap(sombraerr.Cancelled, "txn.BeginWrite", ctx.Err())
	}

	txID, err := m.pager.BeginTx()
	if err != nil {
		<-m.writerSem
		return nil, sombraerr.Wrap(sombraerr.IO, "txn.BeginWrite", err)
	}

	return &WriterTx{TxID: txID, mgr: m}, nil
}

// Commit durably commits w: writes the commit marker, fsyncs the WAL,
// publishes deferred frees, advances
// lastCommitted, and releases the writer lock.
func (m *Manager) Commit(w *WriterTx) error {
	if w.done {
		return sombraerr.New(sombraerr.InvalidArg, "txn.Commit").WithContext("transaction already finished")
	}
	w.done = true
	defer func() { <-m.writerSem }()

	if err := m.pager.CommitTx(w.TxID); err != nil {
		return sombraerr.Wrap(sombraerr.IO, "txn.Commit", err)
	}

	m.mu.Lock()
	m.lastCommitted = w.TxID
	m.mu.Unlock()

	return nil
}

// Rollback discards w's changes: it writes an ABORT marker (dropping any
// staged free-page frees) and asks the pager to evict every page this
// transaction touched from the buffer pool so the next reader sees the
// pre-transaction disk image — safe because dirty pages are never
// flushed to the main file until the next checkpoint, and no checkpoint
// can run while the writer lock is held.
func (m *Manager) Rollback(w *WriterTx) error {
	if w.done {
		return nil
	}
	w.done = true
	defer func() { <-m.writerSem }()

	if err := m.pager.AbortTx(w.TxID); err != nil {
		return sombraerr.Wrap(sombraerr.IO, "txn.Rollback", err)
	}
	return nil
}

// RequestCheckpoint asks for a checkpoint. If force is true, or no
// readers are currently active, it runs immediately. Otherwise it is
// deferred until the active reader count drops to zero, unless it has
// already been deferred MaxCheckpointDefer times, in which case it is
// forced through to bound WAL growth.
func (m *Manager) RequestCheckpoint(force bool) error {
	return m.runCheckpointLocked(force)
}

func (m *Manager) runCheckpointLocked(force bool) error {
	m.mu.Lock()
	if !force && len(m.readers) > 0 {
		m.deferCount++
		if m.deferCount <= m.maxCheckpointDefer {
			m.pendingCheckpoint = true
			m.mu.Unlock()
			return nil
		}
		// Exceeded the defer budget: force through despite active readers.
	}
	m.deferCount = 0
	m.pendingCheckpoint = false
	m.mu.Unlock()

	// Hold the writer slot so a checkpoint never flushes the dirty pages of
	// a writer that is still in flight.
	m.writerSem <- struct{}{}
	defer func() { <-m.writerSem }()

	if err := m.pager.Checkpoint(); err != nil {
		return sombraerr.Wrap(sombraerr.IO, "txn.Checkpoint", err)
	}
	return nil
}

// Stats reports bookkeeping useful for pragma/inspection surfaces.
type Stats struct {
	LastCommitted  pager.TxID
	ActiveReaders  int
	WriterBusy     bool
	DeferredCommit bool
}

// Stats returns a snapshot of the manager's bookkeeping.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		LastCommitted:  m.lastCommitted,
		ActiveReaders:  len(m.readers),
		WriterBusy:     len(m.writerSem) == cap(m.writerSem),
		DeferredCommit: m.pendingCheckpoint,
	}
}

// String implements fmt.Stringer for debug logging.
func (s Stats) String() string {
	return fmt.Sprintf("lastCommitted=%d activeReaders=%d writerBusy=%v deferredCheckpoint=%v",
		s.LastCommitted, s.ActiveReaders, s.WriterBusy, s.DeferredCommit)
}
