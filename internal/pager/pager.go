package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/sombra-db/sombra/internal/pager/wal"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Pool / Pager
// ───────────────────────────────────────────────────────────────────────────
//
// The Pager is the central I/O layer. It manages the database file, the
// segmented WAL, the buffer pool (page cache with dirty tracking), the
// deferred free list, and the header page. All page reads and writes go
// through the Pager so that CRC validation and WAL logging happen
// automatically.

// PageFrame is an in-memory cached page.
type PageFrame struct {
	id     PageID
	buf    []byte
	dirty  bool
	lsn    LSN // LSN of last modification
	pinned int // pin count (>0 = cannot evict)
	prev   *PageFrame
	next   *PageFrame
}

// BufferPoolConfig configures the page buffer pool.
type BufferPoolConfig struct {
	MaxPages int // maximum number of cached pages (default 1024)
}

// PageBufferPool is an LRU page cache with dirty-page tracking.
type PageBufferPool struct {
	mu       sync.Mutex
	maxPages int
	pages    map[PageID]*PageFrame
	// LRU doubly-linked list: head = most recent, tail = least recent.
	head *PageFrame
	tail *PageFrame
}

func newPageBufferPool(maxPages int) *PageBufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &PageBufferPool{
		maxPages: maxPages,
		pages:    make(map[PageID]*PageFrame, maxPages),
	}
}

func (bp *PageBufferPool) get(id PageID) (*PageFrame, bool) {
	f, ok := bp.pages[id]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

// put inserts f into the pool, evicting LRU unpinned/clean frames as needed
// to stay within maxPages. Returns false — without inserting f — when the
// pool is already at capacity and every frame is pinned or dirty, so no
// candidate can be evicted. Per spec §4.1, the caller must surface this as
// an out-of-cache Io failure rather than silently growing past maxPages.
func (bp *PageBufferPool) put(f *PageFrame) bool {
	if _, exists := bp.pages[f.id]; exists {
		bp.moveToFront(f)
		return true
	}
	for len(bp.pages) >= bp.maxPages {
		if !bp.evictOne() {
			return false // all pages pinned or dirty — cannot evict
		}
	}
	bp.pages[f.id] = f
	bp.pushFront(f)
	return true
}

func (bp *PageBufferPool) remove(id PageID) {
	f, ok := bp.pages[id]
	if !ok {
		return
	}
	bp.unlink(f)
	delete(bp.pages, id)
}

// evictOne removes the least-recently-used unpinned, clean page. Dirty
// frames are never evicted here — there is no WAL-frame-less copy of their
// contents outside the cache (the main file still holds the pre-write
// image until the next checkpoint), so evicting one out from under a
// transaction would make the next read observe stale data despite the WAL
// already having logged the update. Returns false if no page can be evicted.
func (bp *PageBufferPool) evictOne() bool {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 && !f.dirty {
			bp.unlink(f)
			delete(bp.pages, f.id)
			return true
		}
	}
	return false
}

// dirtyPages returns all dirty page frames.
func (bp *PageBufferPool) dirtyPages() []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *PageBufferPool) pushFront(f *PageFrame) {
	f.prev = nil
	f.next = bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *PageBufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev = nil
	f.next = nil
}

func (bp *PageBufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// ───────────────────────────────────────────────────────────────────────────
// Pager
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	DBPath        string
	WALDir        string
	PageSize      int
	MaxCachePages int // buffer pool capacity (0 = default 1024)
}

// Pager manages page-level I/O, WAL, buffer pool, and the deferred free list.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	wal      *wal.Manager
	pool     *PageBufferPool
	hdr      *Header
	freeMgr  *FreeManager
	pageSize int
	path     string
	walDir   string
	closed   bool

	// txTouched tracks, per in-flight transaction, every page it wrote or
	// allocated. Rollback uses this to evict exactly those pages from the
	// buffer pool without needing every caller (B-trees, catalog, graph
	// layer) to thread a touched-page set back up to the transaction
	// manager itself.
	txTouched map[TxID]map[PageID]struct{}
}

// OpenPager opens or creates a page-based database.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.DBPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open db file: %w", err)
	}

	p := &Pager{
		file:     f,
		pageSize: ps,
		path:     cfg.DBPath,
		pool:      newPageBufferPool(cfg.MaxCachePages),
		freeMgr:   NewFreeManager(),
		txTouched: make(map[TxID]map[PageID]struct{}),
	}

	if isNew {
		hdr := NewHeader(uint32(ps))
		buf := MarshalHeaderPage(hdr, ps)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header page: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		p.hdr = hdr
	} else {
		hdr, err := p.readHeaderPage()
		if err != nil {
			f.Close()
			return nil, err
		}
		p.hdr = hdr
		p.pageSize = int(hdr.PageSize) // honour on-disk page size

		if hdr.FreeListHead != InvalidPageID {
			if err := p.freeMgr.LoadFromDisk(hdr.FreeListHead, p.readPageRaw); err != nil {
				f.Close()
				return nil, fmt.Errorf("load freelist: %w", err)
			}
		}
	}

	walDir := cfg.WALDir
	if walDir == "" {
		walDir = cfg.DBPath + "-wal"
	}
	p.walDir = walDir
	wm, err := wal.Open(walDir, p.pageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open WAL: %w", err)
	}
	p.wal = wm

	if !isNew {
		if err := p.Recover(); err != nil {
			wm.Close()
			f.Close()
			return nil, fmt.Errorf("WAL recovery: %w", err)
		}
	}

	return p, nil
}

func (p *Pager) readHeaderPage() (*Header, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read header page: %w", err)
	}
	return UnmarshalHeaderPage(buf)
}

// readPageRaw reads a page directly from the database file (no cache).
func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writePageRaw writes a page directly to the database file (no cache).
func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	SetPageCRC(buf)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// ── Public page I/O ───────────────────────────────────────────────────────

// ReadPage returns a page by ID, using the buffer pool cache.
// The page is pinned in the cache; call UnpinPage when done.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageCached(id)
}

func (p *Pager) readPageCached(id PageID) ([]byte, error) {
	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	// Cache miss — read from file.
	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	ok := p.pool.put(f)
	p.pool.mu.Unlock()
	if !ok {
		return nil, sombraerr.New(sombraerr.IO, "pager.ReadPage").
			WithContext("page=%d: buffer pool exhausted (all %d frames pinned or dirty)", id, p.pool.maxPages)
	}
	return buf, nil
}

// UnpinPage decrements the pin count.
func (p *Pager) UnpinPage(id PageID) {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	if f, ok := p.pool.get(id); ok && f.pinned > 0 {
		f.pinned--
	}
}

// markTouched records that txID wrote or allocated pid. Must be called
// with p.mu held.
func (p *Pager) markTouched(txID TxID, pid PageID) {
	set, ok := p.txTouched[txID]
	if !ok {
		set = make(map[PageID]struct{})
		p.txTouched[txID] = set
	}
	set[pid] = struct{}{}
}

// WritePage writes (updates) a page through the WAL. The page image is
// logged to the WAL and cached as dirty. The caller should have called
// BeginTx beforehand.
func (p *Pager) WritePage(txID TxID, id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &wal.Record{
		Type:   wal.RecordPageImage,
		TxID:   uint64(txID),
		PageID: uint32(id),
		Data:   append([]byte{}, buf...), // copy
	}
	lsn, err := p.wal.Append(rec)
	if err != nil {
		return fmt.Errorf("WAL write page %d: %w", id, err)
	}
	p.markTouched(txID, id)

	p.pool.mu.Lock()
	f, ok := p.pool.get(id)
	if !ok {
		f = &PageFrame{id: id, buf: make([]byte, p.pageSize)}
		if !p.pool.put(f) {
			p.pool.mu.Unlock()
			return sombraerr.New(sombraerr.IO, "pager.WritePage").
				WithContext("page=%d: buffer pool exhausted (all %d frames pinned or dirty)", id, p.pool.maxPages)
		}
	}
	copy(f.buf, buf)
	f.dirty = true
	f.lsn = LSN(lsn)
	p.pool.mu.Unlock()

	return nil
}

// ── Transaction management ────────────────────────────────────────────────

// BeginTx starts a new transaction and writes a BEGIN record to the WAL.
func (p *Pager) BeginTx() (TxID, error) {
	p.mu.Lock()
	txID := p.hdr.NextTxID
	p.hdr.NextTxID++
	p.mu.Unlock()

	rec := &wal.Record{Type: wal.RecordBegin, TxID: uint64(txID)}
	if _, err := p.wal.Append(rec); err != nil {
		return 0, err
	}
	return txID, nil
}

// CommitTx writes a COMMIT record, fsyncs the WAL, then publishes every
// page the transaction staged for freeing so future allocations can reuse
// them.
func (p *Pager) CommitTx(txID TxID) error {
	rec := &wal.Record{Type: wal.RecordCommit, TxID: uint64(txID)}
	if _, err := p.wal.Append(rec); err != nil {
		return err
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}
	p.mu.Lock()
	p.freeMgr.PublishFreed(txID)
	delete(p.txTouched, txID)
	p.mu.Unlock()
	return nil
}

// AbortTx writes an ABORT record and discards any pages the transaction
// staged for freeing (they remain in use — the transaction never happened).
func (p *Pager) AbortTx(txID TxID) error {
	rec := &wal.Record{Type: wal.RecordAbort, TxID: uint64(txID)}
	_, err := p.wal.Append(rec)

	p.mu.Lock()
	p.freeMgr.DiscardStaged(txID)
	touched := p.txTouched[txID]
	delete(p.txTouched, txID)
	p.mu.Unlock()

	if len(touched) > 0 {
		ids := make([]PageID, 0, len(touched))
		for pid := range touched {
			ids = append(ids, pid)
		}
		p.DiscardDirty(ids)
	}
	return err
}

// ── Page allocation ───────────────────────────────────────────────────────

// AllocPage allocates a new page (from the free list or by extending the
// file). Returns the page ID and a zeroed buffer. The page is pinned in
// the cache. Returns an Io error, per spec §4.1, if the buffer pool is
// full and every frame is pinned or dirty — it never busy-loops waiting
// for a frame to free up.
func (p *Pager) AllocPage() (PageID, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = p.hdr.NextPageID
		p.hdr.NextPageID++
		p.hdr.PageCount++
	}
	buf := make([]byte, p.pageSize)
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	ok := p.pool.put(f)
	p.pool.mu.Unlock()
	if !ok {
		// The allocated page ID is never written or referenced by the
		// caller on this path (WritePage never runs). Nothing points to
		// it, so the next vacuum reachability scan finds it unreachable
		// and returns it to the free list.
		return InvalidPageID, nil, sombraerr.New(sombraerr.IO, "pager.AllocPage").
			WithContext("buffer pool exhausted (all %d frames pinned or dirty)", p.pool.maxPages)
	}
	return pid, buf, nil
}

// FreePage stages a page for reuse once txID's commit is durable. The page
// stays reserved to txID's transaction until then so a concurrent reader
// holding an older snapshot can never observe it reallocated.
func (p *Pager) FreePage(txID TxID, pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeMgr.StageFree(txID, pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// DiscardDirty evicts the given pages from the buffer pool without
// flushing or freeing them. Used by transaction rollback: since dirty
// pages are never written to the main file before a checkpoint, and no
// checkpoint can run while the writer lock is held, dropping them from
// the cache is enough to make the next read fall back to the
// pre-transaction disk image.
func (p *Pager) DiscardDirty(ids []PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	for _, id := range ids {
		if f, ok := p.pool.get(id); ok {
			f.pinned = 0
		}
		p.pool.remove(id)
	}
}

// freeImmediateLocked frees a page for reuse right away, bypassing
// per-transaction staging. Used only for pages that are provably
// unreachable by any in-flight reader, such as the previous free-list
// chain during a checkpoint. Must be called with p.mu held.
func (p *Pager) freeImmediateLocked(pid PageID) {
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freeOldFreeListChain walks the old free-list chain and adds those pages
// to the FreeManager so they can be reused. Must be called with p.mu held.
func (p *Pager) freeOldFreeListChain(head PageID) {
	pid := head
	for pid != InvalidPageID {
		buf, err := p.readPageRaw(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.freeImmediateLocked(pid)
		pid = next
	}
}

// ── Checkpoint ────────────────────────────────────────────────────────────

// Checkpoint flushes all dirty pages to the database file, writes an
// updated header page, fsyncs the file, then drops WAL segments that are
// now fully superseded by the main file.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &wal.Record{Type: wal.RecordCheckpoint}
	lsn, err := p.wal.Append(rec)
	if err != nil {
		return err
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}

	p.pool.mu.Lock()
	dirty := p.pool.dirtyPages()
	for _, f := range dirty {
		SetPageCRC(f.buf)
		if err := p.writePageRaw(f.id, f.buf); err != nil {
			p.pool.mu.Unlock()
			return fmt.Errorf("checkpoint flush page %d: %w", f.id, err)
		}
		f.dirty = false
	}
	p.pool.mu.Unlock()

	oldFLHead := p.hdr.FreeListHead
	if oldFLHead != InvalidPageID {
		p.freeOldFreeListChain(oldFLHead)
	}

	flHead, flPages := p.freeMgr.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := p.hdr.NextPageID
		p.hdr.NextPageID++
		p.hdr.PageCount++
		return pid, make([]byte, p.pageSize)
	})
	for _, fb := range flPages {
		pid := PageID(binary.LittleEndian.Uint32(fb[4:8]))
		if err := p.writePageRaw(pid, fb); err != nil {
			return fmt.Errorf("checkpoint freelist page: %w", err)
		}
	}

	p.hdr.FreeListHead = flHead
	p.hdr.CheckpointLSN = LSN(lsn)
	hdrBuf := MarshalHeaderPage(p.hdr, p.pageSize)
	if err := p.writePageRaw(0, hdrBuf); err != nil {
		return fmt.Errorf("checkpoint header page: %w", err)
	}

	if err := p.file.Sync(); err != nil {
		return err
	}

	return p.wal.DropThrough(lsn, p.pageSize)
}

// ── Header access ─────────────────────────────────────────────────────────

// HeaderSnapshot returns a copy of the current header page contents.
func (p *Pager) HeaderSnapshot() Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.hdr
}

// UpdateHeader mutates the in-memory header page fields. It does NOT write
// to disk. Use Checkpoint for that.
func (p *Pager) UpdateHeader(fn func(h *Header)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.hdr)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// ── Close ─────────────────────────────────────────────────────────────────

// Close performs a final checkpoint and closes all files.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.Checkpoint(); err != nil {
		_ = p.wal.Close()
		_ = p.file.Close()
		return err
	}
	if err := p.wal.Close(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// WALDir returns the WAL segment directory path.
func (p *Pager) WALDir() string { return p.walDir }
