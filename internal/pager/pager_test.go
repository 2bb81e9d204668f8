package pager

import (
	"path/filepath"
	"testing"
)

func TestPageHeader_MarshalRoundTrip(t *testing.T) {
	h := PageHeader{
		Type:  PageTypeBTreeLeaf,
		Flags: 0x42,
		ID:    PageID(99),
		LSN:   LSN(12345),
		CRC:   0xDEADBEEF,
	}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(&h, buf)
	h2 := UnmarshalHeader(buf)
	if h2.Type != h.Type || h2.Flags != h.Flags || h2.ID != h.ID || h2.LSN != h.LSN || h2.CRC != h.CRC {
		t.Fatalf("header roundtrip mismatch: %+v vs %+v", h, h2)
	}
}

// TestCRC_DetectsCorruption is testable property #6: flipping any bit in
// a page body causes the next read that touches it to fail Corruption.
func TestCRC_DetectsCorruption(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeBTreeLeaf, 1)
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("valid CRC failed: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected CRC error after corruption")
	}
}

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenPager(PagerConfig{
		DBPath: filepath.Join(dir, "test.db"),
		WALDir: filepath.Join(dir, "test.db-wal"),
	})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPager_AllocWriteReadRoundTrip(t *testing.T) {
	p := openTestPager(t)

	txID, err := p.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	pid, buf, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	h := &PageHeader{Type: PageTypeBTreeLeaf, ID: pid}
	MarshalHeader(h, buf)
	copy(buf[PageHeaderSize:], []byte("hello sombra"))
	SetPageCRC(buf)
	if err := p.WritePage(txID, pid, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	p.UnpinPage(pid)
	if err := p.CommitTx(txID); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}

	got, err := p.ReadPage(pid)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	defer p.UnpinPage(pid)
	if string(got[PageHeaderSize:PageHeaderSize+12]) != "hello sombra" {
		t.Fatalf("payload mismatch after round-trip")
	}
}

// TestPager_RollbackDiscardsUncommittedWrites exercises abort: a page
// overwritten inside a transaction that then rolls back must revert to
// its pre-transaction disk image on the next read, never exposing the
// uncommitted write.
func TestPager_RollbackDiscardsUncommittedWrites(t *testing.T) {
	p := openTestPager(t)

	// Establish a durable "original" page image.
	txA, err := p.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx A: %v", err)
	}
	pid, buf, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	h := &PageHeader{Type: PageTypeBTreeLeaf, ID: pid}
	MarshalHeader(h, buf)
	copy(buf[PageHeaderSize:], []byte("original value  "))
	SetPageCRC(buf)
	if err := p.WritePage(txA, pid, buf); err != nil {
		t.Fatalf("WritePage A: %v", err)
	}
	p.UnpinPage(pid)
	if err := p.CommitTx(txA); err != nil {
		t.Fatalf("CommitTx A: %v", err)
	}
	if err := p.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	// Overwrite it inside a transaction that then aborts.
	txB, err := p.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx B: %v", err)
	}
	buf2, err := p.ReadPage(pid)
	if err != nil {
		t.Fatalf("ReadPage before overwrite: %v", err)
	}
	mutated := append([]byte{}, buf2...)
	copy(mutated[PageHeaderSize:], []byte("should vanish   "))
	SetPageCRC(mutated)
	p.UnpinPage(pid)
	if err := p.WritePage(txB, pid, mutated); err != nil {
		t.Fatalf("WritePage B: %v", err)
	}
	if err := p.AbortTx(txB); err != nil {
		t.Fatalf("AbortTx B: %v", err)
	}

	got, err := p.ReadPage(pid)
	if err != nil {
		t.Fatalf("ReadPage after abort: %v", err)
	}
	defer p.UnpinPage(pid)
	if string(got[PageHeaderSize:PageHeaderSize+16]) != "original value  " {
		t.Fatalf("rollback did not restore the pre-transaction image, got %q", got[PageHeaderSize:PageHeaderSize+16])
	}
}

func TestPager_CheckpointPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	walDir := filepath.Join(dir, "test.db-wal")

	p, err := OpenPager(PagerConfig{DBPath: dbPath, WALDir: walDir})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}

	txID, err := p.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	pid, buf, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	h := &PageHeader{Type: PageTypeBTreeLeaf, ID: pid}
	MarshalHeader(h, buf)
	copy(buf[PageHeaderSize:], []byte("durable payload"))
	SetPageCRC(buf)
	if err := p.WritePage(txID, pid, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	p.UnpinPage(pid)
	if err := p.CommitTx(txID); err != nil {
		t.Fatalf("CommitTx: %v", err)
	}
	if err := p.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := OpenPager(PagerConfig{DBPath: dbPath, WALDir: walDir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	got, err := p2.ReadPage(pid)
	if err != nil {
		t.Fatalf("ReadPage after reopen: %v", err)
	}
	defer p2.UnpinPage(pid)
	if string(got[PageHeaderSize:PageHeaderSize+15]) != "durable payload" {
		t.Fatalf("checkpointed payload did not survive reopen")
	}
}
