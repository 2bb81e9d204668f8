package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sombra-db/sombra/internal/pager"
)

func openTestManager(t *testing.T) (*pager.Pager, *Manager) {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.OpenPager(pager.PagerConfig{
		DBPath: filepath.Join(dir, "test.db"),
		WALDir: filepath.Join(dir, "test.db-wal"),
	})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, NewManager(p, Config{})
}

func TestBeginReadSnapshotsLastCommitted(t *testing.T) {
	_, m := openTestManager(t)

	snap := m.BeginRead()
	if snap.TxID != 0 {
		t.Fatalf("expected snapshot 0 on a fresh db, got %d", snap.TxID)
	}
	snap.Release()
	snap.Release() // idempotent
}

func TestCommitAdvancesLastCommitted(t *testing.T) {
	_, m := openTestManager(t)

	w, err := m.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := m.Commit(w); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := m.LastCommitted(); got != w.TxID {
		t.Fatalf("lastCommitted = %d, want %d", got, w.TxID)
	}

	// A reader started after the commit observes the new watermark.
	snap := m.BeginRead()
	defer snap.Release()
	if snap.TxID != w.TxID {
		t.Fatalf("snapshot = %d, want %d", snap.TxID, w.TxID)
	}
}

func TestSecondWriterBlocksUntilFirstFinishes(t *testing.T) {
	_, m := openTestManager(t)

	w1, err := m.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("begin write 1: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.BeginWrite(ctx)
		done <- err
	}()

	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected second writer to be cancelled while first holds the lock")
	}

	if err := m.Commit(w1); err != nil {
		t.Fatalf("commit w1: %v", err)
	}

	w2, err := m.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("begin write 2 after release: %v", err)
	}
	if err := m.Commit(w2); err != nil {
		t.Fatalf("commit w2: %v", err)
	}
}

func TestRollbackDoesNotAdvanceWatermark(t *testing.T) {
	_, m := openTestManager(t)

	w, err := m.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := m.Rollback(w); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := m.LastCommitted(); got != 0 {
		t.Fatalf("lastCommitted after rollback = %d, want 0", got)
	}
}

func TestGCWatermarkTracksOldestReader(t *testing.T) {
	_, m := openTestManager(t)

	w, _ := m.BeginWrite(context.Background())
	m.Commit(w)
	oldSnap := m.BeginRead()

	w2, _ := m.BeginWrite(context.Background())
	m.Commit(w2)

	if wm := m.GCWatermark(); wm != oldSnap.TxID {
		t.Fatalf("watermark = %d, want oldest reader %d", wm, oldSnap.TxID)
	}
	oldSnap.Release()
	if wm := m.GCWatermark(); wm != m.LastCommitted() {
		t.Fatalf("watermark after release = %d, want lastCommitted %d", wm, m.LastCommitted())
	}
}

func TestCheckpointDeferredWhileReaderActive(t *testing.T) {
	_, m := openTestManager(t)
	snap := m.BeginRead()

	if err := m.RequestCheckpoint(false); err != nil {
		t.Fatalf("request checkpoint: %v", err)
	}
	if !m.Stats().DeferredCommit {
		t.Fatal("expected checkpoint to be deferred while a reader is active")
	}

	snap.Release()
	if m.Stats().DeferredCommit {
		t.Fatal("expected deferred checkpoint to run once the last reader released")
	}
}
