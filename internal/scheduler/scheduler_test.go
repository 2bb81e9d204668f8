package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestVacuumSchedulerRunsOnCadence(t *testing.T) {
	var runs atomic.Int64
	s, err := New("* * * * * *", time.Second, func(ctx context.Context) (GCResult, error) {
		runs.Add(1)
		return GCResult{TotalPages: 10, ReachablePages: 9, Reclaimed: 1}, nil
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("expected at least one vacuum run within 3 seconds")
	}
}

func TestVacuumSchedulerRunNowSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := New("0 0 1 1 1 0", 0, func(ctx context.Context) (GCResult, error) {
		close(started)
		<-release
		return GCResult{}, nil
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan bool, 1)
	go func() { done <- s.RunNow() }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first RunNow never started")
	}

	if ran := s.RunNow(); ran {
		t.Error("expected second RunNow to be skipped while the first is in flight")
	}

	close(release)
	if ok := <-done; !ok {
		t.Error("expected first RunNow to report it ran")
	}
}

func TestVacuumSchedulerRejectsBadCron(t *testing.T) {
	_, err := New("not a cron expression", 0, func(ctx context.Context) (GCResult, error) {
		return GCResult{}, nil
	}, nil)
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestVacuumSchedulerPropagatesTimeout(t *testing.T) {
	errCh := make(chan error, 1)
	s, err := New("0 0 1 1 1 0", 10*time.Millisecond, func(ctx context.Context) (GCResult, error) {
		<-ctx.Done()
		errCh <- ctx.Err()
		return GCResult{}, ctx.Err()
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.RunNow()

	select {
	case gotErr := <-errCh:
		if gotErr != context.DeadlineExceeded {
			t.Errorf("expected DeadlineExceeded, got %v", gotErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for vacuum context to be cancelled")
	}
}
