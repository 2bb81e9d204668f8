package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryRegisterAndCancel(t *testing.T) {
	r := NewRegistry()
	ctx, id := r.Register(context.Background(), "")
	if id == "" {
		t.Fatal("expected a generated request ID")
	}
	if r.Active() != 1 {
		t.Fatalf("expected 1 active request, got %d", r.Active())
	}

	if !r.Cancel(id) {
		t.Fatal("expected Cancel to find the registered request")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}

	r.Done(id)
	if r.Active() != 0 {
		t.Fatalf("expected 0 active requests after Done, got %d", r.Active())
	}
}

func TestRegistryCancelUnknownID(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("does-not-exist") {
		t.Fatal("expected Cancel to fail for an unregistered ID")
	}
}

func TestRegistryUsesProvidedRequestID(t *testing.T) {
	r := NewRegistry()
	_, id := r.Register(context.Background(), "caller-chosen-id")
	if id != "caller-chosen-id" {
		t.Errorf("expected request ID to be preserved, got %q", id)
	}
}

func TestRegistryDoneIsIdempotent(t *testing.T) {
	r := NewRegistry()
	_, id := r.Register(context.Background(), "")
	r.Done(id)
	r.Done(id) // must not panic or error
	if r.Cancel(id) {
		t.Error("expected Cancel to fail once the request is done")
	}
}

func TestRegistryParentCancellationPropagates(t *testing.T) {
	r := NewRegistry()
	parent, parentCancel := context.WithCancel(context.Background())
	ctx, _ := r.Register(parent, "")
	parentCancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("child context should be cancelled when parent is")
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	const n = 100

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, id := r.Register(context.Background(), "")
			r.Cancel(id)
			r.Done(id)
		}()
	}
	wg.Wait()

	if r.Active() != 0 {
		t.Errorf("expected 0 active requests after concurrent churn, got %d", r.Active())
	}
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(context.Background(), 3, 10)
	defer p.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	const jobs = 20
	wg.Add(jobs)

	for i := 0; i < jobs; i++ {
		if err := p.Submit(func(ctx context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for jobs to run")
	}

	if ran.Load() != jobs {
		t.Errorf("expected %d jobs run, got %d", jobs, ran.Load())
	}
}

func TestPoolJobErrorDoesNotStopWorker(t *testing.T) {
	p := NewPool(context.Background(), 1, 4)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	errJob := errors.New("boom")
	_ = p.Submit(func(ctx context.Context) error {
		defer wg.Done()
		return errJob
	})

	var secondRan atomic.Bool
	_ = p.Submit(func(ctx context.Context) error {
		defer wg.Done()
		secondRan.Store(true)
		return nil
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}

	if !secondRan.Load() {
		t.Error("expected worker to keep processing jobs after one returns an error")
	}
}

func TestPoolCloseWaitsForWorkers(t *testing.T) {
	p := NewPool(context.Background(), 2, 4)

	var started atomic.Bool
	var finished atomic.Bool
	_ = p.Submit(func(ctx context.Context) error {
		started.Store(true)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	time.Sleep(10 * time.Millisecond)
	p.Close()

	if !started.Load() {
		t.Fatal("expected job to have started before Close returned")
	}
	if !finished.Load() {
		t.Error("expected Close to block until in-flight jobs finished")
	}
}

func TestPoolSubmitAfterCloseFails(t *testing.T) {
	p := NewPool(context.Background(), 1, 1)
	p.Close()

	if err := p.Submit(func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected Submit to fail on a closed pool")
	}
}

func TestPoolStopsWhenParentContextCancelled(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	p := NewPool(parent, 1, 1)
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected pool workers to exit when parent context is cancelled")
	}
}
