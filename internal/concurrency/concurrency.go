// Package concurrency tracks in-flight stream/query requests so a client
// can cancel one mid-flight by request ID, and provides a bounded
// worker-pool primitive for running background jobs off the request path.
package concurrency

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry maps request IDs to the cancel function for their context.
// stream() and long-running query execution register here on entry and
// deregister on completion; cancelRequest looks a request up and cancels it.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]context.CancelFunc
}

// NewRegistry creates an empty cancellation registry.
func NewRegistry() *Registry {
	return &Registry{requests: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context from parent, assigns it a fresh
// request ID (or uses requestID if non-empty), and tracks its cancel func.
// The caller must call Done(id) once the request finishes, successfully or
// not, to release the registry entry.
func (r *Registry) Register(parent context.Context, requestID string) (context.Context, string) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.requests[requestID] = cancel
	r.mu.Unlock()

	return ctx, requestID
}

// Cancel cancels the context registered under requestID. Returns false if
// no such request is currently tracked (already finished, or unknown ID).
func (r *Registry) Cancel(requestID string) bool {
	r.mu.RLock()
	cancel, ok := r.requests[requestID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Done releases the registry entry for requestID. Safe to call even if the
// request was already cancelled or never registered.
func (r *Registry) Done(requestID string) {
	r.mu.Lock()
	delete(r.requests, requestID)
	r.mu.Unlock()
}

// Active returns the number of in-flight requests currently tracked.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requests)
}

// ── Background worker pool ──────────────────────────────────────────────
//
// Jobs submitted to a Pool run on a small fixed set of workers rather than
// a goroutine per job, so slow jobs can't pile up unbounded background
// work: once the queue is full, Submit blocks. Checkpoints and the
// vacuum scheduler do not use this pool.

// Job is a unit of background work submitted to a Pool.
type Job func(ctx context.Context) error

// Pool runs submitted jobs on a bounded set of worker goroutines.
type Pool struct {
	queue chan Job
	wg    sync.WaitGroup
	ctx   context.Context
	stop  context.CancelFunc
}

// NewPool starts a worker pool with the given concurrency and queue depth.
func NewPool(parent context.Context, workers, queueDepth int) *Pool {
	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		queue: make(chan Job, queueDepth),
		ctx:   ctx,
		stop:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			if err := job(p.ctx); err != nil {
				// Background jobs log their own failures; the pool itself
				// has no caller to report back to.
				_ = err
			}
		}
	}
}

// Submit enqueues job, blocking if the queue is full. Returns an error if
// the pool has been closed.
func (p *Pool) Submit(job Job) error {
	if p.ctx.Err() != nil {
		return fmt.Errorf("concurrency: pool closed")
	}
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("concurrency: pool closed")
	case p.queue <- job:
		return nil
	}
}

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	p.stop()
	close(p.queue)
	p.wg.Wait()
}
