// Package scheduler drives the background vacuum/GC cadence: a
// cron-expression-configurable periodic reachability sweep over the page
// file. Checkpoints are not scheduled here: the transaction manager
// requests one after each committed write.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// GCFunc runs one vacuum pass and reports what it reclaimed. It is supplied
// by the caller so the scheduler has no direct dependency on the pager.
type GCFunc func(ctx context.Context) (GCResult, error)

// GCResult mirrors the fields of pager.GCResult that are worth logging;
// kept as a separate type so this package doesn't import internal/pager.
type GCResult struct {
	TotalPages     int
	ReachablePages int
	Reclaimed      int
}

// VacuumScheduler registers a single vacuum job against a CRON expression
// and runs it with no-overlap semantics: a tick that lands while the
// previous sweep is still running is skipped rather than queued.
type VacuumScheduler struct {
	cron    *cron.Cron
	gc      GCFunc
	timeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	logger *log.Logger
}

// New creates a vacuum scheduler. cronExpr follows robfig/cron's
// seconds-included format (e.g. "0 0 3 * * *" for daily at 03:00). timeout
// bounds a single vacuum pass; zero means no bound.
func New(cronExpr string, timeout time.Duration, gc GCFunc, logger *log.Logger) (*VacuumScheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	loc, _ := time.LoadLocation("UTC")
	s := &VacuumScheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		gc:      gc,
		timeout: timeout,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(cronExpr, s.runOnce); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}
	return s, nil
}

// Start begins the cron loop. It does not block.
func (s *VacuumScheduler) Start() {
	s.cron.Start()
	s.logger.Printf("vacuum scheduler started")
}

// Stop waits for the cron loop to drain and cancels a vacuum pass in
// flight, if any.
func (s *VacuumScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.Printf("vacuum scheduler stopped")
}

// RunNow triggers an out-of-cadence vacuum pass immediately, honoring the
// same no-overlap rule as a cron tick. Returns false if a pass was already
// in flight and this call was skipped.
func (s *VacuumScheduler) RunNow() bool {
	return s.runOnceReturningRan()
}

func (s *VacuumScheduler) runOnce() {
	s.runOnceReturningRan()
}

func (s *VacuumScheduler) runOnceReturningRan() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Printf("vacuum already running, skipping this tick")
		return false
	}

	ctx := context.Background()
	if s.timeout > 0 {
		ctx, s.cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, s.cancel = context.WithCancel(ctx)
	}
	s.running = true
	cancel := s.cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	start := time.Now()
	result, err := s.gc(ctx)
	if err != nil {
		s.logger.Printf("vacuum failed after %s: %v", time.Since(start), err)
		return true
	}
	s.logger.Printf("vacuum completed in %s: %d/%d pages reachable, %d reclaimed",
		time.Since(start), result.ReachablePages, result.TotalPages, result.Reclaimed)
	return true
}
