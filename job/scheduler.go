// Package job runs submitted jobs: a scheduler that caps how many run at
// once, the worker that renders and archives variations, startup recovery
// and periodic housekeeping.
package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"variagen/logger"
	"variagen/metrics"
	"variagen/models"
)

// ErrSchedulerClosed is returned by Enqueue after Shutdown has been called.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// Runner processes one job to a terminal state. Run must not return before
// the terminal status has been persisted and the job's files cleaned up.
type Runner interface {
	Run(ctx context.Context, d models.Descriptor)
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, d models.Descriptor)

func (f RunnerFunc) Run(ctx context.Context, d models.Descriptor) { f(ctx, d) }

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Active int `json:"active"`
	Queued int `json:"queued"`

	// Stranded counts jobs whose terminal status could not be stored.
	Stranded int `json:"stranded"`
}

// Scheduler admits jobs in FIFO order while never running more than
// maxConcurrent at once.
type Scheduler struct {
	maxConcurrent int
	runner        Runner

	// mu guards queue, active and closed. The capacity check, the pop and
	// the increment happen under one lock so bursts cannot overshoot.
	mu     sync.Mutex
	queue  []models.Descriptor
	active int
	closed bool

	wg sync.WaitGroup
}

func NewScheduler(maxConcurrent int, runner Runner) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{maxConcurrent: maxConcurrent, runner: runner}
}

// Enqueue appends d and returns its position: the number of jobs running
// or waiting, counting d itself. Dispatch happens before Enqueue returns
// but never waits for a job to finish.
func (s *Scheduler) Enqueue(d models.Descriptor) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: job %s not admitted", ErrSchedulerClosed, d.ID)
	}
	s.queue = append(s.queue, d)
	position := s.active + len(s.queue)
	s.mu.Unlock()

	logger.WithFields(logger.Fields{"job": d.ID}).Infof("queued at position %d", position)
	s.tryDispatch()
	return position, nil
}

// tryDispatch starts as many queued jobs as there are free slots.
func (s *Scheduler) tryDispatch() {
	s.mu.Lock()
	for !s.closed && s.active < s.maxConcurrent && len(s.queue) > 0 {
		d := s.queue[0]
		s.queue[0] = models.Descriptor{}
		s.queue = s.queue[1:]
		s.active++
		s.wg.Add(1)
		go s.run(d)
	}
	active, queued := s.active, len(s.queue)
	s.mu.Unlock()

	metrics.SetQueueStats(active, queued)
}

func (s *Scheduler) run(d models.Descriptor) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("job %s: worker panic: %v\n%s", d.ID, r, debug.Stack())
		}
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.wg.Done()
		s.tryDispatch()
	}()

	logger.WithFields(logger.Fields{"job": d.ID}).Infof("dispatched (%d variation(s))", d.VariationCount)
	s.runner.Run(context.Background(), d)
}

// Stats returns the current number of running and waiting jobs, plus the
// runner's stranded jobs when it tracks them.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	stats := Stats{Active: s.active, Queued: len(s.queue)}
	s.mu.Unlock()

	if sr, ok := s.runner.(interface{ StrandedCount() int }); ok {
		stats.Stranded = sr.StrandedCount()
	}
	return stats
}

// Shutdown stops admitting and dispatching jobs, then waits for running
// jobs to finish or ctx to expire. Jobs still queued keep their "queued"
// record and are picked up again on the next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := len(s.queue)
	s.mu.Unlock()

	if pending > 0 {
		logger.Infof("scheduler shutting down with %d queued job(s) left for the next start", pending)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
