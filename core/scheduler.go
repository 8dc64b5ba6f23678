package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// schedulerEnv is shared by a scheduler and all of its workers.
type schedulerEnv struct {
	name        string
	loop        Loop
	clock       Clock
	mode        PostingMode
	tolerance   time.Duration
	drainBudget time.Duration
	drainPool   *drainPool
	failures    *failureReporter
	metrics     Metrics
	logger      Logger
	history     *executionHistory

	executed atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

// LoopScheduler binds the Scheduler contract onto a Loop. It owns a set of
// workers, one of which is the implicit main worker used by the scheduler's
// own Schedule methods.
type LoopScheduler struct {
	env *schedulerEnv

	ctx    context.Context
	cancel context.CancelFunc

	shutdown atomic.Bool
	main     atomic.Pointer[LoopWorker]

	mu      sync.Mutex
	workers map[*LoopWorker]struct{}
	nextID  int
}

var _ Scheduler = (*LoopScheduler)(nil)

// NewLoopScheduler creates a scheduler on loop. cfg may be nil.
func NewLoopScheduler(loop Loop, cfg *SchedulerConfig) *LoopScheduler {
	c := cfg.withDefaults(loop)
	env := &schedulerEnv{
		name:        c.Name,
		loop:        loop,
		clock:       c.Clock,
		mode:        c.PostingMode,
		tolerance:   c.DriftTolerance,
		drainBudget: c.DrainPollBudget,
		drainPool:   sharedDrainPool,
		failures:    newFailureReporter(c.FailureHandler, loop, c.Logger),
		metrics:     c.Metrics,
		logger:      c.Logger,
		history:     newExecutionHistory(c.HistoryCapacity),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LoopScheduler{
		env:     env,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[*LoopWorker]struct{}),
	}

	main := newLoopWorker(ctx, env, env.name+".main", s.deregister)
	s.workers[main] = struct{}{}
	s.main.Store(main)
	return s
}

// Name returns the scheduler name.
func (s *LoopScheduler) Name() string { return s.env.name }

// Init fails with ErrInvalidState once the scheduler has been shut down.
func (s *LoopScheduler) Init() error {
	if s.shutdown.Load() {
		return fmt.Errorf("%w: scheduler %s has been disposed", ErrInvalidState, s.env.name)
	}
	return nil
}

// Now returns the scheduler clock reading.
func (s *LoopScheduler) Now() time.Time {
	return s.env.clock.Now()
}

// NewWorker creates a worker with its own cancellation scope.
func (s *LoopScheduler) NewWorker() (*LoopWorker, error) {
	if s.shutdown.Load() {
		return nil, s.reject("scheduler is shut down")
	}

	s.mu.Lock()
	s.nextID++
	name := fmt.Sprintf("%s.worker-%d", s.env.name, s.nextID)
	w := newLoopWorker(s.ctx, s.env, name, s.deregister)
	s.workers[w] = struct{}{}
	s.mu.Unlock()

	// Dispose may have snapshotted the registry before the insert.
	if s.shutdown.Load() {
		w.Dispose()
		return nil, s.reject("scheduler shut down during worker creation")
	}
	s.env.logger.Debug("worker created", F("worker", name))
	return w, nil
}

func (s *LoopScheduler) reject(reason string) error {
	s.env.rejected.Add(1)
	s.env.metrics.RecordTaskRejected(s.env.name, reason)
	return rejected(reason)
}

func (s *LoopScheduler) deregister(w *LoopWorker) {
	s.mu.Lock()
	delete(s.workers, w)
	s.mu.Unlock()
}

// Schedule runs task on the main worker.
func (s *LoopScheduler) Schedule(task Task) (Disposable, error) {
	return s.ScheduleAfter(task, 0)
}

// ScheduleAfter runs task on the main worker after delay.
func (s *LoopScheduler) ScheduleAfter(task Task, delay time.Duration) (Disposable, error) {
	w := s.main.Load()
	if w == nil {
		return nil, s.reject("scheduler is shut down")
	}
	return w.ScheduleAfter(task, delay)
}

// SchedulePeriodically runs task on the main worker at a fixed rate.
func (s *LoopScheduler) SchedulePeriodically(task Task, initialDelay, period time.Duration) (Disposable, error) {
	w := s.main.Load()
	if w == nil {
		return nil, s.reject("scheduler is shut down")
	}
	return w.SchedulePeriodically(task, initialDelay, period)
}

func (s *LoopScheduler) snapshot(clear bool) []*LoopWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*LoopWorker, 0, len(s.workers))
	for w := range s.workers {
		out = append(out, w)
	}
	if clear {
		s.workers = make(map[*LoopWorker]struct{})
	}
	return out
}

// Dispose shuts the scheduler down and hard-disposes every worker it owns.
func (s *LoopScheduler) Dispose() {
	first := s.shutdown.CompareAndSwap(false, true)
	s.main.Store(nil)
	for _, w := range s.snapshot(true) {
		w.Dispose()
	}
	s.cancel()
	if first {
		s.env.logger.Debug("scheduler disposed", F("scheduler", s.env.name))
	}
}

// DisposeGracefully shuts the scheduler down and drains every worker it owns.
// Abandoning the returned Drain does not stop the workers from draining.
func (s *LoopScheduler) DisposeGracefully() *Drain {
	s.shutdown.Store(true)
	s.main.Store(nil)
	workers := s.snapshot(false)
	for _, w := range workers {
		w.beginDrain()
	}
	return startDrain(s.env, workers, func() {
		s.cancel()
		s.env.logger.Info("scheduler drained", F("scheduler", s.env.name), F("workers", len(workers)))
	})
}

// Shutdown drains the scheduler gracefully, bounded by ctx. When ctx ends
// first the remaining work is disposed and the context error returned.
func (s *LoopScheduler) Shutdown(ctx context.Context) error {
	drain := s.DisposeGracefully()
	if err := drain.Wait(ctx); err != nil {
		drain.Abandon()
		s.Dispose()
		return err
	}
	s.Dispose()
	return nil
}

// IsDisposed reports whether the scheduler is shut down and owns no workers.
func (s *LoopScheduler) IsDisposed() bool {
	if !s.shutdown.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers) == 0
}

// Main returns the implicit main worker, or nil after shutdown.
func (s *LoopScheduler) Main() *LoopWorker {
	return s.main.Load()
}

// Stats returns a snapshot of the scheduler and its workers.
func (s *LoopScheduler) Stats() SchedulerStats {
	workers := s.snapshot(false)
	stats := SchedulerStats{
		Name:     s.env.name,
		Mode:     s.env.mode,
		Shutdown: s.shutdown.Load(),
		Workers:  make([]WorkerStats, 0, len(workers)),
		Executed: s.env.executed.Load(),
		Failed:   s.env.failed.Load(),
		Rejected: s.env.rejected.Load(),
	}
	for _, w := range workers {
		ws := w.Stats()
		stats.Pending += ws.Pending
		stats.Workers = append(stats.Workers, ws)
	}
	stats.Disposed = stats.Shutdown && len(workers) == 0
	return stats
}

// RecentExecutions returns up to limit execution records, newest first.
func (s *LoopScheduler) RecentExecutions(limit int) []TaskExecutionRecord {
	return s.env.history.Recent(limit)
}

// LastExecution returns the most recent execution record.
func (s *LoopScheduler) LastExecution() (TaskExecutionRecord, bool) {
	return s.env.history.Last()
}

func (s *LoopScheduler) String() string {
	return fmt.Sprintf("LoopScheduler(%s, %s)", s.env.name, s.env.mode)
}
