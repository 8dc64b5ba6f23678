package core

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Drain is the completion signal of a graceful disposal. It completes once
// every worker in its snapshot has no entries left. A Drain has no timeout of
// its own; bound it with Wait and a context, then fall back to Dispose.
type Drain struct {
	done      chan struct{}
	completed atomic.Bool
	once      sync.Once

	abandoned   chan struct{}
	abandonOnce sync.Once
}

func newDrainSignal() *Drain {
	return &Drain{
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
	}
}

// Done is closed when the drain completes. It is never closed for an
// abandoned drain.
func (d *Drain) Done() <-chan struct{} { return d.done }

// Completed reports whether the drain has completed.
func (d *Drain) Completed() bool { return d.completed.Load() }

// Abandon stops polling. The workers keep draining, but Done will not fire.
func (d *Drain) Abandon() {
	d.abandonOnce.Do(func() { close(d.abandoned) })
}

func (d *Drain) isAbandoned() bool {
	select {
	case <-d.abandoned:
		return true
	default:
		return false
	}
}

// Wait blocks until the drain completes, ctx is done or the drain is
// abandoned.
func (d *Drain) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	default:
	}
	select {
	case <-d.done:
		return nil
	case <-d.abandoned:
		return ErrDrainAbandoned
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Drain) complete() bool {
	fired := false
	d.once.Do(func() {
		d.completed.Store(true)
		close(d.done)
		fired = true
	})
	return fired
}

// =============================================================================
// drainAwaiter: off-loop polling of a worker snapshot
// =============================================================================

const (
	maxDrainSleep = 50 * time.Millisecond
	minDrainSleep = time.Millisecond
)

type drainAwaiter struct {
	workers    []*LoopWorker
	budget     time.Duration
	signal     *Drain
	pool       *drainPool
	onComplete func()
}

func newDrain(env *schedulerEnv, workers []*LoopWorker) *Drain {
	return startDrain(env, workers, func() {
		env.logger.Info("drain completed", F("scheduler", env.name), F("workers", len(workers)))
	})
}

func startDrain(env *schedulerEnv, workers []*LoopWorker, onComplete func()) *Drain {
	a := &drainAwaiter{
		workers:    workers,
		budget:     env.drainBudget,
		signal:     newDrainSignal(),
		pool:       env.drainPool,
		onComplete: onComplete,
	}
	a.pool.submit(a.run)
	return a.signal
}

func (a *drainAwaiter) pending() int {
	total := 0
	for _, w := range a.workers {
		total += w.Pending()
	}
	return total
}

// run polls for one round budget, then resubmits itself to the pool.
func (a *drainAwaiter) run() {
	start := time.Now()
	for {
		if a.signal.isAbandoned() {
			return
		}
		if a.pending() == 0 {
			if a.signal.isAbandoned() {
				return
			}
			if a.signal.complete() && a.onComplete != nil {
				a.onComplete()
			}
			return
		}

		remaining := a.budget - time.Since(start)
		if remaining <= 0 {
			break
		}
		slice := min(maxDrainSleep, max(remaining/10, minDrainSleep))
		timer := time.NewTimer(slice)
		select {
		case <-timer.C:
		case <-a.signal.abandoned:
			timer.Stop()
			return
		}
	}
	a.pool.submit(a.run)
}

// drainPool runs awaiter rounds off the Loop with bounded concurrency.
type drainPool struct {
	sem *semaphore.Weighted
}

func newDrainPool(size int) *drainPool {
	if size < 1 {
		size = 1
	}
	return &drainPool{sem: semaphore.NewWeighted(int64(size))}
}

var sharedDrainPool = newDrainPool(runtime.GOMAXPROCS(0))

func (p *drainPool) submit(fn func()) {
	go func() {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

// CompletedDrain returns a drain that has already completed.
func CompletedDrain() *Drain {
	d := newDrainSignal()
	d.complete()
	return d
}
