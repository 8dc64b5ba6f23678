package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerState is the lifecycle state of a LoopWorker.
type WorkerState int32

const (
	WorkerActive WorkerState = iota
	WorkerDraining
	WorkerDisposed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerActive:
		return "active"
	case WorkerDraining:
		return "draining"
	case WorkerDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// LoopWorker is an independent cancellation scope on the scheduler's Loop.
// Everything it schedules is tagged with its token, so a hard dispose
// cancels all of it with one Loop call.
type LoopWorker struct {
	name  string
	token Token
	env   *schedulerEnv

	state   atomic.Int32
	entries *composite

	ctx    context.Context
	cancel context.CancelFunc

	deregister func(*LoopWorker)
}

func newLoopWorker(parent context.Context, env *schedulerEnv, name string, deregister func(*LoopWorker)) *LoopWorker {
	w := &LoopWorker{
		name:       name,
		token:      Token(uuid.NewString()),
		env:        env,
		entries:    newComposite(),
		deregister: deregister,
	}
	ctx, cancel := context.WithCancel(parent)
	w.ctx = context.WithValue(ctx, workerKey, w)
	w.cancel = cancel
	return w
}

// Name returns the worker name.
func (w *LoopWorker) Name() string { return w.name }

// Token returns the token tagging this worker's Loop posts.
func (w *LoopWorker) Token() Token { return w.token }

// State returns the current lifecycle state.
func (w *LoopWorker) State() WorkerState { return WorkerState(w.state.Load()) }

// Pending returns the number of live entries: queued one-shot tasks and
// periodic series.
func (w *LoopWorker) Pending() int { return w.entries.Len() }

// IsDisposed reports whether the worker stopped accepting work, either
// because it is draining or because it has been disposed.
func (w *LoopWorker) IsDisposed() bool { return w.State() != WorkerActive }

func (w *LoopWorker) terminated() bool { return w.State() == WorkerDisposed }

// Stats returns a snapshot of the worker state.
func (w *LoopWorker) Stats() WorkerStats {
	return WorkerStats{Name: w.name, State: w.State(), Pending: w.Pending()}
}

// Schedule runs task on the Loop as soon as possible.
func (w *LoopWorker) Schedule(task Task) (Disposable, error) {
	return w.ScheduleAfter(task, 0)
}

// ScheduleAfter runs task on the Loop once delay has elapsed. Negative
// delays are treated as zero.
func (w *LoopWorker) ScheduleAfter(task Task, delay time.Duration) (Disposable, error) {
	t, err := w.post(task, resolveTaskName(task), TaskKindOnce, delay, true)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SchedulePeriodically runs task after initialDelay and then at a fixed rate
// of period. A panic in task terminates the series.
func (w *LoopWorker) SchedulePeriodically(task Task, initialDelay, period time.Duration) (Disposable, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if w.State() != WorkerActive {
		return nil, w.reject("worker is not active")
	}

	swap := newSwapHandle(w.release)
	p := newPeriodicTask(w, task, swap, initialDelay, period)
	return w.startSeries(swap, p.run, p.name, initialDelay)
}

// startSeries posts the first occurrence of a self-rescheduling chain and
// registers its swap handle as one worker entry.
func (w *LoopWorker) startSeries(swap *swapHandle, run Task, name string, delay time.Duration) (Disposable, error) {
	occ, err := w.post(run, name, TaskKindPeriodic, delay, false)
	if err != nil {
		return nil, err
	}
	swap.Replace(occ)

	if occ.cancelled() || !w.entries.Add(swap) {
		swap.Dispose()
		return nil, w.reject("periodic task lost a race with dispose")
	}
	// The first occurrence may already have ended the series on the Loop.
	if swap.IsDisposed() {
		w.release(swap)
	}
	return swap, nil
}

// post wraps body and posts it to the Loop. Registered tasks use the
// register, post, re-check sequence so that a concurrent Dispose either
// rejects the call or cancels the post.
func (w *LoopWorker) post(body Task, name string, kind TaskKind, delay time.Duration, register bool) (*scheduledTask, error) {
	if body == nil {
		return nil, ErrNilTask
	}
	if w.State() != WorkerActive {
		return nil, w.reject("worker is not active")
	}

	t := newScheduledTask(w, body, name, kind, register)
	if register {
		if !w.entries.Add(t) {
			return nil, w.reject("worker disposed during registration")
		}
	} else if w.entries.IsDisposed() {
		return nil, w.reject("worker disposed")
	}

	h, err := w.env.loop.Post(t.run, dueIn(delay), PostOptions{
		Token: w.token,
		Async: w.env.mode == PostAsync,
	})
	if err != nil {
		t.Dispose()
		w.env.rejected.Add(1)
		w.env.metrics.RecordTaskRejected(w.name, "loop refused post")
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	t.attach(h)

	if w.entries.IsDisposed() {
		t.Dispose()
		return nil, w.reject("worker disposed during post")
	}
	if register {
		w.env.metrics.RecordPendingEntries(w.name, w.entries.Len())
	}
	return t, nil
}

func (w *LoopWorker) reject(reason string) error {
	w.env.rejected.Add(1)
	w.env.metrics.RecordTaskRejected(w.name, reason)
	return rejected(reason)
}

// release removes a finished or cancelled entry. A draining worker whose
// last entry leaves is disposed.
func (w *LoopWorker) release(d Disposable) {
	if !w.entries.Remove(d) {
		return
	}
	remaining := w.entries.Len()
	w.env.metrics.RecordPendingEntries(w.name, remaining)
	if remaining == 0 && w.State() == WorkerDraining {
		w.Dispose()
	}
}

// Dispose cancels every pending post and periodic series owned by the worker
// and removes it from its scheduler. A task that is already running finishes,
// but its context is cancelled.
func (w *LoopWorker) Dispose() {
	if WorkerState(w.state.Swap(int32(WorkerDisposed))) == WorkerDisposed {
		return
	}
	w.env.loop.CancelAll(w.token)
	w.entries.Dispose()
	w.cancel()
	if w.deregister != nil {
		w.deregister(w)
	}
	w.env.metrics.RecordPendingEntries(w.name, 0)
	w.env.logger.Debug("worker disposed", F("worker", w.name))
}

// DisposeGracefully stops accepting work and lets queued tasks run. Periodic
// series stop after their in-flight occurrence. The returned Drain completes
// once the worker has no entries left.
func (w *LoopWorker) DisposeGracefully() *Drain {
	w.beginDrain()
	return newDrain(w.env, []*LoopWorker{w})
}

func (w *LoopWorker) beginDrain() {
	if !w.state.CompareAndSwap(int32(WorkerActive), int32(WorkerDraining)) {
		return
	}
	w.env.logger.Debug("worker draining", F("worker", w.name), F("pending", w.Pending()))
	if w.entries.Len() == 0 {
		w.Dispose()
	}
}

func (w *LoopWorker) String() string {
	return fmt.Sprintf("LoopWorker(%s, %s)", w.name, w.State())
}
