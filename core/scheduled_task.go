package core

import (
	"runtime/debug"
	"sync/atomic"
	"time"
)

const (
	taskPending int32 = iota
	taskRunning
	taskDone
	taskCancelled
)

// scheduledTask wraps one post of a task body on the Loop. One-shot tasks are
// registered in their worker's entry set and release themselves when they
// leave the pending state; periodic occurrences are owned by a swapHandle and
// are never registered.
type scheduledTask struct {
	id         TaskID
	name       string
	kind       TaskKind
	body       Task
	owner      *LoopWorker
	registered bool

	state  atomic.Int32
	handle atomic.Pointer[PostHandle]
}

func newScheduledTask(owner *LoopWorker, body Task, name string, kind TaskKind, registered bool) *scheduledTask {
	return &scheduledTask{
		id:         GenerateTaskID(),
		name:       name,
		kind:       kind,
		body:       body,
		owner:      owner,
		registered: registered,
	}
}

// attach records the Loop handle. A task disposed before the handle arrived
// cancels the post here.
func (t *scheduledTask) attach(h PostHandle) {
	t.handle.Store(&h)
	if t.state.Load() == taskCancelled {
		h.Cancel()
	}
}

func (t *scheduledTask) run() {
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}
	if t.owner.terminated() {
		t.state.Store(taskCancelled)
		t.release()
		return
	}

	env := t.owner.env
	startedAt := env.clock.Now()
	failed := t.execute()
	finishedAt := env.clock.Now()

	t.state.CompareAndSwap(taskRunning, taskDone)
	t.release()

	duration := finishedAt.Sub(startedAt)
	env.executed.Add(1)
	env.metrics.RecordTaskDuration(t.owner.name, t.kind, duration)
	env.history.Add(TaskExecutionRecord{
		TaskID:     t.id,
		Name:       t.name,
		Worker:     t.owner.name,
		Kind:       t.kind,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   duration,
		Failed:     failed,
	})
}

// execute runs the body and reports a recovered panic. Periodic bodies panic
// with a ready *PeriodicSeriesError after tearing their chain down.
func (t *scheduledTask) execute() (failed bool) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		failed = true

		env := t.owner.env
		env.failed.Add(1)
		env.metrics.RecordTaskFailure(t.owner.name, t.kind)

		var err error
		if pe, ok := rec.(*PeriodicSeriesError); ok {
			err = pe
		} else {
			err = &TaskExecutionError{
				TaskID: t.id,
				Name:   t.name,
				Worker: t.owner.name,
				Value:  rec,
				Stack:  debug.Stack(),
			}
		}
		env.failures.report(t.owner.ctx, err)
	}()

	t.body(t.owner.ctx)
	return false
}

func (t *scheduledTask) release() {
	if t.registered {
		t.owner.release(t)
	}
}

// Dispose cancels the task. A task that is already running finishes its
// current execution.
func (t *scheduledTask) Dispose() {
	for {
		s := t.state.Load()
		if s == taskDone || s == taskCancelled {
			return
		}
		if t.state.CompareAndSwap(s, taskCancelled) {
			break
		}
	}
	if h := t.handle.Load(); h != nil {
		(*h).Cancel()
	}
	t.release()
}

func (t *scheduledTask) IsDisposed() bool {
	return t.state.Load() != taskPending
}

func (t *scheduledTask) cancelled() bool {
	return t.state.Load() == taskCancelled
}

// dueIn clamps a requested delay to the Loop contract.
func dueIn(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	return delay
}
