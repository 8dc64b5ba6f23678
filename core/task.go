package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// TaskID identifies a one-shot task or a periodic series.
type TaskID uuid.UUID

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero TaskID.
func (id TaskID) IsZero() bool {
	return id == TaskID{}
}

// TaskKind distinguishes one-shot executions from periodic occurrences.
type TaskKind int

const (
	TaskKindOnce TaskKind = iota
	TaskKindPeriodic
)

func (k TaskKind) String() string {
	switch k {
	case TaskKindOnce:
		return "once"
	case TaskKindPeriodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// =============================================================================
// Disposable: handle returned by every scheduling call
// =============================================================================

// Disposable cancels scheduled work. Dispose is idempotent and safe to call
// from any goroutine.
type Disposable interface {
	Dispose()
	IsDisposed() bool
}

// =============================================================================
// Scheduler / Worker: the exposed scheduling contract
// =============================================================================

// Worker is an independent cancellation scope on a Loop.
type Worker interface {
	Disposable

	Schedule(task Task) (Disposable, error)
	ScheduleAfter(task Task, delay time.Duration) (Disposable, error)
	SchedulePeriodically(task Task, initialDelay, period time.Duration) (Disposable, error)

	// DisposeGracefully stops accepting work and lets pending work finish.
	DisposeGracefully() *Drain
}

// Scheduler creates Workers and schedules directly on a default Worker.
type Scheduler interface {
	Worker

	Init() error
	NewWorker() (*LoopWorker, error)
	Now() time.Time
}

// =============================================================================
// Context Helper
// =============================================================================
type workerKeyType struct{}

var workerKey workerKeyType

// CurrentWorker returns the Worker that is executing the task owning ctx.
func CurrentWorker(ctx context.Context) *LoopWorker {
	if v := ctx.Value(workerKey); v != nil {
		return v.(*LoopWorker)
	}
	return nil
}
