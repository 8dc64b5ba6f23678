package loopsched

import "github.com/Swind/go-loopsched/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the loopsched package for most use cases.

// Task is the unit of work
type Task = core.Task

// TaskID identifies a scheduled task
type TaskID = core.TaskID

// Disposable is a cancellable resource
type Disposable = core.Disposable

// Worker is an independent cancellation scope on a Loop
type Worker = core.Worker

// Scheduler creates Workers and schedules on a default Worker
type Scheduler = core.Scheduler

// LoopWorker is the Worker implementation returned by schedulers
type LoopWorker = core.LoopWorker

// LoopScheduler binds the Scheduler contract onto a Loop
type LoopScheduler = core.LoopScheduler

// SchedulerConfig configures a LoopScheduler
type SchedulerConfig = core.SchedulerConfig

// Drain is the completion signal of a graceful disposal
type Drain = core.Drain

// Loop is the single-threaded execution context schedulers post to
type Loop = core.Loop

// EventLoop is the goroutine-backed reference Loop
type EventLoop = core.EventLoop

// PostingMode selects whether scheduler posts bypass Loop sync barriers
type PostingMode = core.PostingMode

// FailureHandler receives recovered task panics
type FailureHandler = core.FailureHandler

// FailureHandlerFunc adapts a function to FailureHandler
type FailureHandlerFunc = core.FailureHandlerFunc

// TaskExecutionError describes a recovered one-shot task panic
type TaskExecutionError = core.TaskExecutionError

// PeriodicSeriesError describes a recovered periodic task panic
type PeriodicSeriesError = core.PeriodicSeriesError

// Posting modes
const (
	PostAsync PostingMode = core.PostAsync
	PostSync  PostingMode = core.PostSync
)

// Errors
var (
	ErrRejected        = core.ErrRejected
	ErrInvalidState    = core.ErrInvalidState
	ErrNilTask         = core.ErrNilTask
	ErrInvalidPeriod   = core.ErrInvalidPeriod
	ErrInvalidSchedule = core.ErrInvalidSchedule
	ErrLoopStopped     = core.ErrLoopStopped
	ErrDrainAbandoned  = core.ErrDrainAbandoned
)

// Failure hook and helpers
var (
	SetFailureHandler   = core.SetFailureHandler
	ResetFailureHandler = core.ResetFailureHandler
	ReportFailure       = core.ReportFailure
	CurrentWorker       = core.CurrentWorker
	NewEventLoop        = core.NewEventLoop
	ParseCron           = core.ParseCron
)

// NewLoopScheduler creates a scheduler on loop. cfg may be nil.
func NewLoopScheduler(loop Loop, cfg *SchedulerConfig) *LoopScheduler {
	return core.NewLoopScheduler(loop, cfg)
}
