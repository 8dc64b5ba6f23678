package core

import (
	"errors"
	"fmt"
)

// Scheduling errors are returned synchronously from the scheduling call.
var (
	// ErrRejected is returned when work is scheduled on a disposed scheduler or
	// worker, or when registration loses a race with a concurrent dispose.
	ErrRejected = errors.New("loopsched: task rejected")

	// ErrInvalidState is returned when a disposed scheduler is re-initialized.
	ErrInvalidState = errors.New("loopsched: invalid state")

	// ErrNilTask is returned when a nil task is scheduled.
	ErrNilTask = errors.New("loopsched: nil task")

	// ErrInvalidPeriod is returned when a periodic task is scheduled with a non-positive period.
	ErrInvalidPeriod = errors.New("loopsched: period must be positive")

	// ErrInvalidSchedule is returned when a cron expression cannot be parsed.
	ErrInvalidSchedule = errors.New("loopsched: invalid cron schedule")

	// ErrLoopStopped is returned by EventLoop.Post once the loop has been stopped.
	ErrLoopStopped = errors.New("loopsched: loop stopped")

	// ErrDrainAbandoned is returned by Drain.Wait after the drain has been abandoned.
	ErrDrainAbandoned = errors.New("loopsched: drain abandoned")
)

func rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// TaskExecutionError wraps a panic recovered from a one-shot task body.
type TaskExecutionError struct {
	TaskID TaskID
	Name   string
	Worker string
	Value  any
	Stack  []byte
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("loopsched: task %s (%s) on %s failed: %v", e.TaskID, e.Name, e.Worker, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *TaskExecutionError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// PeriodicSeriesError wraps a panic recovered from a periodic task body.
// The series it belongs to has been terminated when this error is reported.
type PeriodicSeriesError struct {
	SeriesID   TaskID
	Name       string
	Worker     string
	Executions int64
	Value      any
	Stack      []byte
}

func (e *PeriodicSeriesError) Error() string {
	return fmt.Sprintf("loopsched: periodic task %s (%s) on %s failed after %d executions: %v",
		e.SeriesID, e.Name, e.Worker, e.Executions, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PeriodicSeriesError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
