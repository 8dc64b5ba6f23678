package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Worker     string
	Kind       TaskKind
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Failed     bool
}

// WorkerStats represents runtime observability state for a worker.
type WorkerStats struct {
	Name    string
	State   WorkerState
	Pending int
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name     string
	Mode     PostingMode
	Shutdown bool
	Disposed bool
	Pending  int
	Workers  []WorkerStats
	Executed int64
	Failed   int64
	Rejected int64
}

// LoopStats represents runtime observability state for an EventLoop.
type LoopStats struct {
	Name     string
	Ready    int
	Delayed  int
	Barriers int
	Executed uint64
	Running  bool
	Closed   bool
}
