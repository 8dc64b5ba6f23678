package core

import "time"

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on the loop goroutine or on the scheduling goroutine and
// must be non-blocking.
type Metrics interface {
	// RecordTaskDuration records how long one execution took.
	//
	// Parameters:
	// - workerName: The name of the worker that owned the task
	// - kind: One-shot or periodic occurrence
	// - duration: How long the body took to execute
	RecordTaskDuration(workerName string, kind TaskKind, duration time.Duration)

	// RecordTaskFailure records that a task body panicked.
	RecordTaskFailure(workerName string, kind TaskKind)

	// RecordTaskRejected records that a scheduling call was rejected.
	//
	// Parameters:
	// - workerName: The name of the worker (or scheduler) that rejected the call
	// - reason: Why the task was rejected
	RecordTaskRejected(workerName string, reason string)

	// RecordPendingEntries records the current size of a worker's entry set.
	RecordPendingEntries(workerName string, pending int)

	// RecordPeriodicRebase records that a periodic series rebased its anchor
	// after a clock jump or a lagging execution.
	RecordPeriodicRebase(workerName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(workerName string, kind TaskKind, duration time.Duration) {}

// RecordTaskFailure is a no-op.
func (m *NilMetrics) RecordTaskFailure(workerName string, kind TaskKind) {}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(workerName string, reason string) {}

// RecordPendingEntries is a no-op.
func (m *NilMetrics) RecordPendingEntries(workerName string, pending int) {}

// RecordPeriodicRebase is a no-op.
func (m *NilMetrics) RecordPeriodicRebase(workerName string) {}

// =============================================================================
// SchedulerConfig: Configuration for LoopScheduler
// =============================================================================

const (
	defaultDrainPollBudget = 100 * time.Millisecond
	defaultSchedulerName   = "loop"
)

// SchedulerConfig holds configuration options for LoopScheduler.
// All fields are optional; zero values are replaced by defaults.
type SchedulerConfig struct {
	// Name prefixes worker names in logs, metrics and stats. Defaults to "loop".
	Name string

	// PostingMode decides whether posts bypass sync barriers. Defaults to PostAsync.
	PostingMode PostingMode

	// Clock drives periodic scheduling and Now. Defaults to the Loop itself.
	Clock Clock

	// DriftTolerance overrides the process-wide clock drift tolerance. Zero or
	// negative keeps the process-wide value, so the smallest override is 1ns.
	DriftTolerance time.Duration

	// DrainPollBudget is the length of one graceful-drain polling round. Defaults to 100ms.
	DrainPollBudget time.Duration

	// HistoryCapacity bounds the execution history. Defaults to 100.
	HistoryCapacity int

	// FailureHandler receives failures escaping task bodies. When nil the
	// process-wide handler and its fallbacks are used.
	FailureHandler FailureHandler

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// Logger receives lifecycle and fallback failure logs. Defaults to DefaultLogger.
	Logger Logger
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:            defaultSchedulerName,
		PostingMode:     PostAsync,
		DriftTolerance:  ClockDriftTolerance(),
		DrainPollBudget: defaultDrainPollBudget,
		HistoryCapacity: defaultTaskHistoryCapacity,
		Metrics:         &NilMetrics{},
		Logger:          NewDefaultLogger(),
	}
}

func (c *SchedulerConfig) withDefaults(loop Loop) SchedulerConfig {
	var cfg SchedulerConfig
	if c != nil {
		cfg = *c
	}
	if cfg.Name == "" {
		cfg.Name = defaultSchedulerName
	}
	if cfg.Clock == nil {
		cfg.Clock = loop
	}
	if cfg.DriftTolerance <= 0 {
		cfg.DriftTolerance = ClockDriftTolerance()
	}
	if cfg.DrainPollBudget <= 0 {
		cfg.DrainPollBudget = defaultDrainPollBudget
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = defaultTaskHistoryCapacity
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NilMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger()
	}
	return cfg
}
