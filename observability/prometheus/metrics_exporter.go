package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-loopsched/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "loopsched"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskFailureTotal    *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	pendingEntries      *prom.GaugeVec
	periodicRebaseTotal *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"worker", "kind"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_failure_total",
		Help:      "Total number of task bodies that panicked.",
	}, []string{"worker", "kind"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected scheduling calls.",
	}, []string{"worker", "reason"})
	pendingVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_pending_entries",
		Help:      "Current number of live entries per worker.",
	}, []string{"worker"})
	rebaseVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "periodic_rebase_total",
		Help:      "Total number of periodic series rebased after a clock jump or lag.",
	}, []string{"worker"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if pendingVec, err = registerCollector(reg, pendingVec); err != nil {
		return nil, err
	}
	if rebaseVec, err = registerCollector(reg, rebaseVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskFailureTotal:    failureVec,
		taskRejectedTotal:   rejectedVec,
		pendingEntries:      pendingVec,
		periodicRebaseTotal: rebaseVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(workerName string, kind core.TaskKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(workerName, "unknown"), kind.String()).Observe(duration.Seconds())
}

// RecordTaskFailure records a panicking task body.
func (m *MetricsExporter) RecordTaskFailure(workerName string, kind core.TaskKind) {
	if m == nil {
		return
	}
	m.taskFailureTotal.WithLabelValues(normalizeLabel(workerName, "unknown"), kind.String()).Inc()
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(workerName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(workerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordPendingEntries records the live entry count of a worker.
func (m *MetricsExporter) RecordPendingEntries(workerName string, pending int) {
	if m == nil {
		return
	}
	m.pendingEntries.WithLabelValues(normalizeLabel(workerName, "unknown")).Set(float64(pending))
}

// RecordPeriodicRebase records a rebased periodic series.
func (m *MetricsExporter) RecordPeriodicRebase(workerName string) {
	if m == nil {
		return
	}
	m.periodicRebaseTotal.WithLabelValues(normalizeLabel(workerName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
