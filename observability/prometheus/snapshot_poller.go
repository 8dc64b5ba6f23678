package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-loopsched/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// LoopSnapshotProvider provides current loop stats snapshots.
type LoopSnapshotProvider interface {
	Stats() core.LoopStats
}

// SnapshotPoller periodically exports scheduler/loop Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	loopsMu sync.RWMutex
	loops   map[string]LoopSnapshotProvider

	schedulerPending  *prom.GaugeVec
	schedulerWorkers  *prom.GaugeVec
	schedulerExecuted *prom.GaugeVec
	schedulerFailed   *prom.GaugeVec
	schedulerRejected *prom.GaugeVec
	schedulerDisposed *prom.GaugeVec

	loopReady    *prom.GaugeVec
	loopDelayed  *prom.GaugeVec
	loopBarriers *prom.GaugeVec
	loopExecuted *prom.GaugeVec
	loopRunning  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: defaultNamespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
		loops:      make(map[string]LoopSnapshotProvider),

		schedulerPending:  gauge("scheduler_pending", "Live entries across all workers of a scheduler.", "scheduler", "mode"),
		schedulerWorkers:  gauge("scheduler_workers", "Number of registered workers per scheduler.", "scheduler", "mode"),
		schedulerExecuted: gauge("scheduler_executed_total", "Scheduler executed task count snapshot.", "scheduler", "mode"),
		schedulerFailed:   gauge("scheduler_failed_total", "Scheduler failed task count snapshot.", "scheduler", "mode"),
		schedulerRejected: gauge("scheduler_rejected_total", "Scheduler rejected call count snapshot.", "scheduler", "mode"),
		schedulerDisposed: gauge("scheduler_disposed", "Scheduler disposed state (1=disposed, 0=live).", "scheduler", "mode"),

		loopReady:    gauge("loop_ready", "Posts ready to run per loop.", "loop"),
		loopDelayed:  gauge("loop_delayed", "Delayed posts per loop.", "loop"),
		loopBarriers: gauge("loop_sync_barriers", "Active sync barriers per loop.", "loop"),
		loopExecuted: gauge("loop_executed_total", "Loop executed post count snapshot.", "loop"),
		loopRunning:  gauge("loop_running", "Loop running state (1=running, 0=stopped).", "loop"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.schedulerPending, &p.schedulerWorkers, &p.schedulerExecuted,
		&p.schedulerFailed, &p.schedulerRejected, &p.schedulerDisposed,
		&p.loopReady, &p.loopDelayed, &p.loopBarriers, &p.loopExecuted, &p.loopRunning,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}

	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddLoop adds or replaces a loop snapshot provider by name.
func (p *SnapshotPoller) AddLoop(name string, provider LoopSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "loop")
	p.loopsMu.Lock()
	p.loops[name] = provider
	p.loopsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		mode := stats.Mode.String()
		p.schedulerPending.WithLabelValues(name, mode).Set(float64(stats.Pending))
		p.schedulerWorkers.WithLabelValues(name, mode).Set(float64(len(stats.Workers)))
		p.schedulerExecuted.WithLabelValues(name, mode).Set(float64(stats.Executed))
		p.schedulerFailed.WithLabelValues(name, mode).Set(float64(stats.Failed))
		p.schedulerRejected.WithLabelValues(name, mode).Set(float64(stats.Rejected))
		p.schedulerDisposed.WithLabelValues(name, mode).Set(boolGauge(stats.Disposed))
	}
	p.schedulersMu.RUnlock()

	p.loopsMu.RLock()
	for name, provider := range p.loops {
		stats := provider.Stats()
		p.loopReady.WithLabelValues(name).Set(float64(stats.Ready))
		p.loopDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.loopBarriers.WithLabelValues(name).Set(float64(stats.Barriers))
		p.loopExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.loopRunning.WithLabelValues(name).Set(boolGauge(!stats.Closed))
	}
	p.loopsMu.RUnlock()
}
