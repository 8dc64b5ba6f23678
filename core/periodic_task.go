package core

import (
	"context"
	"runtime/debug"
	"time"
)

// periodicTask drives one fixed-rate series. Every occurrence runs on the
// Loop, so the fields below are only touched by one goroutine at a time.
type periodicTask struct {
	id        TaskID
	name      string
	body      Task
	worker    *LoopWorker
	clock     Clock
	swap      *swapHandle
	period    time.Duration
	tolerance time.Duration

	count    int64
	lastNow  time.Time
	anchorAt time.Time
}

func newPeriodicTask(w *LoopWorker, body Task, swap *swapHandle, initialDelay, period time.Duration) *periodicTask {
	now := w.env.clock.Now()
	return &periodicTask{
		id:        GenerateTaskID(),
		name:      resolveTaskName(body),
		body:      body,
		worker:    w,
		clock:     w.env.clock,
		swap:      swap,
		period:    period,
		tolerance: w.env.tolerance,
		lastNow:   now,
		anchorAt:  now.Add(dueIn(initialDelay)),
	}
}

func (p *periodicTask) run(ctx context.Context) {
	p.execute(ctx)

	if p.swap.IsDisposed() {
		return
	}
	if p.worker.State() != WorkerActive {
		// Draining: let the in-flight occurrence be the last one.
		p.swap.finish()
		return
	}
	p.scheduleNext()
}

func (p *periodicTask) execute(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.swap.Dispose()
			panic(&PeriodicSeriesError{
				SeriesID:   p.id,
				Name:       p.name,
				Worker:     p.worker.name,
				Executions: p.count + 1,
				Value:      rec,
				Stack:      debug.Stack(),
			})
		}
	}()
	p.body(ctx)
}

// nextDelay advances the series by one period and returns how long to wait
// before the next occurrence. Within tolerance the schedule stays on the
// anchor grid; a backward clock jump or a lag beyond tolerance rebases the
// anchor so the next firing happens one period from now.
func (p *periodicTask) nextDelay(now time.Time) (delay time.Duration, rebased bool) {
	p.count++
	var next time.Time
	if now.Add(p.tolerance).Before(p.lastNow) || !now.Before(p.lastNow.Add(p.period+p.tolerance)) {
		next = now.Add(p.period)
		p.anchorAt = next.Add(-time.Duration(p.count) * p.period)
		rebased = true
	} else {
		next = p.anchorAt.Add(time.Duration(p.count) * p.period)
	}
	p.lastNow = now
	return next.Sub(now), rebased
}

func (p *periodicTask) scheduleNext() {
	delay, rebased := p.nextDelay(p.clock.Now())
	if rebased {
		p.worker.env.metrics.RecordPeriodicRebase(p.worker.name)
		p.worker.env.logger.Debug("periodic task rebased",
			F("task", p.name),
			F("worker", p.worker.name),
			F("executions", p.count),
			F("delay", delay),
		)
	}

	occ, err := p.worker.post(p.run, p.name, TaskKindPeriodic, delay, false)
	if err != nil {
		p.swap.Dispose()
		return
	}
	p.swap.Replace(occ)
}
