package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts five-field crontab expressions, an optional leading
// seconds field, and descriptors such as "@hourly" or "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses expr with the scheduler's cron dialect.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// cronTask drives a calendar series. Each occurrence computes the next
// activation from the scheduler clock, so wall clock jumps are followed
// rather than tolerated.
type cronTask struct {
	id       TaskID
	name     string
	body     Task
	worker   *LoopWorker
	clock    Clock
	swap     *swapHandle
	schedule cron.Schedule
	count    int64
}

// ScheduleCron runs task at every activation of the cron expression expr,
// evaluated against the scheduler clock. A panic in task terminates the
// series, as does a schedule with no further activations.
func (w *LoopWorker) ScheduleCron(expr string, task Task) (Disposable, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return w.ScheduleCronSchedule(sched, task)
}

// ScheduleCronSchedule is ScheduleCron with an already parsed schedule.
func (w *LoopWorker) ScheduleCronSchedule(sched cron.Schedule, task Task) (Disposable, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if sched == nil {
		return nil, ErrInvalidSchedule
	}
	if w.State() != WorkerActive {
		return nil, w.reject("worker is not active")
	}

	swap := newSwapHandle(w.release)
	c := &cronTask{
		id:       GenerateTaskID(),
		name:     resolveTaskName(task),
		body:     task,
		worker:   w,
		clock:    w.env.clock,
		swap:     swap,
		schedule: sched,
	}
	delay, ok := c.nextDelay(c.clock.Now())
	if !ok {
		return nil, w.reject("cron schedule has no future activation")
	}
	return w.startSeries(swap, c.run, c.name, delay)
}

// ScheduleCron runs task on the main worker at every activation of expr.
func (s *LoopScheduler) ScheduleCron(expr string, task Task) (Disposable, error) {
	w := s.main.Load()
	if w == nil {
		return nil, s.reject("scheduler is shut down")
	}
	return w.ScheduleCron(expr, task)
}

func (c *cronTask) nextDelay(now time.Time) (time.Duration, bool) {
	next := c.schedule.Next(now)
	if next.IsZero() {
		return 0, false
	}
	return next.Sub(now), true
}

func (c *cronTask) run(ctx context.Context) {
	c.execute(ctx)
	c.count++

	if c.swap.IsDisposed() {
		return
	}
	if c.worker.State() != WorkerActive {
		c.swap.finish()
		return
	}

	delay, ok := c.nextDelay(c.clock.Now())
	if !ok {
		c.worker.env.logger.Debug("cron series has no further activation",
			F("task", c.name),
			F("worker", c.worker.name),
			F("executions", c.count),
		)
		c.swap.finish()
		return
	}
	occ, err := c.worker.post(c.run, c.name, TaskKindPeriodic, delay, false)
	if err != nil {
		c.swap.Dispose()
		return
	}
	c.swap.Replace(occ)
}

func (c *cronTask) execute(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			c.swap.Dispose()
			panic(&PeriodicSeriesError{
				SeriesID:   c.id,
				Name:       c.name,
				Worker:     c.worker.name,
				Executions: c.count + 1,
				Value:      rec,
				Stack:      debug.Stack(),
			})
		}
	}()
	c.body(ctx)
}
