// Package loopsched binds a small scheduling contract onto a single-threaded
// execution context (a Loop).
//
// Work is organised in Workers. A Worker is an independent cancellation scope:
// disposing it cancels everything it scheduled without touching its siblings.
// All task bodies run serialized on the Loop, ordered by due time and then by
// post order, so state owned by tasks of one Loop needs no locks.
//
// # Quick Start
//
// Use the process-wide main scheduler:
//
//	s := loopsched.Main()
//	defer loopsched.ShutdownNow()
//
//	s.Schedule(func(ctx context.Context) {
//		// runs on the main loop goroutine
//	})
//
// Create an isolated Worker when a component needs its own lifetime:
//
//	w, err := s.NewWorker()
//	if err != nil {
//		return err
//	}
//	w.SchedulePeriodically(poll, 0, time.Second)
//	...
//	w.Dispose() // cancels poll and every other task of w
//
// # Key Concepts
//
// Loop: the execution context. core.EventLoop is the reference implementation;
// any type implementing core.Loop can host a scheduler.
//
// Periodic tasks: SchedulePeriodically runs at a fixed rate anchored at the
// first due time. Small clock drift self-corrects; a clock jump backwards or a
// lag longer than period plus the drift tolerance rebases the series at
// now + period. The tolerance is read once from SCHEDULER_DRIFT_TOLERANCE and
// SCHEDULER_DRIFT_TOLERANCE_UNIT (15 minutes by default).
//
// Cron series: ScheduleCron runs a task at every activation of a crontab
// expression. An optional leading seconds field and descriptors such as
// "@hourly" or "@every 5m" are accepted.
//
// Disposal: Dispose is immediate and never runs pending work. DisposeGracefully
// stops accepting work and returns a Drain that completes once pending work has
// run. Shutdown(ctx) bounds a graceful disposal with a context and falls back to
// Dispose.
//
// Failures: a panicking task never unwinds into the Loop. The recovered panic is
// delivered to SchedulerConfig.FailureHandler, the process-wide handler set with
// SetFailureHandler, the Loop's uncaught handler or, failing all of those, a
// rate-limited error log.
package loopsched
