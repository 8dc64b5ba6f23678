package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// FailureHandler receives failures escaping task bodies: *TaskExecutionError
// for one-shot tasks and *PeriodicSeriesError for periodic series.
//
// Implementations must be safe for concurrent use.
type FailureHandler interface {
	HandleFailure(ctx context.Context, err error)
}

// FailureHandlerFunc adapts a function to FailureHandler.
type FailureHandlerFunc func(ctx context.Context, err error)

func (f FailureHandlerFunc) HandleFailure(ctx context.Context, err error) { f(ctx, err) }

type failureHandlerBox struct {
	h FailureHandler
}

var globalFailureHandler atomic.Pointer[failureHandlerBox]

// SetFailureHandler installs the process-wide failure handler and returns the
// previous one. A nil handler restores the fallback chain.
func SetFailureHandler(h FailureHandler) FailureHandler {
	var next *failureHandlerBox
	if h != nil {
		next = &failureHandlerBox{h: h}
	}
	prev := globalFailureHandler.Swap(next)
	if prev == nil {
		return nil
	}
	return prev.h
}

// ResetFailureHandler removes the process-wide failure handler.
func ResetFailureHandler() {
	globalFailureHandler.Store(nil)
}

// ReportFailure forwards err to the process-wide failure handler, falling
// back to a rate-limited error log when none is installed.
func ReportFailure(ctx context.Context, err error) {
	if box := globalFailureHandler.Load(); box != nil {
		callFailureHandler(ctx, box.h, err, fallbackLog)
		return
	}
	fallbackLog.log(err)
}

// failureReporter resolves where a scheduler's task failures go:
// configured handler, process-wide handler, the Loop's uncaught handler, then
// the scheduler logger.
type failureReporter struct {
	configured FailureHandler
	loop       Loop
	log        *throttledLog
}

func newFailureReporter(configured FailureHandler, loop Loop, logger Logger) *failureReporter {
	return &failureReporter{
		configured: configured,
		loop:       loop,
		log:        newThrottledLog(logger),
	}
}

func (r *failureReporter) report(ctx context.Context, err error) {
	if r.configured != nil {
		callFailureHandler(ctx, r.configured, err, r.log)
		return
	}
	if box := globalFailureHandler.Load(); box != nil {
		callFailureHandler(ctx, box.h, err, r.log)
		return
	}
	if ul, ok := r.loop.(UncaughtHandlerLoop); ok {
		if h := ul.UncaughtHandler(); h != nil {
			callFailureHandler(ctx, h, err, r.log)
			return
		}
	}
	r.log.log(err)
}

func callFailureHandler(ctx context.Context, h FailureHandler, err error, log *throttledLog) {
	defer func() {
		if rec := recover(); rec != nil {
			log.logger.Error("failure handler panicked", F("panic", rec), F("error", err))
		}
	}()
	h.HandleFailure(ctx, err)
}

// =============================================================================
// throttledLog: last-resort sink, bounded so a failing task cannot flood logs
// =============================================================================

const (
	failureLogEvery = 100 * time.Millisecond
	failureLogBurst = 20
)

type throttledLog struct {
	logger     Logger
	limiter    *rate.Limiter
	mu         sync.Mutex
	suppressed int
}

var fallbackLog = newThrottledLog(nil)

func newThrottledLog(logger Logger) *throttledLog {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &throttledLog{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(failureLogEvery), failureLogBurst),
	}
}

func (l *throttledLog) log(err error) {
	if !l.limiter.Allow() {
		l.mu.Lock()
		l.suppressed++
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	suppressed := l.suppressed
	l.suppressed = 0
	l.mu.Unlock()

	fields := []Field{F("error", err)}
	switch e := err.(type) {
	case *TaskExecutionError:
		fields = append(fields, F("task", e.Name), F("worker", e.Worker), F("stack", string(e.Stack)))
	case *PeriodicSeriesError:
		fields = append(fields, F("task", e.Name), F("worker", e.Worker),
			F("executions", e.Executions), F("stack", string(e.Stack)))
	}
	if suppressed > 0 {
		fields = append(fields, F("suppressed", suppressed))
	}
	l.logger.Error("scheduler worker failed with an uncaught panic", fields...)
}
