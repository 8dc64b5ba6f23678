package loopsched

import (
	"context"
	"sync"

	"github.com/Swind/go-loopsched/core"
)

// =============================================================================
// Process-wide main loop and scheduler
// =============================================================================

const mainLoopName = "main"

var (
	mainLoop     *core.EventLoop
	mainLoopOnce sync.Once

	mainScheduler     *MainScheduler
	mainSchedulerOnce sync.Once

	shutdownOnce sync.Once
)

// MainScheduler is the shared scheduler returned by Main. Its disposal methods
// are no-ops because other components hold the same instance; ShutdownNow is
// the only way to tear it down.
type MainScheduler struct {
	*core.LoopScheduler
}

var _ core.Scheduler = (*MainScheduler)(nil)

// Dispose does nothing for the shared scheduler.
func (m *MainScheduler) Dispose() {}

// DisposeGracefully does nothing for the shared scheduler and returns a
// completed drain.
func (m *MainScheduler) DisposeGracefully() *core.Drain {
	return core.CompletedDrain()
}

// Shutdown does nothing for the shared scheduler.
func (m *MainScheduler) Shutdown(ctx context.Context) error { return nil }

// MainLoop returns the process-wide event loop, starting it on first use.
func MainLoop() *core.EventLoop {
	mainLoopOnce.Do(func() {
		mainLoop = core.NewEventLoop(core.WithLoopName(mainLoopName))
	})
	return mainLoop
}

// Main returns the cached scheduler on the main loop. After ShutdownNow it
// keeps returning the disposed instance, which rejects all work.
func Main() *MainScheduler {
	mainSchedulerOnce.Do(func() {
		cfg := core.DefaultSchedulerConfig()
		cfg.Name = mainLoopName
		mainScheduler = &MainScheduler{LoopScheduler: core.NewLoopScheduler(MainLoop(), cfg)}
	})
	return mainScheduler
}

// ShutdownNow hard-disposes the cached main scheduler and stops the main
// loop. Pending work is dropped. Later calls do nothing.
func ShutdownNow() {
	shutdownOnce.Do(func() {
		Main().LoopScheduler.Dispose()
		MainLoop().Stop()
	})
}

// NewMain creates a fresh async-posting scheduler on the main loop. The caller
// owns it and must dispose it.
func NewMain() *core.LoopScheduler {
	return NewMainWithMode(core.PostAsync)
}

// NewMainWithMode creates a fresh scheduler on the main loop with the given
// posting mode.
func NewMainWithMode(mode core.PostingMode) *core.LoopScheduler {
	return From(MainLoop(), mode)
}

// From creates a scheduler on an arbitrary loop with the given posting mode.
func From(loop core.Loop, mode core.PostingMode) *core.LoopScheduler {
	cfg := core.DefaultSchedulerConfig()
	cfg.PostingMode = mode
	return core.NewLoopScheduler(loop, cfg)
}
