package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoopWorker_DisposeGracefullyWaitsForPendingTask verifies a drain
// completes only after the queued task ran.
// Given: a worker with one task due in 500ms
// When: the worker is disposed gracefully
// Then: the drain stays open until the task has run, new work is rejected,
// and the worker ends up disposed
func TestLoopWorker_DisposeGracefullyWaitsForPendingTask(t *testing.T) {
	loop := newManualLoop()
	s := newTestScheduler(loop, nil)
	w, err := s.NewWorker()
	require.NoError(t, err)

	var ran atomic.Bool
	_, err = w.ScheduleAfter(func(ctx context.Context) { ran.Store(true) }, 500*time.Millisecond)
	require.NoError(t, err)

	drain := w.DisposeGracefully()
	assert.Equal(t, WorkerDraining, w.State())
	assert.True(t, w.IsDisposed())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, drain.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, drain.Completed())

	_, err = w.Schedule(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrRejected)

	loop.Advance(499 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.Equal(t, 1, w.Pending())

	loop.Advance(time.Millisecond)
	assert.True(t, ran.Load())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, drain.Wait(waitCtx))
	assert.True(t, drain.Completed())
	assert.Equal(t, WorkerDisposed, w.State())
}

// TestLoopWorker_DisposeGracefullyOnEventLoop runs the same drain on a real
// loop and checks the drain does not finish before the task is due.
func TestLoopWorker_DisposeGracefullyOnEventLoop(t *testing.T) {
	loop := NewEventLoop(WithLoopLogger(NewNoOpLogger()))
	defer loop.Stop()
	s := NewLoopScheduler(loop, &SchedulerConfig{Logger: NewNoOpLogger()})
	w, err := s.NewWorker()
	require.NoError(t, err)

	var ran atomic.Bool
	_, err = w.ScheduleAfter(func(ctx context.Context) { ran.Store(true) }, 500*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	drain := w.DisposeGracefully()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, drain.Wait(ctx))

	assert.True(t, ran.Load())
	assert.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)
	assert.Equal(t, WorkerDisposed, w.State())
}

func TestLoopWorker_DisposeGracefullyWhenEmpty(t *testing.T) {
	loop := newManualLoop()
	s := newTestScheduler(loop, nil)
	w, err := s.NewWorker()
	require.NoError(t, err)

	drain := w.DisposeGracefully()

	assert.Equal(t, WorkerDisposed, w.State())
	select {
	case <-drain.Done():
	case <-time.After(time.Second):
		t.Fatal("drain of an empty worker did not complete")
	}
	assert.Len(t, s.Stats().Workers, 1)
}

// TestDrain_Abandon verifies abandoning stops notification but not the drain.
func TestDrain_Abandon(t *testing.T) {
	loop := newManualLoop()
	s := newTestScheduler(loop, nil)
	w, err := s.NewWorker()
	require.NoError(t, err)

	var ran atomic.Bool
	_, err = w.ScheduleAfter(func(ctx context.Context) { ran.Store(true) }, time.Second)
	require.NoError(t, err)

	drain := w.DisposeGracefully()
	drain.Abandon()
	drain.Abandon()

	assert.ErrorIs(t, drain.Wait(context.Background()), ErrDrainAbandoned)

	loop.Advance(time.Second)
	assert.True(t, ran.Load())
	assert.Equal(t, WorkerDisposed, w.State())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, drain.Completed())
}

// TestDrainAwaiter_Trampolines verifies polling continues across round
// budgets until the snapshot empties.
func TestDrainAwaiter_Trampolines(t *testing.T) {
	loop := newManualLoop()
	s := newTestScheduler(loop, func(c *SchedulerConfig) { c.DrainPollBudget = 5 * time.Millisecond })
	w, err := s.NewWorker()
	require.NoError(t, err)

	_, err = w.ScheduleAfter(func(ctx context.Context) {}, time.Minute)
	require.NoError(t, err)

	drain := w.DisposeGracefully()

	// Several rounds pass while the task is still queued.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, drain.Completed())

	loop.Advance(time.Minute)
	require.Eventually(t, drain.Completed, time.Second, 5*time.Millisecond)
}

func TestDrainPool_BoundsConcurrency(t *testing.T) {
	pool := newDrainPool(2)

	var running, peak atomic.Int32
	done := make(chan struct{}, 10)
	for range 10 {
		pool.submit(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			done <- struct{}{}
		})
	}
	for range 10 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("pool did not run every job")
		}
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
