package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	l := NewEventLoop(append([]LoopOption{WithLoopLogger(NewNoOpLogger())}, opts...)...)
	t.Cleanup(l.Stop)
	return l
}

// flush blocks until every post queued before the call has run.
func flush(t *testing.T, l *EventLoop) {
	t.Helper()
	done := make(chan struct{})
	_, err := l.Post(func() { close(done) }, 0, PostOptions{Async: true})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not flush")
	}
}

// TestEventLoop_FIFO verifies immediate posts run in post order on one
// goroutine.
func TestEventLoop_FIFO(t *testing.T) {
	l := newTestLoop(t)

	var order []int
	onLoop := true
	for i := range 20 {
		_, err := l.Post(func() {
			order = append(order, i)
			onLoop = onLoop && l.IsLoopGoroutine()
		}, 0, PostOptions{})
		require.NoError(t, err)
	}
	flush(t, l)

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
	assert.True(t, onLoop)
	assert.False(t, l.IsLoopGoroutine())
}

// TestEventLoop_DueTimeOrder verifies delayed posts run by due time, FIFO
// among equal due times.
func TestEventLoop_DueTimeOrder(t *testing.T) {
	l := newTestLoop(t)

	var mu sync.Mutex
	var order []string
	record := func(s string) func() {
		return func() {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}

	_, err := l.Post(record("c"), 60*time.Millisecond, PostOptions{Async: true})
	require.NoError(t, err)
	_, err = l.Post(record("a"), 20*time.Millisecond, PostOptions{Async: true})
	require.NoError(t, err)
	_, err = l.Post(record("b"), 20*time.Millisecond, PostOptions{Async: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestEventLoop_Cancel(t *testing.T) {
	l := newTestLoop(t)

	var ran atomic.Bool
	h, err := l.Post(func() { ran.Store(true) }, 50*time.Millisecond, PostOptions{})
	require.NoError(t, err)

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	assert.Equal(t, 0, l.Stats().Delayed)

	time.Sleep(80 * time.Millisecond)
	assert.False(t, ran.Load())

	done, err := l.Post(func() {}, 0, PostOptions{})
	require.NoError(t, err)
	flush(t, l)
	assert.False(t, done.Cancel(), "a post that already ran cannot be cancelled")
}

// TestEventLoop_CancelAll verifies a token cancels only its own posts, both
// ready and delayed.
func TestEventLoop_CancelAll(t *testing.T) {
	l := newTestLoop(t)

	var mine, other atomic.Int32
	release := l.PostSyncBarrier()
	for range 3 {
		_, err := l.Post(func() { mine.Add(1) }, 0, PostOptions{Token: "mine"})
		require.NoError(t, err)
		_, err = l.Post(func() { mine.Add(1) }, 10*time.Millisecond, PostOptions{Token: "mine"})
		require.NoError(t, err)
		_, err = l.Post(func() { other.Add(1) }, 10*time.Millisecond, PostOptions{Token: "other"})
		require.NoError(t, err)
	}

	l.CancelAll("mine")
	release()

	require.Eventually(t, func() bool { return other.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	flush(t, l)
	assert.Equal(t, int32(0), mine.Load())
}

// TestEventLoop_SyncBarrier verifies a barrier holds sync posts while async
// posts keep running.
// Given: an active sync barrier
// When: one sync and one async post are made
// Then: only the async post runs until the barrier is released
func TestEventLoop_SyncBarrier(t *testing.T) {
	l := newTestLoop(t)

	var syncRan, asyncRan atomic.Bool
	release := l.PostSyncBarrier()

	_, err := l.Post(func() { syncRan.Store(true) }, 0, PostOptions{})
	require.NoError(t, err)
	_, err = l.Post(func() { asyncRan.Store(true) }, 0, PostOptions{Async: true})
	require.NoError(t, err)

	flush(t, l)
	assert.True(t, asyncRan.Load())
	assert.False(t, syncRan.Load())
	assert.Equal(t, 1, l.Stats().Barriers)

	release()
	release()
	require.Eventually(t, syncRan.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, l.Stats().Barriers)
}

// TestEventLoop_SyncSchedulerHeldByBarrier verifies the scheduler posting
// mode decides whether tasks bypass barriers.
func TestEventLoop_SyncSchedulerHeldByBarrier(t *testing.T) {
	l := newTestLoop(t)
	syncSched := NewLoopScheduler(l, &SchedulerConfig{PostingMode: PostSync, Logger: NewNoOpLogger()})
	asyncSched := NewLoopScheduler(l, &SchedulerConfig{Logger: NewNoOpLogger()})
	defer syncSched.Dispose()
	defer asyncSched.Dispose()

	release := l.PostSyncBarrier()
	var syncRan, asyncRan atomic.Bool
	_, err := syncSched.Schedule(func(ctx context.Context) { syncRan.Store(true) })
	require.NoError(t, err)
	_, err = asyncSched.Schedule(func(ctx context.Context) { asyncRan.Store(true) })
	require.NoError(t, err)

	require.Eventually(t, asyncRan.Load, time.Second, 5*time.Millisecond)
	assert.False(t, syncRan.Load())

	release()
	require.Eventually(t, syncRan.Load, time.Second, 5*time.Millisecond)
}

func TestEventLoop_Stop(t *testing.T) {
	l := NewEventLoop(WithLoopLogger(NewNoOpLogger()), WithLoopName("stopper"))

	var ran atomic.Bool
	_, err := l.Post(func() { ran.Store(true) }, time.Hour, PostOptions{})
	require.NoError(t, err)

	l.Stop()
	l.Stop()

	assert.True(t, l.IsClosed())
	_, err = l.Post(func() {}, 0, PostOptions{})
	assert.ErrorIs(t, err, ErrLoopStopped)

	stats := l.Stats()
	assert.Equal(t, "stopper", stats.Name)
	assert.True(t, stats.Closed)
	assert.Equal(t, 0, stats.Delayed)
	assert.False(t, ran.Load())
}

func TestEventLoop_StopFromLoop(t *testing.T) {
	l := NewEventLoop(WithLoopLogger(NewNoOpLogger()))

	stopped := make(chan struct{})
	_, err := l.Post(func() {
		l.Stop()
		close(stopped)
	}, 0, PostOptions{})
	require.NoError(t, err)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called on the loop goroutine blocked")
	}
	l.Stop()
	assert.True(t, l.IsClosed())
}

// TestEventLoop_PanicGoesToUncaughtHandler verifies a panicking raw post is
// reported and the loop keeps running.
func TestEventLoop_PanicGoesToUncaughtHandler(t *testing.T) {
	failures := &recordingFailures{}
	l := newTestLoop(t, WithUncaughtHandler(failures))

	_, err := l.Post(func() { panic("raw") }, 0, PostOptions{})
	require.NoError(t, err)
	flush(t, l)

	errs := failures.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "raw")
	assert.Same(t, failures, l.UncaughtHandler())
	require.Eventually(t, func() bool { return l.Stats().Executed == 2 }, time.Second, 5*time.Millisecond)

	l.SetUncaughtHandler(nil)
	assert.Nil(t, l.UncaughtHandler())
}

func TestEventLoop_NilPost(t *testing.T) {
	l := newTestLoop(t)
	_, err := l.Post(nil, 0, PostOptions{})
	assert.ErrorIs(t, err, ErrNilTask)
}
