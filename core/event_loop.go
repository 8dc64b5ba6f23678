package core

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
)

// EventLoop is a Loop backed by one dedicated goroutine. Posts run in due
// time order, FIFO among equal due times. Delayed posts wait in a heap and
// move to the ready queues when they become due.
//
// Sync barriers hold back posts made without PostOptions.Async until the
// barrier is released; async posts keep running.
type EventLoop struct {
	mu       sync.Mutex
	delayed  delayHeap
	syncQ    deque.Deque[*loopEntry]
	asyncQ   deque.Deque[*loopEntry]
	seq      uint64
	readySeq uint64
	barriers int

	name      string
	logger    Logger
	uncaught  atomic.Pointer[failureHandlerBox]
	executed  atomic.Uint64
	goid      atomic.Uint64
	closed    atomic.Bool
	wakeup    chan struct{}
	quit      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// LoopOptions configure an EventLoop.
type LoopOptions struct {
	Name            string
	Logger          Logger
	UncaughtHandler FailureHandler
}

// LoopOption sets a LoopOptions field.
type LoopOption func(*LoopOptions)

// WithLoopName sets the loop name used in logs and stats.
func WithLoopName(name string) LoopOption {
	return func(o *LoopOptions) {
		if name != "" {
			o.Name = name
		}
	}
}

// WithLoopLogger sets the logger for panics escaping raw posts.
func WithLoopLogger(logger Logger) LoopOption {
	return func(o *LoopOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithUncaughtHandler sets the handler for panics escaping raw posts. The
// scheduler also falls back to it for task failures.
func WithUncaughtHandler(h FailureHandler) LoopOption {
	return func(o *LoopOptions) {
		o.UncaughtHandler = h
	}
}

// NewEventLoop creates and starts an EventLoop.
func NewEventLoop(opts ...LoopOption) *EventLoop {
	options := LoopOptions{Name: "event-loop"}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = NewDefaultLogger()
	}

	l := &EventLoop{
		delayed: make(delayHeap, 0),
		name:    options.Name,
		logger:  options.Logger,
		wakeup:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	heap.Init(&l.delayed)
	l.SetUncaughtHandler(options.UncaughtHandler)
	l.start()
	return l
}

func (l *EventLoop) start() {
	l.startOnce.Do(func() {
		ready := make(chan struct{})
		go func() {
			l.goid.Store(currentGoroutineID())
			close(ready)
			l.run()
		}()
		<-ready
	})
}

// Name returns the loop name.
func (l *EventLoop) Name() string { return l.name }

// Now returns the current time with its monotonic reading.
func (l *EventLoop) Now() time.Time { return time.Now() }

// UncaughtHandler returns the handler for failures escaping work on this loop.
func (l *EventLoop) UncaughtHandler() FailureHandler {
	if box := l.uncaught.Load(); box != nil {
		return box.h
	}
	return nil
}

// SetUncaughtHandler replaces the uncaught handler. nil removes it.
func (l *EventLoop) SetUncaughtHandler(h FailureHandler) {
	if h == nil {
		l.uncaught.Store(nil)
		return
	}
	l.uncaught.Store(&failureHandlerBox{h: h})
}

// Post queues fn to run after delay. A delay <= 0 queues fn behind every post
// that is already due.
func (l *EventLoop) Post(fn func(), delay time.Duration, opts PostOptions) (PostHandle, error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	if l.closed.Load() {
		return nil, ErrLoopStopped
	}

	now := time.Now()
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return nil, ErrLoopStopped
	}
	l.seq++
	e := &loopEntry{
		fn:    fn,
		runAt: now.Add(max(delay, 0)),
		seq:   l.seq,
		token: opts.Token,
		async: opts.Async,
		index: -1,
		loop:  l,
	}
	if delay > 0 {
		heap.Push(&l.delayed, e)
	} else {
		l.promoteLocked(now)
		l.enqueueLocked(e)
	}
	l.mu.Unlock()

	l.signal()
	return e, nil
}

// CancelAll removes every pending post tagged with token.
func (l *EventLoop) CancelAll(token Token) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.delayed[:0]
	for _, e := range l.delayed {
		if e.token == token && e.state.CompareAndSwap(entryPending, entryRemoved) {
			e.index = -1
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.delayed); i++ {
		l.delayed[i] = nil
	}
	l.delayed = kept
	for i := range l.delayed {
		l.delayed[i].index = i
	}
	heap.Init(&l.delayed)

	// Ready entries are dropped lazily when they reach the front.
	for _, q := range []*deque.Deque[*loopEntry]{&l.syncQ, &l.asyncQ} {
		for i := 0; i < q.Len(); i++ {
			if e := q.At(i); e.token == token {
				e.state.CompareAndSwap(entryPending, entryRemoved)
			}
		}
	}
}

// PostSyncBarrier holds back non-async posts until release is called.
// Barriers nest; release is idempotent.
func (l *EventLoop) PostSyncBarrier() (release func()) {
	l.mu.Lock()
	l.barriers++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.barriers--
			l.mu.Unlock()
			l.signal()
		})
	}
}

// IsLoopGoroutine reports whether the caller runs on the loop goroutine.
func (l *EventLoop) IsLoopGoroutine() bool {
	return currentGoroutineID() == l.goid.Load()
}

// IsClosed reports whether Stop has been called.
func (l *EventLoop) IsClosed() bool { return l.closed.Load() }

// Stop terminates the loop without running queued posts. Called from outside
// the loop it waits for the running post to finish.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		l.mu.Unlock()
		close(l.quit)
	})
	if !l.IsLoopGoroutine() {
		<-l.stopped
	}
}

// Stats returns a snapshot of the loop queues.
func (l *EventLoop) Stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	closed := l.closed.Load()
	return LoopStats{
		Name:     l.name,
		Ready:    l.syncQ.Len() + l.asyncQ.Len(),
		Delayed:  l.delayed.Len(),
		Barriers: l.barriers,
		Executed: l.executed.Load(),
		Running:  !closed,
		Closed:   closed,
	}
}

func (l *EventLoop) signal() {
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

func (l *EventLoop) forget(e *loopEntry) {
	l.mu.Lock()
	if e.index >= 0 && e.index < len(l.delayed) && l.delayed[e.index] == e {
		heap.Remove(&l.delayed, e.index)
	}
	l.mu.Unlock()
}

func (l *EventLoop) enqueueLocked(e *loopEntry) {
	l.readySeq++
	e.ready = l.readySeq
	if e.async {
		l.asyncQ.PushBack(e)
	} else {
		l.syncQ.PushBack(e)
	}
}

// promoteLocked moves every due delayed post into the ready queues.
func (l *EventLoop) promoteLocked(now time.Time) {
	for {
		e := l.delayed.Peek()
		if e == nil || e.runAt.After(now) {
			return
		}
		heap.Pop(&l.delayed)
		if e.state.Load() == entryPending {
			l.enqueueLocked(e)
		}
	}
}

func frontLive(q *deque.Deque[*loopEntry]) *loopEntry {
	for q.Len() > 0 {
		e := q.Front()
		if e.state.Load() == entryPending {
			return e
		}
		q.PopFront()
	}
	return nil
}

// next returns the next runnable entry, or how long to wait for one.
func (l *EventLoop) next() (*loopEntry, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.promoteLocked(now)

	a := frontLive(&l.asyncQ)
	var s *loopEntry
	if l.barriers == 0 {
		s = frontLive(&l.syncQ)
	}
	switch {
	case a != nil && (s == nil || a.ready < s.ready):
		l.asyncQ.PopFront()
		return a, 0
	case s != nil:
		l.syncQ.PopFront()
		return s, 0
	}

	if e := l.delayed.Peek(); e != nil {
		return nil, e.runAt.Sub(now)
	}
	return nil, -1
}

func (l *EventLoop) run() {
	defer close(l.stopped)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-l.quit:
			l.clear()
			return
		default:
		}

		e, wait := l.next()
		if e != nil {
			l.execute(e)
			continue
		}

		var fire <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			fire = timer.C
		}
		select {
		case <-l.quit:
			timer.Stop()
			l.clear()
			return
		case <-fire:
		case <-l.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

func (l *EventLoop) execute(e *loopEntry) {
	if !e.state.CompareAndSwap(entryPending, entryRunning) {
		return
	}
	defer func() {
		l.executed.Add(1)
		if rec := recover(); rec != nil {
			l.reportPanic(rec, debug.Stack())
		}
	}()
	e.fn()
}

func (l *EventLoop) reportPanic(rec any, stack []byte) {
	err := fmt.Errorf("loopsched: panic on loop %s: %v", l.name, rec)
	if h := l.UncaughtHandler(); h != nil {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("uncaught handler panicked", F("loop", l.name), F("panic", r))
			}
		}()
		h.HandleFailure(context.Background(), err)
		return
	}
	l.logger.Error("post panicked", F("loop", l.name), F("error", err), F("stack", string(stack)))
}

// clear drops every queued post after a stop.
func (l *EventLoop) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.delayed {
		e.state.Store(entryRemoved)
		e.index = -1
	}
	l.delayed = make(delayHeap, 0)
	for _, q := range []*deque.Deque[*loopEntry]{&l.syncQ, &l.asyncQ} {
		for q.Len() > 0 {
			q.PopFront().state.Store(entryRemoved)
		}
	}
}

func (l *EventLoop) String() string {
	return fmt.Sprintf("EventLoop(%s)", l.name)
}

var goroutinePrefix = []byte("goroutine ")

// currentGoroutineID parses the id from the first line of the goroutine
// stack header ("goroutine 18 [running]:").
func currentGoroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
