package core

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// manualLoop is a Loop driven by virtual time. Posts run only when the test
// calls Advance or RunDue, on the calling goroutine.
type manualLoop struct {
	mu       sync.Mutex
	now      time.Time
	seq      uint64
	posts    []*manualPost
	delays   []time.Duration
	cancels  []Token
	postErr  error
	uncaught FailureHandler
}

type manualPost struct {
	loop      *manualLoop
	fn        func()
	at        time.Time
	seq       uint64
	token     Token
	async     bool
	ran       bool
	cancelled bool
}

func (p *manualPost) Cancel() bool {
	p.loop.mu.Lock()
	defer p.loop.mu.Unlock()
	if p.ran || p.cancelled {
		return false
	}
	p.cancelled = true
	return true
}

func newManualLoop() *manualLoop {
	return &manualLoop{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (l *manualLoop) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

func (l *manualLoop) Post(fn func(), delay time.Duration, opts PostOptions) (PostHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.postErr != nil {
		return nil, l.postErr
	}
	l.seq++
	p := &manualPost{
		loop:  l,
		fn:    fn,
		at:    l.now.Add(delay),
		seq:   l.seq,
		token: opts.Token,
		async: opts.Async,
	}
	l.posts = append(l.posts, p)
	l.delays = append(l.delays, delay)
	return p, nil
}

func (l *manualLoop) CancelAll(token Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels = append(l.cancels, token)
	for _, p := range l.posts {
		if p.token == token && !p.ran {
			p.cancelled = true
		}
	}
}

func (l *manualLoop) UncaughtHandler() FailureHandler { return l.uncaught }

// Delays returns the delay of every post so far, in post order.
func (l *manualLoop) Delays() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

// Queued returns the number of posts that have neither run nor been cancelled.
func (l *manualLoop) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.posts {
		if !p.ran && !p.cancelled {
			n++
		}
	}
	return n
}

func (l *manualLoop) nextDue(deadline time.Time) *manualPost {
	l.mu.Lock()
	defer l.mu.Unlock()
	var live []*manualPost
	for _, p := range l.posts {
		if !p.ran && !p.cancelled && !p.at.After(deadline) {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})
	p := live[0]
	p.ran = true
	if p.at.After(l.now) {
		l.now = p.at
	}
	return p
}

// Advance moves virtual time forward by d, running every post that becomes
// due in (due time, post order) order.
func (l *manualLoop) Advance(d time.Duration) {
	deadline := l.Now().Add(d)
	for {
		p := l.nextDue(deadline)
		if p == nil {
			break
		}
		p.fn()
	}
	l.mu.Lock()
	if deadline.After(l.now) {
		l.now = deadline
	}
	l.mu.Unlock()
}

// RunDue runs every post that is already due.
func (l *manualLoop) RunDue() { l.Advance(0) }

// skewedClock reads the loop time shifted by an adjustable offset, standing in
// for wall clock jumps.
type skewedClock struct {
	loop *manualLoop
	skew atomic.Int64
}

func (c *skewedClock) Now() time.Time {
	return c.loop.Now().Add(time.Duration(c.skew.Load()))
}

func (c *skewedClock) Set(d time.Duration) { c.skew.Store(int64(d)) }

// recordingFailures collects reported task failures.
type recordingFailures struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingFailures) HandleFailure(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingFailures) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newTestScheduler(loop Loop, mutate func(*SchedulerConfig)) *LoopScheduler {
	cfg := &SchedulerConfig{
		Name:            "test",
		DriftTolerance:  10 * time.Millisecond,
		DrainPollBudget: 20 * time.Millisecond,
		Logger:          NewNoOpLogger(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewLoopScheduler(loop, cfg)
}
