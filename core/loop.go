package core

import "time"

// Token tags Loop posts so that everything posted by one Worker can be
// cancelled with a single CancelAll call.
type Token string

// PostingMode selects how posts interact with sync barriers on the Loop.
type PostingMode int

const (
	// PostAsync posts bypass sync barriers.
	PostAsync PostingMode = iota
	// PostSync posts are held while a sync barrier is active.
	PostSync
)

func (m PostingMode) String() string {
	if m == PostSync {
		return "sync"
	}
	return "async"
}

// PostOptions are attached to a single Loop post.
type PostOptions struct {
	Token Token
	Async bool
}

// PostHandle refers to a single pending post.
type PostHandle interface {
	// Cancel removes the post if it has not started yet. It reports whether
	// the post was prevented from running.
	Cancel() bool
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now, including its monotonic reading.
var SystemClock Clock = ClockFunc(time.Now)

// WallClock reads time.Now with the monotonic reading stripped, so that
// periodic schedules observe wall clock adjustments.
var WallClock Clock = ClockFunc(func() time.Time { return time.Now().Round(0) })

// Loop is a single-threaded execution context ordered by due time, then
// FIFO among posts with equal due times.
//
// Post must be safe to call from any goroutine, including the loop itself.
type Loop interface {
	Clock

	Post(fn func(), delay time.Duration, opts PostOptions) (PostHandle, error)
	CancelAll(token Token)
}

// UncaughtHandlerLoop is implemented by Loops that carry their own handler
// for failures escaping work executed on them.
type UncaughtHandlerLoop interface {
	UncaughtHandler() FailureHandler
}
