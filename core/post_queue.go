package core

import (
	"sync/atomic"
	"time"
)

const (
	entryPending int32 = iota
	entryRunning
	entryRemoved
)

// loopEntry is one post on an EventLoop. It doubles as the PostHandle
// returned to the caller.
type loopEntry struct {
	fn    func()
	runAt time.Time
	seq   uint64
	token Token
	async bool

	state atomic.Int32
	index int    // position in the delay heap, -1 when not queued there
	ready uint64 // order of arrival in the ready queues
	loop  *EventLoop
}

// Cancel removes the post if it has not started. It reports false when the
// post already ran, is running, or was cancelled before.
func (e *loopEntry) Cancel() bool {
	if !e.state.CompareAndSwap(entryPending, entryRemoved) {
		return false
	}
	e.loop.forget(e)
	return true
}

// delayHeap orders delayed posts by due time, then by post order.
type delayHeap []*loopEntry

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x any) {
	n := len(*h)
	item := x.(*loopEntry)
	item.index = n
	*h = append(*h, item)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h delayHeap) Peek() *loopEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
