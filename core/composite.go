package core

import (
	"sync"
	"sync/atomic"
)

// composite is a set of Disposables that can be torn down at once. Once
// disposed it rejects additions, and Dispose cascades to every member.
type composite struct {
	mu       sync.Mutex
	entries  map[Disposable]struct{}
	disposed atomic.Bool
}

func newComposite() *composite {
	return &composite{entries: make(map[Disposable]struct{})}
}

// Add registers d. It returns false when the set is already disposed.
func (c *composite) Add(d Disposable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return false
	}
	c.entries[d] = struct{}{}
	return true
}

// Remove deregisters d without disposing it.
func (c *composite) Remove(d Disposable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[d]; !ok {
		return false
	}
	delete(c.entries, d)
	return true
}

func (c *composite) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *composite) IsDisposed() bool {
	return c.disposed.Load()
}

// Dispose marks the set disposed and disposes every member outside the lock,
// since members call back into Remove.
func (c *composite) Dispose() {
	c.mu.Lock()
	if c.disposed.Swap(true) {
		c.mu.Unlock()
		return
	}
	members := make([]Disposable, 0, len(c.entries))
	for d := range c.entries {
		members = append(members, d)
	}
	c.entries = make(map[Disposable]struct{})
	c.mu.Unlock()

	for _, d := range members {
		d.Dispose()
	}
}
