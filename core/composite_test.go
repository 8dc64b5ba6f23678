package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingDisposable struct {
	disposed atomic.Int32
}

func (d *countingDisposable) Dispose()         { d.disposed.Add(1) }
func (d *countingDisposable) IsDisposed() bool { return d.disposed.Load() > 0 }

func TestComposite_AddRemove(t *testing.T) {
	c := newComposite()
	a, b := &countingDisposable{}, &countingDisposable{}

	assert.True(t, c.Add(a))
	assert.True(t, c.Add(b))
	assert.Equal(t, 2, c.Len())

	assert.True(t, c.Remove(a))
	assert.False(t, c.Remove(a))
	assert.Equal(t, 1, c.Len())
	assert.False(t, a.IsDisposed(), "Remove must not dispose")
}

// TestComposite_DisposeCascades verifies Dispose disposes every member once
// and rejects later additions.
func TestComposite_DisposeCascades(t *testing.T) {
	c := newComposite()
	members := make([]*countingDisposable, 5)
	for i := range members {
		members[i] = &countingDisposable{}
		c.Add(members[i])
	}

	c.Dispose()
	c.Dispose()

	for _, m := range members {
		assert.Equal(t, int32(1), m.disposed.Load())
	}
	assert.True(t, c.IsDisposed())
	assert.Equal(t, 0, c.Len())

	late := &countingDisposable{}
	assert.False(t, c.Add(late))
	assert.False(t, late.IsDisposed())
}

// selfRemoving removes itself from its set when disposed, the way worker
// entries do.
type selfRemoving struct {
	set      *composite
	disposed atomic.Bool
}

func (s *selfRemoving) Dispose() {
	s.disposed.Store(true)
	s.set.Remove(s)
}
func (s *selfRemoving) IsDisposed() bool { return s.disposed.Load() }

func TestComposite_MembersMayCallBack(t *testing.T) {
	c := newComposite()
	m := &selfRemoving{set: c}
	c.Add(m)

	c.Dispose()
	assert.True(t, m.IsDisposed())
}

func TestComposite_ConcurrentAddAndDispose(t *testing.T) {
	c := newComposite()
	var wg sync.WaitGroup
	var accepted []*countingDisposable
	var mu sync.Mutex

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				d := &countingDisposable{}
				if c.Add(d) {
					mu.Lock()
					accepted = append(accepted, d)
					mu.Unlock()
				}
			}
		}()
	}
	c.Dispose()
	wg.Wait()

	for _, d := range accepted {
		assert.True(t, d.IsDisposed(), "every accepted member is disposed")
	}
}
