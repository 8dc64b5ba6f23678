package core

import "sync/atomic"

// swapHandle is the Disposable returned for a periodic series. It always
// points at the occurrence currently posted on the Loop. Replacing the
// occurrence never disposes the previous one; disposing the handle tears the
// whole chain down.
type swapHandle struct {
	current  atomic.Pointer[scheduledTask]
	disposed atomic.Bool
	finished atomic.Bool
	release  func(Disposable)
}

func newSwapHandle(release func(Disposable)) *swapHandle {
	return &swapHandle{release: release}
}

// Replace installs next as the current occurrence. If the handle has been
// disposed, next is disposed instead.
func (s *swapHandle) Replace(next *scheduledTask) {
	if s.disposed.Load() {
		next.Dispose()
		return
	}
	s.current.Store(next)
	// Dispose may have run between the check and the store.
	if s.disposed.Load() {
		next.Dispose()
	}
}

func (s *swapHandle) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	if cur := s.current.Load(); cur != nil {
		cur.Dispose()
	}
	s.deregister()
}

func (s *swapHandle) IsDisposed() bool {
	return s.disposed.Load()
}

// finish ends the chain without cancelling the last occurrence and
// deregisters the handle from its worker.
func (s *swapHandle) finish() {
	s.disposed.Store(true)
	s.deregister()
}

func (s *swapHandle) deregister() {
	if s.finished.CompareAndSwap(false, true) && s.release != nil {
		s.release(s)
	}
}
