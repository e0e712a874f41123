package flowcontrol

import "sync"

// ConnWindow is the connection-level send budget shared by every stream's
// writer. Unlike the per-stream FlowControl it is crossed by multiple
// goroutines, so waiting is cond-based.
type ConnWindow struct {
	n    int64
	cond *sync.Cond
	ok   bool
}

func NewConnWindow(n uint32) *ConnWindow {
	return &ConnWindow{
		n:    int64(n),
		cond: sync.NewCond(&sync.Mutex{}),
		ok:   true,
	}
}

// Wait blocks until n bytes of window are available and claims them.
// It returns false once the window has been disabled.
func (w *ConnWindow) Wait(n uint32) bool {
	if n == 0 {
		return true
	}
	cond := w.cond

	cond.L.Lock()
	defer cond.L.Unlock()

	for int64(n) > w.n && w.ok {
		cond.Wait()
	}
	if !w.ok {
		return false
	}
	w.n -= int64(n)
	return true
}

// Add grants n bytes of window and wakes all waiters.
func (w *ConnWindow) Add(n uint32) {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()

	w.n += int64(n)
	w.cond.Broadcast()
}

// Disable releases every waiter with a failure; used on connection
// teardown so no sender blocks forever.
func (w *ConnWindow) Disable() {
	w.cond.L.Lock()
	defer w.cond.L.Unlock()

	w.ok = false
	w.cond.Broadcast()
}
