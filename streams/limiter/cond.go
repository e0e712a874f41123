package limiter

import "sync"

type condLimiter struct {
	quota uint32
	cond  *sync.Cond
}

func newLimiter(quota uint32) *condLimiter {
	return &condLimiter{quota, sync.NewCond(&sync.Mutex{})}
}

func (l *condLimiter) WaitAllow() {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	for l.quota == 0 {
		l.cond.Wait()
	}

	l.quota--
}

func (l *condLimiter) Release() {
	l.cond.L.Lock()
	defer l.cond.Signal()
	defer l.cond.L.Unlock()

	l.quota++
}
