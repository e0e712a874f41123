package conn

import (
	"sync"
	"time"
)

type timeoutItem struct {
	streamID uint32
	deadline time.Time
}

// timeoutQueue yields stream ids whose response deadline has passed.
// Streams are appended in send order, so deadlines are monotonic and the
// head is always the next to expire.
type timeoutQueue struct {
	timeout time.Duration
	queue   []timeoutItem
	cond    *sync.Cond

	done chan struct{}
}

func newTimeoutQueue(timeout time.Duration) *timeoutQueue {
	return &timeoutQueue{
		timeout: timeout,
		queue:   make([]timeoutItem, 0, 16),
		cond:    sync.NewCond(&sync.Mutex{}),
		done:    make(chan struct{}),
	}
}

func (q *timeoutQueue) Add(streamID uint32) {
	q.cond.L.Lock()
	q.queue = append(q.queue, timeoutItem{
		streamID,
		time.Now().Add(q.timeout),
	})
	q.cond.L.Unlock()

	q.cond.Signal()
}

// Next blocks until some stream's deadline expires. ok is false once the
// queue is closed.
func (q *timeoutQueue) Next() (streamID uint32, ok bool) {
	q.cond.L.Lock()
	for len(q.queue) == 0 {
		select {
		case <-q.done:
			q.cond.L.Unlock()
			return 0, false
		default:
			q.cond.Wait()
		}
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	q.cond.L.Unlock()

	select {
	case <-q.done:
		return 0, false
	case <-time.After(time.Until(next.deadline)):
		return next.streamID, true
	}
}

func (q *timeoutQueue) Close() {
	close(q.done)
	q.cond.Signal()
}
