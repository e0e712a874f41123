package conn

import "sync"

type outFrame struct {
	b     []byte
	price uint32
}

// sendQueue is the unbounded FIFO between stream goroutines and the sender
// loop. Pushing never blocks; depth is bounded in practice by the sum of
// per-stream send windows the peer has already granted.
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []outFrame
	closed bool
}

func newSendQueue() *sendQueue {
	q := &sendQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) push(f outFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, f)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available. ok is false once the queue is
// closed and drained.
func (q *sendQueue) pop() (f outFrame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return outFrame{}, false
	}
	f = q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
