package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutQueueYieldsInOrder(t *testing.T) {
	q := newTimeoutQueue(10 * time.Millisecond)
	defer q.Close()

	q.Add(1)
	q.Add(3)
	q.Add(5)

	for _, want := range []uint32{1, 3, 5} {
		id, ok := q.Next()
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
}

func TestTimeoutQueueWaitsForDeadline(t *testing.T) {
	q := newTimeoutQueue(50 * time.Millisecond)
	defer q.Close()

	start := time.Now()
	q.Add(7)
	id, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, uint32(7), id)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTimeoutQueueCloseUnblocks(t *testing.T) {
	q := newTimeoutQueue(time.Hour)

	got := make(chan bool, 1)
	go func() {
		_, ok := q.Next()
		got <- ok
	}()

	q.Close()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}
