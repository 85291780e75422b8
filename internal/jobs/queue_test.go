package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Enqueue("low", 0)
	q.Enqueue("high", 3)
	q.Enqueue("mid", 1)

	for _, want := range []string{"high", "mid", "low"} {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	q.Enqueue("first", 2)
	q.Enqueue("second", 2)
	q.Enqueue("third", 2)

	for _, want := range []string{"first", "second", "third"} {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan string, 1)

	go func() {
		id, ok := q.Dequeue()
		if ok {
			got <- id
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue("job-1", 0)

	select {
	case id := <-got:
		assert.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := NewQueue()
	q.Enqueue("job-1", 0)
	q.Close()

	id, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "job-1", id)

	_, ok = q.Dequeue()
	assert.False(t, ok)

	// Enqueue after close is a no-op.
	q.Enqueue("job-2", 0)
	assert.Equal(t, 0, q.Len())
}

func TestQueueCloseWakesBlockedWorkers(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})

	go func() {
		_, ok := q.Dequeue()
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked worker was not woken by close")
	}
}
