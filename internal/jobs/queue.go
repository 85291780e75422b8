package jobs

import (
	"container/heap"
	"sync"
)

type queueItem struct {
	jobID    string
	priority int
	seq      uint64
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

// Higher priority dispatches first; equal priorities stay FIFO by enqueue
// sequence.
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueItem))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the in-memory dispatch queue. Dequeue blocks until work arrives
// or the queue is closed.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	seq    uint64
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Enqueue(jobID string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.seq++
	heap.Push(&q.items, &queueItem{jobID: jobID, priority: priority, seq: q.seq})
	q.cond.Signal()
}

// Dequeue returns the next job id by priority. The second return is false
// once the queue is closed and drained.
func (q *Queue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.items.Len() == 0 {
		return "", false
	}

	item := heap.Pop(&q.items).(*queueItem)
	return item.jobID, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close wakes all blocked workers. Remaining items may still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
