package orchestrator

import (
	"container/heap"
	"context"
	"sync"
)

// priorityQueue orders tasks by (-priority, enqueue_seq): higher priority
// first, FIFO among equal priorities. One mutex + condition variable,
// matching the spec's "Shared resource policy" for the priority queue.
type priorityQueue struct {
	mu     sync.Mutex
	notEmpty *sync.Cond
	items  pqHeap
	closed bool
}

type pqItem struct {
	task *taskContext
	seq  uint64
}

type pqHeap []*pqItem

func (h pqHeap) Len() int { return len(h) }
func (h pqHeap) Less(i, j int) bool {
	pi, pj := h[i].task.req.Priority, h[j].task.req.Priority
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}
func (h pqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pqHeap) Push(x interface{}) { *h = append(*h, x.(*pqItem)) }
func (h *pqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	pq.notEmpty = sync.NewCond(&pq.mu)
	return pq
}

// Push inserts a task under its current sequence number, waking one waiter.
func (pq *priorityQueue) Push(task *taskContext, seq uint64) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	heap.Push(&pq.items, &pqItem{task: task, seq: seq})
	pq.notEmpty.Signal()
}

// Pop blocks until a task is available, ctx is cancelled, or the queue is
// closed. Returns (nil, false) on cancellation or close.
func (pq *priorityQueue) Pop(ctx context.Context) (*taskContext, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pq.mu.Lock()
			pq.notEmpty.Broadcast()
			pq.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	pq.mu.Lock()
	defer pq.mu.Unlock()
	for len(pq.items) == 0 && !pq.closed {
		if ctx.Err() != nil {
			return nil, false
		}
		pq.notEmpty.Wait()
	}
	if len(pq.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&pq.items).(*pqItem)
	return item.task, true
}

// Close unblocks every waiter permanently.
func (pq *priorityQueue) Close() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.closed = true
	pq.notEmpty.Broadcast()
}

// Len reports the number of tasks currently queued.
func (pq *priorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}
