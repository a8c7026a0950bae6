package queue

import "sync"

// Queue is an unbounded multi-producer multi-consumer FIFO. Producers are
// worker goroutines and external clients; the consumer is the scheduler
// goroutine, which must never block, so the pop side is a non-blocking
// TryPop rather than a channel receive.
type Queue struct {
	mu    sync.Mutex
	items []interface{}
}

func New() *Queue {
	return &Queue{items: make([]interface{}, 0, 8)}
}

func (q *Queue) Push(item interface{}) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryPop removes and returns the front item, or (nil, false) when the
// queue is empty.
func (q *Queue) TryPop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Reclaim the backing array once drained so a long-lived queue
		// does not pin every item ever pushed.
		q.items = make([]interface{}, 0, 8)
	}
	return item, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
