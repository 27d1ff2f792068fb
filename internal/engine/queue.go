package engine

import "sync"

// ActionQueue buffers client actions between ticks. Producers are the
// connection goroutines; the only consumer is the tick driver. Capacity is
// deliberately unbounded: enqueue must never block a network reader, and the
// queue is fully drained every tick so depth stays proportional to one tick's
// worth of traffic.
type ActionQueue struct {
	mu      sync.Mutex
	pending []Action
}

// NewActionQueue constructs an empty queue.
func NewActionQueue() *ActionQueue {
	return &ActionQueue{}
}

// Enqueue appends the action to the tail in submission order.
func (q *ActionQueue) Enqueue(action Action) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, action)
	q.mu.Unlock()
}

// DrainAll atomically removes and returns every queued action in FIFO order.
// No action is ever visible to more than one drain.
func (q *ActionQueue) DrainAll() []Action {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	//1.- Swap the backing slice so producers can keep appending without copying.
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()
	return drained
}

// Len reports the number of actions waiting for the next tick.
func (q *ActionQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
