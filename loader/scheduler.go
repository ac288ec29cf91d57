package loader

import "sync"

// Scheduler commits a state update. Implementations may defer the update to batch it with
// other pending work, but must run every update exactly once and in the order received.
type Scheduler func(update func())

// ImmediateScheduler applies every update synchronously.
func ImmediateScheduler(update func()) {
	update()
}

// TransitionQueue is a deferred Scheduler: updates are queued until Flush is called.
// Use its Schedule method value as a Scheduler.
type TransitionQueue struct {
	mu       sync.Mutex
	pending  []func()
	flushing sync.Mutex
}

// NewTransitionQueue creates an empty TransitionQueue.
func NewTransitionQueue() *TransitionQueue {
	return &TransitionQueue{}
}

// Schedule queues update. It satisfies Scheduler.
func (q *TransitionQueue) Schedule(update func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, update)
}

// Pending returns the number of queued updates.
func (q *TransitionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Flush applies all queued updates in FIFO order and returns how many were applied.
// Updates scheduled while flushing are applied in the same call.
func (q *TransitionQueue) Flush() int {
	q.flushing.Lock()
	defer q.flushing.Unlock()

	applied := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return applied
		}

		for _, update := range batch {
			update()
			applied++
		}
	}
}
