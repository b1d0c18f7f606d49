// Package queue provides the bounded FIFO buffer that hands tasks from
// producers to pool workers.
package queue

import (
	"sync"

	"github.com/vnykmshr/taskpool/pkg/common/validation"
)

// Bounded is a fixed-capacity FIFO ring buffer safe for concurrent use.
// A full queue rejects pushes instead of growing.
type Bounded[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	size  int
}

// New creates a queue that holds at most capacity items.
func New[T any](capacity int) (*Bounded[T], error) {
	if err := validation.ValidatePositive("queue", "capacity", capacity); err != nil {
		return nil, err
	}
	return &Bounded[T]{items: make([]T, capacity)}, nil
}

// TryPush appends item and reports whether it was accepted.
// A false return is back-pressure: the queue is full and unchanged.
func (q *Bounded[T]) TryPush(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.items) {
		return false
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	return true
}

// TryPop removes the oldest item.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Drain removes and returns every queued item in FIFO order.
func (q *Bounded[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	out := make([]T, 0, q.size)
	for q.size > 0 {
		out = append(out, q.items[q.head])
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
	}
	q.head = 0
	return out
}

// Len returns a snapshot of the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Empty reports whether the queue held no items at the time of the call.
func (q *Bounded[T]) Empty() bool {
	return q.Len() == 0
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.items)
}
