// Package memory provides an unbounded FIFO that is safe for concurrent use.
// Push never blocks, so producers cannot stall on a slow consumer.
package memory

import (
	"context"
	"sync"
)

type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// FromSlice returns a queue pre-filled with items in order.
func FromSlice[T any](items []T) *Queue[T] {
	q := New[T]()
	q.items = append(make([]T, 0, len(items)), items...)
	return q
}

func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop takes the head of the queue without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryPop(); ok {
			q.wakeNext()
			return item, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// wakeNext passes the signal on when items remain, so a second blocked
// consumer is not left waiting after a burst of pushes.
func (q *Queue[T]) wakeNext() {
	if q.Len() == 0 {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns everything currently queued.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}
