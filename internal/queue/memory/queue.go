// Package memory provides the bounded in-process queues used for site jobs and
// for the fetch-to-extract hand-off.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// ErrQueueClosed is returned once a closed queue has been emptied, and by
// Enqueue after Close.
var ErrQueueClosed = crawler.ErrQueueClosed

// Queue is a bounded FIFO with context-aware operations. Items still buffered
// when Close is called remain dequeueable.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue blocks until there is room, the context ends, or the queue closes.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue blocks for the next item.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, ErrQueueClosed
		}
	}
}

// Drain discards every buffered item without blocking and returns how many
// were dropped.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops further enqueues. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
