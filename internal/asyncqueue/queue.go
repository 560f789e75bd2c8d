// Package asyncqueue bridges push producers to a single pull consumer.
package asyncqueue

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/specklesystems/objectloader2/pkg/storage"
)

var (
	ErrDisposed        = errors.New("async queue is disposed")
	ErrAlreadyConsumed = errors.New("async queue is already being consumed")
)

var _ storage.ResultQueue[string] = (*Queue[string])(nil)

// Queue is an unbounded FIFO with one consumer. Producers never block.
type Queue[T any] struct {
	mu       sync.Mutex
	items    *linkedlistqueue.Queue // GUARDED_BY(mu)
	finished bool                   // GUARDED_BY(mu)
	disposed bool                   // GUARDED_BY(mu)
	err      error                  // GUARDED_BY(mu)
	consumed bool                   // GUARDED_BY(mu)

	// signal holds at most one pending wake-up for the consumer.
	signal chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  linkedlistqueue.New(),
		signal: make(chan struct{}, 1),
	}
}

// Add appends v and wakes the consumer.
func (q *Queue[T]) Add(v T) error {
	q.mu.Lock()
	if q.finished || q.disposed {
		q.mu.Unlock()
		return ErrDisposed
	}
	q.items.Enqueue(v)
	q.mu.Unlock()

	q.wake()
	return nil
}

// Finish lets the consumer drain what is queued and then stop.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.wake()
}

// Dispose stops the consumer right away. Queued values are discarded.
func (q *Queue[T]) Dispose() {
	q.mu.Lock()
	q.disposed = true
	q.items.Clear()
	q.mu.Unlock()
	q.wake()
}

// Fail ends consumption with err once the queued values were drained. Only the
// first error is kept.
func (q *Queue[T]) Fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.finished = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// IsFinished reports whether no more values will be accepted.
func (q *Queue[T]) IsFinished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished || q.disposed
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// next returns the next value, or done once the queue ended. err is set when
// the queue ended through Fail.
func (q *Queue[T]) next() (v T, ok bool, done bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return v, false, true, nil
	}
	if item, found := q.items.Dequeue(); found {
		return item.(T), true, false, nil
	}
	if q.finished {
		return v, false, true, q.err
	}
	return v, false, false, nil
}

// Consume yields values in the order they were added until the queue is
// finished or disposed, or ctx is done. A queue can be consumed once.
func (q *Queue[T]) Consume(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		q.mu.Lock()
		if q.consumed {
			q.mu.Unlock()
			yield(zero, ErrAlreadyConsumed)
			return
		}
		q.consumed = true
		q.mu.Unlock()

		for {
			v, ok, done, err := q.next()
			switch {
			case ok:
				if !yield(v, nil) {
					return
				}
				continue
			case done:
				if err != nil {
					yield(zero, err)
				}
				return
			}

			select {
			case <-ctx.Done():
				yield(zero, ctx.Err())
				return
			case <-q.signal:
			}
		}
	}
}
