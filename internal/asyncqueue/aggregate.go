package asyncqueue

import (
	"context"
	"iter"

	"github.com/specklesystems/objectloader2/internal/concurrency"
)

type entry[T any] struct {
	value T
	err   error
}

// Aggregate consumes two queues as one, in first-arrival order.
type Aggregate[T any] struct {
	first  *Queue[T]
	second *Queue[T]
}

func NewAggregate[T any](first, second *Queue[T]) *Aggregate[T] {
	return &Aggregate[T]{first: first, second: second}
}

// Add appends to the first source.
func (a *Aggregate[T]) Add(v T) error {
	return a.first.Add(v)
}

// Dispose disposes both sources.
func (a *Aggregate[T]) Dispose() {
	a.first.Dispose()
	a.second.Dispose()
}

// Consume ends when both sources ended. An error from either source ends it
// immediately.
func (a *Aggregate[T]) Consume(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		streamCtx, cancel := context.WithCancel(ctx)
		out := concurrency.FanIn(streamCtx, nil, stream(streamCtx, a.first), stream(streamCtx, a.second))
		defer func() {
			cancel()
			<-concurrency.Drain(out, nil)
		}()

		for e := range out {
			if e.err != nil {
				yield(e.value, e.err)
				return
			}
			if !yield(e.value, nil) {
				return
			}
		}

		if err := ctx.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

func stream[T any](ctx context.Context, q *Queue[T]) <-chan entry[T] {
	out := make(chan entry[T])
	go func() {
		defer close(out)
		for v, err := range q.Consume(ctx) {
			if !concurrency.TrySendThroughChannel(ctx, entry[T]{value: v, err: err}, out) {
				return
			}
		}
	}()
	return out
}
