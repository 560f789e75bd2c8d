package concurrency

import (
	"context"
)

// Drain consumes ch in the background until it is closed. The returned channel
// is closed once that happened.
func Drain[T any](ch <-chan T, drain func(T)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			if drain != nil {
				drain(msg)
			}
		}
	}()
	return done
}

// FanIn merges chans into one channel in arrival order. The result is closed
// once every source is closed. Values that cannot be forwarded because ctx is
// done are handed to onDrop.
func FanIn[T any](ctx context.Context, onDrop func(T), chans ...<-chan T) <-chan T {
	limit := len(chans)

	out := make(chan T, limit)

	if limit == 0 {
		close(out)
		return out
	}

	p := NewPool(ctx, limit)

	for _, c := range chans {
		p.Go(func(ctx context.Context) error {
			for v := range c {
				if !TrySendThroughChannel(ctx, v, out) && onDrop != nil {
					onDrop(v)
				}
			}
			return nil
		})
	}

	go func() {
		// consumers range over out, so it must be closed
		_ = p.Wait()
		close(out)
	}()

	return out
}
