package batching

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/concurrency"
	"github.com/specklesystems/objectloader2/pkg/logger"
)

const (
	DefaultPoolMaxWait = time.Second
	maxPollInterval    = 200 * time.Millisecond
)

var ErrPoolFinished = errors.New("batched pool is finished")

// PoolOptions configures a BatchedPool.
type PoolOptions[T any] struct {
	// ConcurrencyAndSizes starts one worker per entry; worker i takes batches
	// of at most ConcurrencyAndSizes[i] values.
	ConcurrencyAndSizes []int
	MaxWait             time.Duration
	Process             func(ctx context.Context, batch []T) error

	// OnError is called once with the first error Process returns.
	OnError func(error)
	Logger  logger.Logger
}

// BatchedPool feeds values to a fixed set of workers, each pulling batches of
// its own size. Workers poll the pending values every min(MaxWait, 200ms).
type BatchedPool[T any] struct {
	opts     PoolOptions[T]
	interval time.Duration

	mu       sync.Mutex
	pending  []T  // GUARDED_BY(mu)
	finished bool // GUARDED_BY(mu)

	finishOnce sync.Once
	finishCh   chan struct{}
	errOnce    sync.Once

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewBatchedPool[T any](ctx context.Context, opts PoolOptions[T]) *BatchedPool[T] {
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultPoolMaxWait
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoopLogger()
	}

	p := &BatchedPool[T]{
		opts:     opts,
		interval: min(opts.MaxWait, maxPollInterval),
		finishCh: make(chan struct{}),
		done:     make(chan struct{}),
	}

	ctx, p.cancel = context.WithCancel(ctx)
	workers := concurrency.NewPool(ctx, max(len(opts.ConcurrencyAndSizes), 1))
	for _, size := range opts.ConcurrencyAndSizes {
		workers.Go(func(ctx context.Context) error {
			return p.work(ctx, max(size, 1))
		})
	}

	go func() {
		defer close(p.done)
		p.err = workers.Wait()
	}()

	return p
}

// Add queues value for the next free worker.
func (p *BatchedPool[T]) Add(value T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return ErrPoolFinished
	}
	p.pending = append(p.pending, value)
	return nil
}

// Len returns the number of values not yet taken by a worker.
func (p *BatchedPool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Finish rejects further values. Workers drain what is pending without
// waiting for the poll interval and then exit.
func (p *BatchedPool[T]) Finish() {
	p.finishOnce.Do(func() {
		p.mu.Lock()
		p.finished = true
		p.mu.Unlock()
		close(p.finishCh)
	})
}

// Done is closed once every worker exited.
func (p *BatchedPool[T]) Done() <-chan struct{} {
	return p.done
}

// Err returns the first processing error once the workers exited.
func (p *BatchedPool[T]) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Dispose finishes the pool and waits for the workers. If ctx is done first
// the workers are cancelled.
func (p *BatchedPool[T]) Dispose(ctx context.Context) error {
	p.Finish()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *BatchedPool[T]) take(size int) ([]T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := min(size, len(p.pending))
	if n == 0 {
		return nil, p.finished
	}
	batch := make([]T, n)
	copy(batch, p.pending[:n])
	p.pending = p.pending[n:]
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return batch, p.finished
}

func (p *BatchedPool[T]) work(ctx context.Context, size int) error {
	for {
		batch, finished := p.take(size)
		if len(batch) > 0 {
			if err := p.opts.Process(ctx, batch); err != nil {
				p.errOnce.Do(func() {
					p.opts.Logger.Error("batched pool processing failed", zap.Int("batch_size", len(batch)), zap.Error(err))
					if p.opts.OnError != nil {
						p.opts.OnError(err)
					}
				})
				return err
			}
		}

		if finished {
			if len(batch) == 0 {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.finishCh:
		case <-time.After(p.interval):
		}
	}
}
