// Package batching accumulates values and hands them to a processing function
// in batches.
package batching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/logger"
)

var ErrDisposed = errors.New("batching queue is disposed")

var batchSizeHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace:                       build.ProjectName,
	Name:                            "batch_size",
	Help:                            "The number of values handed to a batch processing function.",
	Buckets:                         []float64{1, 10, 100, 1000, 5000, 10000, 25000},
	NativeHistogramBucketFactor:     1.1,
	NativeHistogramMaxBucketNumber:  100,
	NativeHistogramMinResetDuration: time.Hour,
}, []string{"batcher"})

// Options configures a Queue.
type Options[V any] struct {
	// Name labels the queue's metrics and logs.
	Name      string
	BatchSize int
	MaxWait   time.Duration
	Process   func(ctx context.Context, batch []V) error

	// OnError is called with every error Process returns.
	OnError func(error)
	Logger  logger.Logger
}

// Queue flushes staged values to Process once BatchSize values are pending or
// MaxWait elapsed since the first pending value arrived. Batches are processed
// one at a time in arrival order.
type Queue[K comparable, V any] struct {
	ctx  context.Context
	opts Options[V]

	mu       sync.Mutex
	items    *KeyedQueue[K, V] // GUARDED_BY(mu)
	timer    *time.Timer       // GUARDED_BY(mu)
	timerGen uint64            // GUARDED_BY(mu)
	running  bool              // GUARDED_BY(mu)
	disposed bool              // GUARDED_BY(mu)

	drained   chan struct{}
	drainOnce sync.Once
}

// NewQueue returns a Queue whose batches are processed under ctx.
func NewQueue[K comparable, V any](ctx context.Context, opts Options[V]) *Queue[K, V] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoopLogger()
	}
	if opts.Name == "" {
		opts.Name = "batching"
	}

	return &Queue[K, V]{
		ctx:     ctx,
		opts:    opts,
		items:   NewKeyedQueue[K, V](),
		drained: make(chan struct{}),
	}
}

// Add stages value under key. Keys already pending are ignored.
func (q *Queue[K, V]) Add(key K, value V) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}

	q.items.Enqueue(key, value)
	q.scheduleLocked()
	return nil
}

// Get returns the pending value for key.
func (q *Queue[K, V]) Get(key K) (V, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Get(key)
}

// Count returns the number of values not yet handed to Process.
func (q *Queue[K, V]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue[K, V]) IsDisposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed
}

// Dispose rejects further values, flushes what is pending and waits until the
// last batch was processed or ctx is done.
func (q *Queue[K, V]) Dispose(ctx context.Context) error {
	q.mu.Lock()
	if !q.disposed {
		q.disposed = true
		q.stopTimerLocked()
		switch {
		case q.running:
		case q.items.Len() > 0:
			q.startLocked()
		default:
			q.drainOnce.Do(func() { close(q.drained) })
		}
	}
	q.mu.Unlock()

	select {
	case <-q.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[K, V]) scheduleLocked() {
	if q.running || q.items.Len() == 0 {
		return
	}
	if q.items.Len() >= q.opts.BatchSize {
		q.stopTimerLocked()
		q.startLocked()
		return
	}
	if q.timer == nil {
		q.timerGen++
		gen := q.timerGen
		q.timer = time.AfterFunc(q.opts.MaxWait, func() { q.onTimer(gen) })
	}
}

func (q *Queue[K, V]) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue[K, V]) onTimer(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.timerGen || q.timer == nil {
		return
	}
	q.timer = nil
	if !q.running && q.items.Len() > 0 {
		q.startLocked()
	}
}

func (q *Queue[K, V]) startLocked() {
	q.running = true
	go q.run()
}

func (q *Queue[K, V]) run() {
	for {
		q.mu.Lock()
		batch := q.items.SpliceValues(0, q.opts.BatchSize)
		if len(batch) == 0 {
			q.finishRunLocked()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		q.process(batch)

		q.mu.Lock()
		if !q.disposed && q.items.Len() < q.opts.BatchSize {
			q.running = false
			q.scheduleLocked()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}
}

func (q *Queue[K, V]) finishRunLocked() {
	q.running = false
	if q.disposed {
		q.drainOnce.Do(func() { close(q.drained) })
	}
}

func (q *Queue[K, V]) process(batch []V) {
	batchSizeHistogram.WithLabelValues(q.opts.Name).Observe(float64(len(batch)))

	if q.opts.Process == nil {
		return
	}
	if err := q.opts.Process(q.ctx, batch); err != nil {
		q.opts.Logger.Error("batch processing failed",
			zap.String("batcher", q.opts.Name),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		if q.opts.OnError != nil {
			q.opts.OnError(err)
		}
	}
}
