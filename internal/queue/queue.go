// Package queue moves typed values across a ringbuffer.Queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/internal/concurrency"
	"github.com/specklesystems/objectloader2/internal/ringbuffer"
	"github.com/specklesystems/objectloader2/pkg/logger"
)

const (
	DefaultChunkSize = 100
	DefaultCooldown  = 100 * time.Millisecond
)

// ErrFrameTooLarge is returned for values whose encoding can never fit the ring.
var ErrFrameTooLarge = errors.New("frame exceeds ring capacity")

// OversizedError lists the values FullyEnqueue skipped because they could
// never fit the ring.
type OversizedError[T any] struct {
	Items []T
}

func (e *OversizedError[T]) Error() string {
	return fmt.Sprintf("%d items skipped: %s", len(e.Items), ErrFrameTooLarge)
}

func (e *OversizedError[T]) Unwrap() error {
	return ErrFrameTooLarge
}

var (
	droppedFramesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "queue_dropped_frames_total",
		Help:      "The total number of frames that could not be decoded and were dropped.",
	}, []string{"queue"})

	enqueuedItemsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "queue_enqueued_items_total",
		Help:      "The total number of items written to a typed queue.",
	}, []string{"queue"})
)

// Codec converts values to and from frame payloads.
type Codec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// ObjectQueue writes values of T as frames of a ring buffer.
type ObjectQueue[T any] struct {
	ring   *ringbuffer.Queue
	codec  Codec[T]
	logger logger.Logger

	chunkSize int
	cooldown  time.Duration
}

type Option[T any] func(*ObjectQueue[T])

func WithLogger[T any](l logger.Logger) Option[T] {
	return func(q *ObjectQueue[T]) {
		q.logger = l
	}
}

// WithChunkSize bounds how many items FullyEnqueue offers per attempt.
func WithChunkSize[T any](n int) Option[T] {
	return func(q *ObjectQueue[T]) {
		if n > 0 {
			q.chunkSize = n
		}
	}
}

// WithCooldown sets how long FullyEnqueue sleeps after an attempt made no progress.
func WithCooldown[T any](d time.Duration) Option[T] {
	return func(q *ObjectQueue[T]) {
		q.cooldown = d
	}
}

func New[T any](ring *ringbuffer.Queue, codec Codec[T], opts ...Option[T]) *ObjectQueue[T] {
	q := &ObjectQueue[T]{
		ring:      ring,
		codec:     codec,
		logger:    logger.NewNoopLogger(),
		chunkSize: DefaultChunkSize,
		cooldown:  DefaultCooldown,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *ObjectQueue[T]) Ring() *ringbuffer.Queue {
	return q.ring
}

// Enqueue writes items in order and returns how many were accepted. It stops
// at the first item the ring rejects.
func (q *ObjectQueue[T]) Enqueue(ctx context.Context, items []T, timeout time.Duration) int {
	accepted, err := q.enqueue(ctx, items, timeout)
	if err != nil && !errors.Is(err, ErrFrameTooLarge) {
		q.logger.ErrorWithContext(ctx, "failed to encode queue item",
			zap.String("queue", q.ring.Name()),
			zap.Error(err))
	}
	return accepted
}

// enqueue returns ErrFrameTooLarge or an encoding error for the item at the
// returned index.
func (q *ObjectQueue[T]) enqueue(ctx context.Context, items []T, timeout time.Duration) (int, error) {
	accepted := 0
	defer func() {
		if accepted > 0 {
			enqueuedItemsCounter.WithLabelValues(q.ring.Name()).Add(float64(accepted))
		}
	}()

	for _, item := range items {
		payload, err := q.codec.Encode(item)
		if err != nil {
			return accepted, err
		}
		if len(payload) > q.ring.MaxPayload() {
			return accepted, ErrFrameTooLarge
		}
		if !q.ring.Enqueue(ctx, payload, timeout) {
			break
		}
		accepted++
	}

	return accepted, nil
}

// FullyEnqueue writes every item, in order, retrying after a cooldown whenever
// the ring has no room. It only gives up when ctx is done or an item cannot be
// encoded. Items too large for the ring are skipped and returned in an
// *OversizedError once the rest are written.
func (q *ObjectQueue[T]) FullyEnqueue(ctx context.Context, items []T, timeout time.Duration) error {
	var oversized []T
	for len(items) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := items[:min(q.chunkSize, len(items))]
		accepted, err := q.enqueue(ctx, chunk, timeout)
		items = items[accepted:]

		switch {
		case errors.Is(err, ErrFrameTooLarge):
			oversized = append(oversized, items[0])
			items = items[1:]
			continue
		case err != nil:
			return fmt.Errorf("encode queue item: %w", err)
		}

		if accepted == 0 {
			if err := concurrency.Sleep(ctx, q.cooldown); err != nil {
				return err
			}
		}
	}

	if len(oversized) > 0 {
		return &OversizedError[T]{Items: oversized}
	}
	return nil
}

// Dequeue returns up to maxItems values. Only the first frame is waited for.
// Frames that fail to decode are logged and skipped.
func (q *ObjectQueue[T]) Dequeue(ctx context.Context, maxItems int, timeout time.Duration) []T {
	var items []T
	wait := timeout
	for len(items) < maxItems {
		payload, ok := q.ring.Dequeue(ctx, wait)
		if !ok {
			break
		}
		wait = 0

		item, err := q.codec.Decode(payload)
		if err != nil {
			droppedFramesCounter.WithLabelValues(q.ring.Name()).Inc()
			q.logger.WarnWithContext(ctx, "dropping undecodable frame",
				zap.String("queue", q.ring.Name()),
				zap.Int("bytes", len(payload)),
				zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	return items
}

func (q *ObjectQueue[T]) IsEmpty() bool { return q.ring.IsEmpty() }

func (q *ObjectQueue[T]) IsFull() bool { return q.ring.IsFull() }
