package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/concurrency"
	"github.com/specklesystems/objectloader2/internal/queue"
	"github.com/specklesystems/objectloader2/internal/ringbuffer"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

const (
	defaultMaxItemsPerSave = 1000
	defaultPollTimeout     = 100 * time.Millisecond
)

var ErrUnexpectedMessage = errors.New("unexpected handshake message")

// Writer drains an ItemQueue into a Database. All of its state is owned by the
// goroutine running Run.
type Writer struct {
	db     storage.Database
	logger logger.Logger

	maxItems    int
	pollTimeout time.Duration
}

type WriterOption func(*Writer)

func WithWriterLogger(l logger.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// WithMaxItemsPerSave bounds the size of each CacheSaveBatch call.
func WithMaxItemsPerSave(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.maxItems = n
		}
	}
}

func WithPollTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		w.pollTimeout = d
	}
}

func NewWriter(db storage.Database, opts ...WriterOption) *Writer {
	w := &Writer{
		db:          db,
		logger:      logger.NewNoopLogger(),
		maxItems:    defaultMaxItemsPerSave,
		pollTimeout: defaultPollTimeout,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run waits for INIT_QUEUES on inbox, attaches to the ring and persists what
// arrives until ctx is done. Frames still queued at that point are persisted
// before Run returns. Status messages are sent on outbox.
func (w *Writer) Run(ctx context.Context, inbox <-chan Message, outbox chan<- Message) {
	var first Message
	select {
	case <-ctx.Done():
		return
	case msg, ok := <-inbox:
		if !ok {
			return
		}
		first = msg
	}

	items, err := w.attach(first)
	if err != nil {
		w.logger.Error("worker init failed", zap.Error(err))
		concurrency.TrySendThroughChannel(context.WithoutCancel(ctx), Message(WorkerInitFailed{Err: err}), outbox)
		return
	}

	if !concurrency.TrySendThroughChannel(ctx, Message(WorkerReady{}), outbox) {
		return
	}
	w.logger.Debug("worker ready", zap.String("queue", items.Ring().Name()))

	for ctx.Err() == nil {
		batch := items.Dequeue(ctx, w.maxItems, w.pollTimeout)
		if err := w.save(ctx, batch); err != nil {
			w.report(ctx, outbox, err)
			return
		}
	}

	// ctx is done, so persist whatever the producer committed before stopping.
	drainCtx := context.WithoutCancel(ctx)
	for !items.IsEmpty() {
		batch := items.Dequeue(drainCtx, w.maxItems, 0)
		if len(batch) == 0 {
			break
		}
		if err := w.save(drainCtx, batch); err != nil {
			w.report(drainCtx, outbox, err)
			return
		}
	}
}

func (w *Writer) attach(msg Message) (*queue.ItemQueue, error) {
	initMsg, ok := msg.(InitQueues)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
	}

	ring, err := ringbuffer.FromExisting(initMsg.Shared, initMsg.Capacity, initMsg.Name+"-worker")
	if err != nil {
		return nil, err
	}

	return queue.NewItemQueue(ring, queue.WithLogger[*types.Item](w.logger)), nil
}

func (w *Writer) save(ctx context.Context, batch []*types.Item) error {
	if len(batch) == 0 {
		return nil
	}

	if err := w.db.CacheSaveBatch(ctx, batch); err != nil {
		return fmt.Errorf("save batch of %d items: %w", len(batch), err)
	}
	return nil
}

func (w *Writer) report(ctx context.Context, outbox chan<- Message, err error) {
	w.logger.Error("worker processing failed", zap.Error(err))
	concurrency.TrySendThroughChannel(context.WithoutCancel(ctx), Message(WorkerProcessingError{Err: err}), outbox)
}
