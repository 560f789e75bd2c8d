package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/queue"
	"github.com/specklesystems/objectloader2/internal/ringbuffer"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

// DefaultCapacityBytes is the size of the ring shared with the writer.
const DefaultCapacityBytes = 16 * 1024

var ErrWriterStopped = errors.New("cache writer stopped")

// Manager owns the initiating side of the ring and the writer goroutine.
type Manager struct {
	items  *queue.ItemQueue
	logger logger.Logger

	cancel      context.CancelFunc
	writerDone  chan struct{}
	watcherDone chan struct{}

	mu  sync.Mutex
	err error

	disposeOnce sync.Once
}

type ManagerOption func(*managerConfig)

type managerConfig struct {
	capacity   int
	name       string
	logger     logger.Logger
	writerOpts []WriterOption
}

func WithCapacity(bytes int) ManagerOption {
	return func(c *managerConfig) {
		c.capacity = bytes
	}
}

func WithName(name string) ManagerOption {
	return func(c *managerConfig) {
		c.name = name
	}
}

func WithLogger(l logger.Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = l
	}
}

func WithWriterOptions(opts ...WriterOption) ManagerOption {
	return func(c *managerConfig) {
		c.writerOpts = append(c.writerOpts, opts...)
	}
}

// Start creates the ring, launches a Writer persisting into db and completes
// the handshake. It returns once the writer reported WORKER_READY.
func Start(ctx context.Context, db storage.Database, opts ...ManagerOption) (*Manager, error) {
	cfg := managerConfig{
		capacity: DefaultCapacityBytes,
		logger:   logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ring, err := ringbuffer.Create(cfg.capacity, cfg.name)
	if err != nil {
		return nil, err
	}

	writer := NewWriter(db, append([]WriterOption{WithWriterLogger(cfg.logger)}, cfg.writerOpts...)...)

	inbox := make(chan Message, 1)
	outbox := make(chan Message, 4)

	// The writer outlives the caller's ctx; Dispose is what stops it.
	writerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m := &Manager{
		items:       queue.NewItemQueue(ring, queue.WithLogger[*types.Item](cfg.logger)),
		logger:      cfg.logger,
		cancel:      cancel,
		writerDone:  make(chan struct{}),
		watcherDone: make(chan struct{}),
	}

	go func() {
		defer close(m.writerDone)
		writer.Run(writerCtx, inbox, outbox)
	}()

	inbox <- InitQueues{Shared: ring.Shared(), Capacity: ring.Capacity(), Name: ring.Name()}

	select {
	case msg := <-outbox:
		switch msg := msg.(type) {
		case WorkerReady:
		case WorkerInitFailed:
			cancel()
			<-m.writerDone
			return nil, fmt.Errorf("worker init failed: %w", msg.Err)
		default:
			cancel()
			<-m.writerDone
			return nil, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
		}
	case <-m.writerDone:
		cancel()
		return nil, ErrWriterStopped
	case <-ctx.Done():
		cancel()
		<-m.writerDone
		return nil, ctx.Err()
	}

	go m.watch(outbox)

	return m, nil
}

// watch records errors the writer reports after the handshake.
func (m *Manager) watch(outbox <-chan Message) {
	defer close(m.watcherDone)

	for {
		select {
		case msg := <-outbox:
			m.handle(msg)
		case <-m.writerDone:
			for {
				select {
				case msg := <-outbox:
					m.handle(msg)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) handle(msg Message) {
	switch msg := msg.(type) {
	case WorkerProcessingError:
		m.logger.Error("cache writer reported an error", zap.Error(msg.Err))
		m.setErr(msg.Err)
	default:
		m.logger.Warn("ignoring unexpected worker message", zap.Stringer("type", msg.Type()))
	}
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = err
	}
}

// Err returns the first error the writer reported.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Queue is the producing side of the ring.
func (m *Manager) Queue() *queue.ItemQueue {
	return m.items
}

// Done is closed once the writer goroutine exited and its last report is
// visible through Err.
func (m *Manager) Done() <-chan struct{} {
	return m.watcherDone
}

// Dispose stops the writer after it persisted everything already enqueued and
// returns the first error it reported.
func (m *Manager) Dispose(ctx context.Context) error {
	m.disposeOnce.Do(m.cancel)

	select {
	case <-m.watcherDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	return m.Err()
}
