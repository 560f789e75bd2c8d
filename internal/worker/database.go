package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/queue"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

const defaultEnqueueTimeout = 500 * time.Millisecond

// Database reads from the wrapped Database directly and moves every write
// through the ring to a Writer.
type Database struct {
	inner   storage.Database
	manager *Manager
	logger  logger.Logger

	enqueueTimeout time.Duration
}

var _ storage.Database = (*Database)(nil)

// NewDatabase starts a Manager writing into inner.
func NewDatabase(ctx context.Context, inner storage.Database, opts ...ManagerOption) (*Database, error) {
	cfg := managerConfig{logger: logger.NewNoopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := Start(ctx, inner, opts...)
	if err != nil {
		return nil, err
	}

	return &Database{
		inner:          inner,
		manager:        m,
		logger:         cfg.logger,
		enqueueTimeout: defaultEnqueueTimeout,
	}, nil
}

func (d *Database) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	return d.inner.GetAll(ctx, ids)
}

func (d *Database) GetItem(ctx context.Context, id string) (*types.Item, error) {
	return d.inner.GetItem(ctx, id)
}

// CacheSaveBatch hands batch to the writer. Items too large for the ring are
// saved directly.
func (d *Database) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	if err := d.manager.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.manager.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	err := d.manager.Queue().FullyEnqueue(ctx, batch, d.enqueueTimeout)

	var oversized *queue.OversizedError[*types.Item]
	if errors.As(err, &oversized) {
		d.logger.Debug("saving oversized items without the writer", zap.Int("count", len(oversized.Items)))
		return d.inner.CacheSaveBatch(ctx, oversized.Items)
	}

	if err != nil {
		if werr := d.manager.Err(); werr != nil {
			return werr
		}
		select {
		case <-d.manager.Done():
			return ErrWriterStopped
		default:
		}
	}
	return err
}

// Dispose waits for the writer to persist everything queued, then disposes
// the wrapped Database.
func (d *Database) Dispose(ctx context.Context) error {
	return errors.Join(d.manager.Dispose(ctx), d.inner.Dispose(ctx))
}

// Manager exposes the writer's lifecycle.
func (d *Database) Manager() *Manager {
	return d.manager
}
