package memory

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/storage/memory")

// StorageOption defines a function type used for configuring a [MemoryBackend] instance.
type StorageOption func(dataStore *MemoryBackend)

// MemoryBackend provides an ephemeral memory-backed implementation of [storage.Database].
// These instances may be safely shared by multiple go-routines.
type MemoryBackend struct {
	// map: base id => item
	items      map[string]*types.Item // GUARDED_BY(mutexItems).
	mutexItems sync.RWMutex

	// artificial latency added to every call
	latency time.Duration

	disposed bool // GUARDED_BY(mutexItems).
}

// Ensures that [MemoryBackend] implements the [storage.Database] interface.
var _ storage.Database = (*MemoryBackend)(nil)

// New creates a new [MemoryBackend] given the options.
func New(opts ...StorageOption) *MemoryBackend {
	ds := &MemoryBackend{
		items: make(map[string]*types.Item),
	}

	for _, opt := range opts {
		opt(ds)
	}

	return ds
}

// WithItems seeds the backend with items.
func WithItems(items ...*types.Item) StorageOption {
	return func(ds *MemoryBackend) {
		for _, item := range items {
			ds.items[item.BaseID] = item
		}
	}
}

// WithLatency delays every call by d. Tests use it to widen race windows.
func WithLatency(d time.Duration) StorageOption {
	return func(ds *MemoryBackend) { ds.latency = d }
}

func (s *MemoryBackend) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.latency):
		return nil
	}
}

// GetAll see [storage.Database].GetAll.
func (s *MemoryBackend) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	ctx, span := tracer.Start(ctx, "memory.GetAll", trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer span.End()

	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mutexItems.RLock()
	defer s.mutexItems.RUnlock()

	if s.disposed {
		return nil, storage.ErrDisposed
	}

	out := make([]*types.Item, len(ids))
	for i, id := range ids {
		out[i] = s.items[id]
	}
	return out, nil
}

// GetItem see [storage.Database].GetItem.
func (s *MemoryBackend) GetItem(ctx context.Context, id string) (*types.Item, error) {
	ctx, span := tracer.Start(ctx, "memory.GetItem")
	defer span.End()

	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mutexItems.RLock()
	defer s.mutexItems.RUnlock()

	if s.disposed {
		return nil, storage.ErrDisposed
	}

	return s.items[id], nil
}

// CacheSaveBatch see [storage.Database].CacheSaveBatch.
func (s *MemoryBackend) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	ctx, span := tracer.Start(ctx, "memory.CacheSaveBatch", trace.WithAttributes(attribute.Int("items", len(batch))))
	defer span.End()

	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mutexItems.Lock()
	defer s.mutexItems.Unlock()

	if s.disposed {
		return storage.ErrDisposed
	}

	for _, item := range batch {
		s.items[item.BaseID] = item
	}
	return nil
}

// Dispose see [storage.Database].Dispose.
func (s *MemoryBackend) Dispose(_ context.Context) error {
	s.mutexItems.Lock()
	defer s.mutexItems.Unlock()
	s.disposed = true
	return nil
}

// Len returns the number of stored items.
func (s *MemoryBackend) Len() int {
	s.mutexItems.RLock()
	defer s.mutexItems.RUnlock()
	return len(s.items)
}
