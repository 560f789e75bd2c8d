package storagewrappers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var _ storage.Database = (*BoundedConcurrencyDatabase)(nil)

var timeWaitingHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace:                       build.ProjectName,
	Name:                            "cache_time_waiting_ms",
	Help:                            "Time (in ms) spent waiting for a free slot before calling the object cache.",
	Buckets:                         []float64{1, 10, 25, 50, 100, 1000, 5000},
	NativeHistogramBucketFactor:     1.1,
	NativeHistogramMaxBucketNumber:  100,
	NativeHistogramMinResetDuration: time.Hour,
}, []string{"operation"})

// BoundedConcurrencyDatabase makes sure that there are, at most, N concurrent
// calls to the wrapped cache. Dispose is passed through unbounded.
type BoundedConcurrencyDatabase struct {
	storage.Database
	limiter chan struct{}
}

// NewBoundedConcurrencyDatabase returns a wrapper over a cache that allows at most
// n calls in flight. A zero n is treated as one.
func NewBoundedConcurrencyDatabase(wrapped storage.Database, n uint32) *BoundedConcurrencyDatabase {
	return &BoundedConcurrencyDatabase{
		Database: wrapped,
		limiter:  make(chan struct{}, max(n, 1)),
	}
}

func (b *BoundedConcurrencyDatabase) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	release, err := b.acquire(ctx, "get_all")
	if err != nil {
		return nil, err
	}
	defer release()

	return b.Database.GetAll(ctx, ids)
}

func (b *BoundedConcurrencyDatabase) GetItem(ctx context.Context, id string) (*types.Item, error) {
	release, err := b.acquire(ctx, "get_item")
	if err != nil {
		return nil, err
	}
	defer release()

	return b.Database.GetItem(ctx, id)
}

func (b *BoundedConcurrencyDatabase) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	release, err := b.acquire(ctx, "cache_save_batch")
	if err != nil {
		return err
	}
	defer release()

	return b.Database.CacheSaveBatch(ctx, batch)
}

func (b *BoundedConcurrencyDatabase) acquire(ctx context.Context, operation string) (func(), error) {
	start := time.Now()

	select {
	case b.limiter <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timeWaiting := time.Since(start).Milliseconds()
	timeWaitingHistogram.WithLabelValues(operation).Observe(float64(timeWaiting))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("time_waiting", timeWaiting))

	return func() {
		<-b.limiter
	}, nil
}
