package cachepump

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/batching"
	"github.com/specklesystems/objectloader2/internal/deferment"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

// CacheReader serves point reads. Concurrent requests for one id share a
// single lookup, and lookups are batched into Database.GetAll calls.
type CacheReader struct {
	db         storage.Database
	deferments deferment.Deferment
	fetcher    storage.PointFetcher
	persist    storage.Sink[*types.Item]
	logger     logger.Logger

	reads *batching.Queue[string, string]
}

func newCacheReader(ctx context.Context, db storage.Database, deferments deferment.Deferment, persist storage.Sink[*types.Item], cfg config) *CacheReader {
	r := &CacheReader{
		db:         db,
		deferments: deferments,
		fetcher:    cfg.fetcher,
		persist:    persist,
		logger:     cfg.logger,
	}
	r.reads = batching.NewQueue[string](ctx, batching.Options[string]{
		Name:      "cache_reads",
		BatchSize: cfg.maxCacheReadSize,
		MaxWait:   cfg.maxCacheBatchReadWait,
		Process:   r.read,
		Logger:    cfg.logger,
	})
	return r
}

// GetObject returns the Base for id, from memory, the Database or the
// PointFetcher, in that order.
func (r *CacheReader) GetObject(ctx context.Context, id string) (*types.Base, error) {
	d, wasInCache, err := r.deferments.Defer(id)
	if err != nil {
		return nil, err
	}
	if !wasInCache {
		if err := r.reads.Add(id, id); err != nil {
			r.deferments.Reject(id, err)
			return nil, err
		}
	}
	return d.Wait(ctx)
}

func (r *CacheReader) read(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "cachepump.CacheReader.read")
	defer span.End()

	items, err := r.db.GetAll(ctx, ids)
	if err != nil {
		r.rejectAll(ids, err)
		return fmt.Errorf("read cache batch: %w", err)
	}

	var missing []string
	for i, id := range ids {
		if i < len(items) && items[i] != nil {
			r.undefer(items[i])
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return nil
	}

	if r.fetcher != nil {
		fetched, err := r.fetcher.FetchItems(ctx, missing)
		if err != nil {
			r.rejectAll(missing, err)
			return fmt.Errorf("fetch missing objects: %w", err)
		}
		for _, item := range fetched {
			if err := r.persist.Add(item); err != nil {
				r.logger.Warn("could not stage fetched object", zap.String("id", item.BaseID), zap.Error(err))
			}
			r.undefer(item)
		}
	}

	// still outstanding ids were neither cached nor fetched
	for _, id := range missing {
		r.deferments.Reject(id, storage.NotFoundError(id))
	}

	return nil
}

func (r *CacheReader) undefer(item *types.Item) {
	if err := r.deferments.Undefer(item); err != nil {
		r.logger.Warn("could not deliver object", zap.String("id", item.BaseID), zap.Error(err))
	}
}

func (r *CacheReader) rejectAll(ids []string, err error) {
	for _, id := range ids {
		r.deferments.Reject(id, err)
	}
}

// Dispose flushes pending reads.
func (r *CacheReader) Dispose(ctx context.Context) error {
	return r.reads.Dispose(ctx)
}
