package sqlcommon

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

// Datastore is a [storage.Database] over any SQL engine described by a DBInfo.
// The engine packages embed it.
type Datastore struct {
	db               *sql.DB
	dbInfo           *DBInfo
	dbStatsCollector prometheus.Collector

	disposed  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ storage.Database = (*Datastore)(nil)

func NewDatastore(dbInfo *DBInfo, collector prometheus.Collector) *Datastore {
	return &Datastore{
		db:               dbInfo.db,
		dbInfo:           dbInfo,
		dbStatsCollector: collector,
	}
}

// DB exposes the underlying pool for migrations and readiness checks.
func (s *Datastore) DB() *sql.DB {
	return s.db
}

// GetAll see [storage.Database].GetAll.
func (s *Datastore) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	if s.disposed.Load() {
		return nil, storage.ErrDisposed
	}
	return GetAll(ctx, s.dbInfo, ids)
}

// GetItem see [storage.Database].GetItem.
func (s *Datastore) GetItem(ctx context.Context, id string) (*types.Item, error) {
	if s.disposed.Load() {
		return nil, storage.ErrDisposed
	}
	return GetItem(ctx, s.dbInfo, id)
}

// CacheSaveBatch see [storage.Database].CacheSaveBatch.
func (s *Datastore) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	if s.disposed.Load() {
		return storage.ErrDisposed
	}
	return CacheSaveBatch(ctx, s.dbInfo, batch)
}

// Dispose see [storage.Database].Dispose.
func (s *Datastore) Dispose(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.disposed.Store(true)
		if s.dbStatsCollector != nil {
			prometheus.Unregister(s.dbStatsCollector)
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
