// Package storage contains the contracts between the loader and its
// collaborators along with the shared in-memory cache.
//
//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks Database,Downloader
package storage

import (
	"context"
	"time"

	"github.com/specklesystems/objectloader2/pkg/types"
)

const (
	// DefaultMaxDownloadBatchWait is how long a downloader waits to fill a batch.
	DefaultMaxDownloadBatchWait = 1 * time.Second
)

// A Database is the local persistent cache of Items.
type Database interface {
	// GetAll returns one entry per requested id, in request order. Ids that are
	// not cached yield a nil entry.
	GetAll(ctx context.Context, ids []string) ([]*types.Item, error)

	// GetItem returns the cached Item for id, or nil without an error when absent.
	GetItem(ctx context.Context, id string) (*types.Item, error)

	// CacheSaveBatch persists a batch of Items. Saving an id twice overwrites it.
	CacheSaveBatch(ctx context.Context, batch []*types.Item) error

	// Dispose releases the database. It must be safe to call more than once.
	Dispose(ctx context.Context) error
}

// A Downloader fetches Items from the remote object store.
type Downloader interface {
	// DownloadSingle fetches the root object the downloader was created for.
	DownloadSingle(ctx context.Context) (*types.Item, error)

	// InitializePool prepares the batch workers. Downloaded Items are added to
	// params.Results, and Results.Finish is called once params.Total Items have
	// been delivered.
	InitializePool(params PoolParams) error

	// Add requests an id. It is delivered to Results at some later point.
	Add(id string) error

	// Finish signals that no more ids will be added.
	Finish() error

	// Dispose stops the pool, waiting for in-flight batches.
	Dispose(ctx context.Context) error
}

// PoolParams configures Downloader.InitializePool.
type PoolParams struct {
	Results ResultQueue[*types.Item]
	Total   int

	// MaxDownloadBatchWait defaults to DefaultMaxDownloadBatchWait when zero.
	MaxDownloadBatchWait time.Duration
}

// Sink accepts values pushed by a producer. An error means the sink no longer
// accepts values and the producer should stop.
type Sink[T any] interface {
	Add(value T) error
}

// ResultQueue is a Sink whose consumer can be told that production ended.
type ResultQueue[T any] interface {
	Sink[T]

	// Finish lets the consumer drain what is queued and then stop.
	Finish()

	// Fail ends consumption with err.
	Fail(err error)
}

// PointFetcher resolves individual ids that are missing from the Database.
type PointFetcher interface {
	// FetchItems returns the Items that could be found. Ids that do not exist
	// remotely are simply absent from the result.
	FetchItems(ctx context.Context, ids []string) ([]*types.Item, error)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(T) error

func (f SinkFunc[T]) Add(value T) error {
	return f(value)
}
