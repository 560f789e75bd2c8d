package downloader

import (
	"context"
	"sync"

	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

// MemoryDownloader serves objects from a fixed set. Tests and offline loads
// use it in place of a server.
type MemoryDownloader struct {
	rootID string
	items  map[string]*types.Item

	mu      sync.Mutex
	results storage.ResultQueue[*types.Item] // GUARDED_BY(mu)
}

var (
	_ storage.Downloader   = (*MemoryDownloader)(nil)
	_ storage.PointFetcher = (*MemoryDownloader)(nil)
)

func NewMemoryDownloader(rootID string, items ...*types.Item) *MemoryDownloader {
	m := &MemoryDownloader{
		rootID: rootID,
		items:  make(map[string]*types.Item, len(items)),
	}
	for _, item := range items {
		m.items[item.BaseID] = item
	}
	return m
}

func (m *MemoryDownloader) DownloadSingle(context.Context) (*types.Item, error) {
	return m.items[m.rootID], nil
}

func (m *MemoryDownloader) InitializePool(params storage.PoolParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = params.Results
	return nil
}

// Add delivers id right away. Unknown ids fail the results.
func (m *MemoryDownloader) Add(id string) error {
	m.mu.Lock()
	results := m.results
	m.mu.Unlock()

	if results == nil {
		return ErrPoolNotInitialized
	}

	item, ok := m.items[id]
	if !ok {
		results.Fail(storage.NotFoundError(id))
		return nil
	}
	return results.Add(item)
}

func (m *MemoryDownloader) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		return ErrPoolNotInitialized
	}
	m.results.Finish()
	return nil
}

func (m *MemoryDownloader) FetchItems(_ context.Context, ids []string) ([]*types.Item, error) {
	var out []*types.Item
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *MemoryDownloader) Dispose(context.Context) error {
	return nil
}
