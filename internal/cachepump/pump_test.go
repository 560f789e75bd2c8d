package cachepump

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/specklesystems/objectloader2/internal/asyncqueue"
	"github.com/specklesystems/objectloader2/internal/deferment"
	"github.com/specklesystems/objectloader2/internal/mocks"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/memory"
	"github.com/specklesystems/objectloader2/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func item(id string) *types.Item {
	return &types.Item{BaseID: id, Base: &types.Base{ID: id, SpeckleType: "Base"}}
}

func items(ids ...string) []*types.Item {
	out := make([]*types.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, item(id))
	}
	return out
}

type collector[T any] struct {
	mu     sync.Mutex
	values []T
}

func (c *collector[T]) Add(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
	return nil
}

func newPump(t *testing.T, db storage.Database, opts ...Option) (*Pump, *deferment.Manager) {
	t.Helper()
	deferments := deferment.NewManager(deferment.WithCleanupInterval(0))
	p := New(context.Background(), db, deferments, opts...)
	t.Cleanup(func() {
		require.NoError(t, p.Dispose(context.Background()))
		deferments.Dispose()
	})
	return p, deferments
}

func TestPumpItemsRoutesEveryID(t *testing.T) {
	ctx := context.Background()
	db := memory.New(memory.WithItems(items("a", "c", "e", "g")...))
	p, _ := newPump(t, db, WithMaxCacheReadSize(3))

	ids := make([]string, 0, 8)
	for _, r := range "abcdefgh" {
		ids = append(ids, string(r))
	}

	found := &collector[*types.Item]{}
	notFound := &collector[string]{}
	require.NoError(t, p.PumpItems(ctx, ids, found, notFound))

	require.Len(t, found.values, 4)
	require.Equal(t, []string{"b", "d", "f", "h"}, notFound.values)
	require.Equal(t, len(ids), len(found.values)+len(notFound.values))

	var hitIDs []string
	for _, it := range found.values {
		hitIDs = append(hitIDs, it.BaseID)
	}
	require.Equal(t, []string{"a", "c", "e", "g"}, hitIDs)
}

func TestPumpItemsStopsWhenSinkIsClosed(t *testing.T) {
	ctx := context.Background()
	db := memory.New(memory.WithItems(items("a", "b")...))
	p, _ := newPump(t, db)

	closed := asyncqueue.New[*types.Item]()
	closed.Dispose()

	notFound := &collector[string]{}
	require.NoError(t, p.PumpItems(ctx, []string{"a", "b", "c"}, closed, notFound))
	require.Empty(t, notFound.values)
}

func TestPumpItemsReportsSinkErrors(t *testing.T) {
	ctx := context.Background()
	p, _ := newPump(t, memory.New())

	boom := errors.New("pool not initialized")
	err := p.PumpItems(ctx, []string{"a"}, &collector[*types.Item]{}, storage.SinkFunc[string](func(string) error {
		return boom
	}))
	require.ErrorIs(t, err, boom)
}

func TestPumpItemsBackpressure(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	deferments := deferment.NewManager(deferment.WithCleanupInterval(0))
	defer deferments.Dispose()

	p := New(ctx, db, deferments,
		WithMaxWriteQueueSize(2),
		WithMaxCacheBatchWriteWait(time.Hour),
		WithBackpressurePause(time.Millisecond))

	for _, it := range items("w1", "w2", "w3") {
		require.NoError(t, p.Add(ctx, it))
	}
	require.Equal(t, 3, p.PendingWrites())

	notFound := &collector[string]{}
	done := make(chan error, 1)
	go func() {
		done <- p.PumpItems(ctx, []string{"x"}, &collector[*types.Item]{}, notFound)
	}()

	select {
	case <-done:
		t.Fatal("pump read while writes were backed up")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, p.Dispose(ctx))
	require.NoError(t, <-done)
	require.Empty(t, notFound.values)
	require.Equal(t, 3, db.Len())
}

func TestPumpItemsBackpressureHonoursContext(t *testing.T) {
	p, _ := newPump(t, memory.New(),
		WithMaxWriteQueueSize(0),
		WithMaxCacheBatchWriteWait(time.Hour),
		WithBackpressurePause(time.Millisecond))

	require.NoError(t, p.Add(context.Background(), item("w1")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.PumpItems(ctx, []string{"x"}, &collector[*types.Item]{}, &collector[string]{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAddPersistsOnDispose(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	deferments := deferment.NewManager(deferment.WithCleanupInterval(0))
	defer deferments.Dispose()

	p := New(ctx, db, deferments, WithMaxCacheWriteSize(10), WithMaxCacheBatchWriteWait(time.Hour))
	for i := 0; i < 25; i++ {
		require.NoError(t, p.Add(ctx, item(fmt.Sprintf("obj-%02d", i))))
	}

	require.Eventually(t, func() bool { return db.Len() == 20 }, time.Second, time.Millisecond)
	require.NoError(t, p.Dispose(ctx))
	require.Equal(t, 25, db.Len())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, p.Add(canceled, item("late")), context.Canceled)
}

func TestGather(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	db := memory.New(memory.WithItems(items("a", "b")...))
	p, deferments := newPump(t, db, WithMaxCacheBatchWriteWait(time.Millisecond))

	var mu sync.Mutex
	var requested []string
	downloader := mocks.NewMockDownloader(ctrl)
	downloader.EXPECT().Add(gomock.Any()).DoAndReturn(func(id string) error {
		mu.Lock()
		defer mu.Unlock()
		requested = append(requested, id)
		return nil
	}).Times(2)
	downloader.EXPECT().Finish().DoAndReturn(func() error {
		mu.Lock()
		ids := append([]string(nil), requested...)
		mu.Unlock()

		results := p.Results()
		go func() {
			for _, id := range ids {
				_ = results.Add(item(id))
			}
			results.Finish()
		}()
		return nil
	})

	pending, wasInCache, err := deferments.Defer("c")
	require.NoError(t, err)
	require.False(t, wasInCache)

	var got []string
	for it, err := range p.Gather(ctx, []string{"a", "b", "c", "d"}, downloader) {
		require.NoError(t, err)
		got = append(got, it.BaseID)
	}
	sort.Strings(got)
	require.Equal(t, []string{"a", "b", "c", "d"}, got)

	base, err := pending.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "c", base.ID)

	require.Eventually(t, func() bool { return db.Len() == 4 }, time.Second, time.Millisecond)

	for _, err := range p.Gather(ctx, []string{"a"}, downloader) {
		require.ErrorIs(t, err, ErrAlreadyGathered)
	}
}

func TestGatherSurfacesBackgroundErrors(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	t.Run("downloader_finish", func(t *testing.T) {
		p, _ := newPump(t, memory.New(memory.WithItems(item("a"))))
		boom := errors.New("pool not initialized")

		downloader := mocks.NewMockDownloader(ctrl)
		downloader.EXPECT().Add("b").Return(nil)
		downloader.EXPECT().Finish().Return(boom)

		var gotErr error
		for _, err := range p.Gather(ctx, []string{"a", "b"}, downloader) {
			if err != nil {
				gotErr = err
			}
		}
		require.ErrorIs(t, gotErr, boom)
	})

	t.Run("download_failure", func(t *testing.T) {
		p, _ := newPump(t, memory.New())
		boom := errors.New("You do not have access!")

		downloader := mocks.NewMockDownloader(ctrl)
		downloader.EXPECT().Add("a").Return(nil)
		downloader.EXPECT().Finish().DoAndReturn(func() error {
			p.Results().Fail(boom)
			return nil
		})

		var gotErr error
		for _, err := range p.Gather(ctx, []string{"a"}, downloader) {
			gotErr = err
		}
		require.ErrorIs(t, gotErr, boom)
	})

	t.Run("cache_read", func(t *testing.T) {
		boom := errors.New("disk gone")
		db := mocks.NewMockDatabase(ctrl)
		db.EXPECT().GetAll(gomock.Any(), []string{"a"}).Return(nil, boom)

		p, _ := newPump(t, db)
		downloader := mocks.NewMockDownloader(ctrl)

		var gotErr error
		for _, err := range p.Gather(ctx, []string{"a"}, downloader) {
			gotErr = err
		}
		require.ErrorIs(t, gotErr, boom)
	})
}

func TestGatherEndsWhenSourcesEnd(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	p, _ := newPump(t, memory.New(memory.WithItems(item("a"))))

	// b is skipped remotely, so fewer items arrive than were requested
	downloader := mocks.NewMockDownloader(ctrl)
	downloader.EXPECT().Add("b").Return(nil)
	downloader.EXPECT().Finish().DoAndReturn(func() error {
		p.Results().Finish()
		return nil
	})

	var got []string
	for it, err := range p.Gather(ctx, []string{"a", "b"}, downloader) {
		require.NoError(t, err)
		got = append(got, it.BaseID)
	}
	require.Equal(t, []string{"a"}, got)
}

func TestGatherEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	p, _ := newPump(t, memory.New())

	n := 0
	for range p.Gather(context.Background(), nil, mocks.NewMockDownloader(ctrl)) {
		n++
	}
	require.Zero(t, n)
}
