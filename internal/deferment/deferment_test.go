package deferment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/specklesystems/objectloader2/internal/mocks"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/types"
)

func testItem(id string) *types.Item {
	return &types.Item{BaseID: id, Base: &types.Base{ID: id, SpeckleType: "Base"}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *mocks.MockInMemoryCache[*types.Item]) {
	t.Helper()
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	ctrl := gomock.NewController(t)
	cache := mocks.NewMockInMemoryCache[*types.Item](ctrl)

	m := NewManager(append([]Option{WithCache(cache), WithCleanupInterval(0)}, opts...)...)
	t.Cleanup(m.Dispose)
	return m, cache
}

func TestDefer(t *testing.T) {
	ctx := context.Background()

	t.Run("cache_hit_is_resolved", func(t *testing.T) {
		m, cache := newTestManager(t)
		item := testItem("testId")
		cache.EXPECT().Get("testId").Return(item)

		d, wasInCache, err := m.Defer("testId")
		require.NoError(t, err)
		require.True(t, wasInCache)

		base, err := d.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, item.Base, base)
		require.Zero(t, m.Len())
	})

	t.Run("outstanding_id_returns_same_record", func(t *testing.T) {
		m, cache := newTestManager(t)
		cache.EXPECT().Get("testId").Return(nil).Times(2)

		d1, wasInCache1, err := m.Defer("testId")
		require.NoError(t, err)
		d2, wasInCache2, err := m.Defer("testId")
		require.NoError(t, err)

		require.False(t, wasInCache1)
		require.True(t, wasInCache2)
		require.Same(t, d1, d2)
		require.Equal(t, 1, m.Len())

		select {
		case <-d1.Done():
			t.Fatal("record resolved before delivery")
		default:
		}
	})

	t.Run("disposed", func(t *testing.T) {
		m, _ := newTestManager(t)
		m.Dispose()

		_, _, err := m.Defer("testId")
		require.ErrorIs(t, err, ErrDisposed)
		require.EqualError(t, err, "DefermentManager is disposed")
	})
}

func TestUndefer(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves_outstanding_record", func(t *testing.T) {
		m, cache := newTestManager(t)
		item := testItem("testId")
		cache.EXPECT().Get("testId").Return(nil)
		cache.EXPECT().Set("testId", item, time.Duration(0))

		d, _, err := m.Defer("testId")
		require.NoError(t, err)
		require.NoError(t, m.Undefer(item))

		base, err := d.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, item.Base, base)
		require.Zero(t, m.Len())
	})

	t.Run("not_outstanding_only_caches", func(t *testing.T) {
		m, cache := newTestManager(t, WithCacheTTL(time.Minute))
		item := testItem("newId")
		cache.EXPECT().Set("newId", item, time.Minute)

		require.NoError(t, m.Undefer(item))
		require.Zero(t, m.Len())
	})

	t.Run("no_base_is_logged", func(t *testing.T) {
		l, logs := logger.NewObserverLogger("debug")
		m, _ := newTestManager(t, WithLogger(l))

		require.NoError(t, m.Undefer(&types.Item{BaseID: "testId"}))
		require.Equal(t, 1, logs.FilterMessage("undefer called with no base").Len())
	})

	t.Run("disposed", func(t *testing.T) {
		m, _ := newTestManager(t)
		m.Dispose()

		require.ErrorIs(t, m.Undefer(testItem("testId")), ErrDisposed)
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	m, cache := newTestManager(t)
	cache.EXPECT().Get("missing").Return(nil).Times(2)

	boom := errors.New("not found")
	d, _, err := m.Defer("missing")
	require.NoError(t, err)

	m.Reject("missing", boom)
	m.Reject("unknown", boom)

	_, err = d.Wait(ctx)
	require.ErrorIs(t, err, boom)
	require.Zero(t, m.Len())

	again, wasInCache, err := m.Defer("missing")
	require.NoError(t, err)
	require.False(t, wasInCache)
	require.NotSame(t, d, again)
}

func TestDispose(t *testing.T) {
	t.Run("leaves_records_unresolved", func(t *testing.T) {
		m, cache := newTestManager(t)
		cache.EXPECT().Get(gomock.Any()).Return(nil)

		d, _, err := m.Defer("testId")
		require.NoError(t, err)

		m.Dispose()
		m.Dispose()

		select {
		case <-d.Done():
			t.Fatal("dispose resolved an outstanding record")
		default:
		}
		require.Zero(t, m.Len())
	})

	t.Run("stops_cleanup_loop", func(t *testing.T) {
		t.Cleanup(func() {
			goleak.VerifyNone(t)
		})
		m := NewManager(WithCleanupInterval(time.Millisecond))
		m.Dispose()
	})
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	m, cache := newTestManager(t, WithTTL(time.Minute), withClock(clock.Now))
	cache.EXPECT().Get(gomock.Any()).Return(nil).AnyTimes()

	stale, _, err := m.Defer("stale")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	fresh, _, err := m.Defer("fresh")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, _, err = m.Defer("other")
	require.NoError(t, err)

	_, err = stale.Wait(ctx)
	require.ErrorIs(t, err, ErrDefermentExpired)

	select {
	case <-fresh.Done():
		t.Fatal("fresh record expired")
	default:
	}
	require.Equal(t, 2, m.Len())
}

func TestTouchRefreshesExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	m, cache := newTestManager(t, WithTTL(time.Minute), withClock(clock.Now))
	cache.EXPECT().Get(gomock.Any()).Return(nil).AnyTimes()

	d, _, err := m.Defer("a")
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	again, wasInCache, err := m.Defer("a")
	require.NoError(t, err)
	require.True(t, wasInCache)
	require.Same(t, d, again)

	clock.Advance(50 * time.Second)
	_, _, err = m.Defer("b")
	require.NoError(t, err)

	select {
	case <-d.Done():
		t.Fatal("touched record expired")
	default:
	}
}

func TestSizeEviction(t *testing.T) {
	ctx := context.Background()
	m, cache := newTestManager(t, WithMaxSize(2))
	cache.EXPECT().Get(gomock.Any()).Return(nil).AnyTimes()

	first, _, err := m.Defer("a")
	require.NoError(t, err)
	_, _, err = m.Defer("b")
	require.NoError(t, err)
	_, _, err = m.Defer("a")
	require.NoError(t, err)
	_, _, err = m.Defer("c")
	require.NoError(t, err)

	require.Equal(t, 2, m.Len())

	select {
	case <-first.Done():
		t.Fatal("recently touched record was evicted")
	default:
	}

	d, wasInCache, err := m.Defer("b")
	require.NoError(t, err)
	require.False(t, wasInCache)
	require.NotNil(t, d)

	// re-deferring b pushed a out
	_, err = first.Wait(ctx)
	require.ErrorIs(t, err, ErrDefermentEvicted)
}

func TestConcurrentDeferUndefer(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	m := NewManager(WithCleanupInterval(0))
	t.Cleanup(m.Dispose)

	const n = 200
	var deferred, wg sync.WaitGroup
	results := make(chan *types.Base, n)
	requests := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		deferred.Add(1)
		go func() {
			defer wg.Done()
			d, wasInCache, err := m.Defer("shared")
			deferred.Done()
			if err != nil {
				return
			}
			requests <- !wasInCache
			base, err := d.Wait(ctx)
			if err == nil {
				results <- base
			}
		}()
	}

	deferred.Wait()
	require.Equal(t, 1, m.Len())
	require.NoError(t, m.Undefer(testItem("shared")))

	wg.Wait()
	close(results)
	close(requests)

	owners := 0
	for owner := range requests {
		if owner {
			owners++
		}
	}
	require.Equal(t, 1, owners)

	count := 0
	for base := range results {
		require.Equal(t, "shared", base.ID)
		count++
	}
	require.Equal(t, n, count)
}

func TestMemoryOnlyDeferment(t *testing.T) {
	ctx := context.Background()
	base := &types.Base{ID: "id", SpeckleType: "Base"}
	d := NewMemoryOnlyDeferment(map[string]*types.Base{"id": base})

	t.Run("known_id", func(t *testing.T) {
		rec, wasInCache, err := d.Defer("id")
		require.NoError(t, err)
		require.True(t, wasInCache)

		got, err := rec.Wait(ctx)
		require.NoError(t, err)
		require.Same(t, base, got)
	})

	t.Run("unknown_id", func(t *testing.T) {
		rec, wasInCache, err := d.Defer("nope")
		require.NoError(t, err)
		require.False(t, wasInCache)

		_, err = rec.Wait(ctx)
		require.ErrorIs(t, err, ErrNotInCache)
		require.EqualError(t, err, "Not found in cache: nope")
	})

	require.NoError(t, d.Undefer(testItem("id")))
	d.Dispose()
}

func TestDisabledDeferment(t *testing.T) {
	rec, wasInCache, err := DisabledDeferment{}.Defer("x")
	require.NoError(t, err)
	require.False(t, wasInCache)

	_, err = rec.Wait(context.Background())
	require.EqualError(t, err, "Deferment is disabled: x")
}

func TestWaitHonoursContext(t *testing.T) {
	d := newDeferred("x", time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.True(t, d.resolve(nil, nil))
	require.False(t, d.resolve(nil, ErrDefermentExpired))
}
