package batching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/specklesystems/objectloader2/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestKeyedQueue(t *testing.T) {
	q := NewKeyedQueue[string, int]()

	require.True(t, q.Enqueue("a", 1))
	require.True(t, q.Enqueue("b", 2))
	require.False(t, q.Enqueue("a", 10))
	require.True(t, q.Enqueue("c", 3))
	require.True(t, q.Enqueue("d", 4))

	require.Equal(t, 4, q.Len())
	require.True(t, q.Has("b"))
	v, ok := q.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	t.Run("splice_from_middle", func(t *testing.T) {
		require.Equal(t, []int{2, 3}, q.SpliceValues(1, 2))
		require.False(t, q.Has("b"))
		require.Equal(t, 2, q.Len())
	})

	t.Run("splice_out_of_range", func(t *testing.T) {
		require.Nil(t, q.SpliceValues(5, 1))
		require.Nil(t, q.SpliceValues(0, 0))
	})

	t.Run("order_survives_splice", func(t *testing.T) {
		require.True(t, q.Enqueue("e", 5))
		require.Equal(t, []int{1, 4, 5}, q.GetAllValuesAndClear())
		require.Zero(t, q.Len())
		require.Nil(t, q.GetAllValuesAndClear())
	})
}

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) process(_ context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func (r *recorder) total() int {
	n := 0
	for _, b := range r.snapshot() {
		n += len(b)
	}
	return n
}

func TestQueueFlushesAtBatchSize(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	q := NewQueue[string, string](ctx, Options[string]{
		BatchSize: 3,
		MaxWait:   time.Hour,
		Process:   rec.process,
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Add(id, id))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, rec.snapshot()[0])
	require.Zero(t, q.Count())

	require.NoError(t, q.Dispose(ctx))
}

func TestQueueFlushesAfterMaxWait(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	q := NewQueue[string, string](ctx, Options[string]{
		BatchSize: 100,
		MaxWait:   10 * time.Millisecond,
		Process:   rec.process,
	})

	require.NoError(t, q.Add("a", "a"))
	require.NoError(t, q.Add("b", "b"))
	require.Equal(t, 2, q.Count())

	require.Eventually(t, func() bool { return rec.total() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, q.Add("c", "c"))
	require.Eventually(t, func() bool { return rec.total() == 3 }, time.Second, time.Millisecond)

	require.NoError(t, q.Dispose(ctx))
}

func TestQueueKeepsFirstValuePerKey(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	q := NewQueue[string, string](ctx, Options[string]{
		BatchSize: 10,
		MaxWait:   time.Hour,
		Process:   rec.process,
	})

	require.NoError(t, q.Add("id", "first"))
	require.NoError(t, q.Add("id", "second"))
	got, ok := q.Get("id")
	require.True(t, ok)
	require.Equal(t, "first", got)

	require.NoError(t, q.Dispose(ctx))
	require.Equal(t, [][]string{{"first"}}, rec.snapshot())
}

func TestQueueDispose(t *testing.T) {
	ctx := context.Background()

	t.Run("flushes_partial_batches", func(t *testing.T) {
		rec := &recorder{}
		q := NewQueue[string, string](ctx, Options[string]{
			BatchSize: 4,
			MaxWait:   time.Hour,
			Process:   rec.process,
		})

		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("obj-%d", i)
			require.NoError(t, q.Add(id, id))
		}

		require.NoError(t, q.Dispose(ctx))
		require.Equal(t, 10, rec.total())
		require.True(t, q.IsDisposed())
		require.ErrorIs(t, q.Add("late", "late"), ErrDisposed)
		require.NoError(t, q.Dispose(ctx))
	})

	t.Run("empty", func(t *testing.T) {
		q := NewQueue[string, string](ctx, Options[string]{BatchSize: 4, MaxWait: time.Hour})
		require.NoError(t, q.Dispose(ctx))
	})

	t.Run("waits_for_in_flight_batch", func(t *testing.T) {
		release := make(chan struct{})
		var processed atomic.Int32
		q := NewQueue[string, string](ctx, Options[string]{
			BatchSize: 1,
			MaxWait:   time.Hour,
			Process: func(context.Context, []string) error {
				<-release
				processed.Add(1)
				return nil
			},
		})
		require.NoError(t, q.Add("a", "a"))

		disposeCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, q.Dispose(disposeCtx), context.DeadlineExceeded)

		close(release)
		require.NoError(t, q.Dispose(ctx))
		require.Equal(t, int32(1), processed.Load())
	})
}

func TestQueueReportsErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	l, logs := logger.NewObserverLogger("error")

	var reported atomic.Value
	q := NewQueue[string, string](ctx, Options[string]{
		Name:      "writes",
		BatchSize: 1,
		MaxWait:   time.Hour,
		Process: func(context.Context, []string) error {
			return boom
		},
		OnError: func(err error) { reported.Store(err) },
		Logger:  l,
	})

	require.NoError(t, q.Add("a", "a"))
	require.NoError(t, q.Dispose(ctx))

	require.ErrorIs(t, reported.Load().(error), boom)
	require.Equal(t, 1, logs.FilterMessage("batch processing failed").Len())
}

func TestBatchedPool(t *testing.T) {
	ctx := context.Background()

	t.Run("processes_everything_once", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string
		var largest atomic.Int32

		p := NewBatchedPool(ctx, PoolOptions[string]{
			ConcurrencyAndSizes: []int{5, 20, 5},
			MaxWait:             5 * time.Millisecond,
			Process: func(_ context.Context, batch []string) error {
				if n := int32(len(batch)); n > largest.Load() {
					largest.Store(n)
				}
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, batch...)
				return nil
			},
		})

		want := make([]string, 0, 200)
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("obj-%03d", i)
			want = append(want, id)
			require.NoError(t, p.Add(id))
		}

		require.NoError(t, p.Dispose(ctx))
		sort.Strings(seen)
		require.Equal(t, want, seen)
		require.LessOrEqual(t, largest.Load(), int32(20))
		require.ErrorIs(t, p.Add("late"), ErrPoolFinished)
		require.Zero(t, p.Len())
	})

	t.Run("first_error_is_surfaced", func(t *testing.T) {
		boom := errors.New("boom")
		var hooked atomic.Int32

		p := NewBatchedPool(ctx, PoolOptions[string]{
			ConcurrencyAndSizes: []int{1, 1},
			MaxWait:             time.Millisecond,
			Process: func(context.Context, []string) error {
				return boom
			},
			OnError: func(error) { hooked.Add(1) },
		})
		require.NoError(t, p.Add("a"))

		<-p.Done()
		require.ErrorIs(t, p.Err(), boom)
		require.ErrorIs(t, p.Dispose(ctx), boom)
		require.Equal(t, int32(1), hooked.Load())
	})

	t.Run("dispose_cancels_on_deadline", func(t *testing.T) {
		p := NewBatchedPool(ctx, PoolOptions[string]{
			ConcurrencyAndSizes: []int{1},
			Process: func(ctx context.Context, _ []string) error {
				<-ctx.Done()
				return ctx.Err()
			},
		})
		require.NoError(t, p.Add("a"))
		require.Eventually(t, func() bool { return p.Len() == 0 }, time.Second, time.Millisecond)

		disposeCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, p.Dispose(disposeCtx), context.DeadlineExceeded)
	})
}
