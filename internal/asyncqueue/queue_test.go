package asyncqueue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect[T any](t *testing.T, seq func(func(T, error) bool)) ([]T, error) {
	t.Helper()
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestQueueFinishDrains(t *testing.T) {
	q := New[string]()
	require.NoError(t, q.Add("a"))
	require.NoError(t, q.Add("b"))
	require.Equal(t, 2, q.Len())
	q.Finish()

	require.True(t, q.IsFinished())
	require.ErrorIs(t, q.Add("c"), ErrDisposed)

	got, err := collect[string](t, q.Consume(context.Background()))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestQueueWakesWaitingConsumer(t *testing.T) {
	q := New[int]()

	go func() {
		for i := 0; i < 100; i++ {
			_ = q.Add(i)
		}
		q.Finish()
	}()

	got, err := collect[int](t, q.Consume(context.Background()))
	require.NoError(t, err)
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestQueueDisposeEndsImmediately(t *testing.T) {
	q := New[string]()
	require.NoError(t, q.Add("a"))
	q.Dispose()

	got, err := collect[string](t, q.Consume(context.Background()))
	require.NoError(t, err)
	require.Empty(t, got)
	require.ErrorIs(t, q.Add("b"), ErrDisposed)
}

func TestQueueFail(t *testing.T) {
	boom := errors.New("boom")
	q := New[string]()
	require.NoError(t, q.Add("a"))
	q.Fail(boom)
	q.Fail(errors.New("later"))

	got, err := collect[string](t, q.Consume(context.Background()))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a"}, got)
}

func TestQueueConsumeHonoursContext(t *testing.T) {
	q := New[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := collect[string](t, q.Consume(ctx))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueSingleConsumer(t *testing.T) {
	q := New[string]()
	q.Finish()

	_, err := collect[string](t, q.Consume(context.Background()))
	require.NoError(t, err)

	_, err = collect[string](t, q.Consume(context.Background()))
	require.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestQueueEarlyBreak(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Add(i))
	}

	for v, err := range q.Consume(context.Background()) {
		require.NoError(t, err)
		if v == 1 {
			break
		}
	}
	require.Equal(t, 3, q.Len())
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("merges_both_sources", func(t *testing.T) {
		hits, misses := New[string](), New[string]()
		agg := NewAggregate(hits, misses)

		require.NoError(t, agg.Add("hit-1"))
		require.NoError(t, misses.Add("miss-1"))
		require.NoError(t, hits.Add("hit-2"))
		hits.Finish()

		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = misses.Add("miss-2")
			misses.Finish()
		}()

		got, err := collect[string](t, agg.Consume(ctx))
		require.NoError(t, err)
		sort.Strings(got)
		require.Equal(t, []string{"hit-1", "hit-2", "miss-1", "miss-2"}, got)
	})

	t.Run("error_from_either_source_ends_consumption", func(t *testing.T) {
		boom := errors.New("download failed")
		hits, misses := New[string](), New[string]()
		agg := NewAggregate(hits, misses)
		misses.Fail(boom)

		_, err := collect[string](t, agg.Consume(ctx))
		require.ErrorIs(t, err, boom)
		agg.Dispose()
	})

	t.Run("stop_after_n_then_dispose", func(t *testing.T) {
		hits, misses := New[int](), New[int]()
		agg := NewAggregate(hits, misses)
		for i := 0; i < 10; i++ {
			require.NoError(t, hits.Add(i))
		}

		n := 0
		for _, err := range agg.Consume(ctx) {
			require.NoError(t, err)
			n++
			if n == 3 {
				break
			}
		}
		agg.Dispose()
		require.Equal(t, 3, n)
		require.True(t, hits.IsFinished())
		require.True(t, misses.IsFinished())
	})

	t.Run("cancelled_context", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		agg := NewAggregate(New[int](), New[int]())
		_, err := collect[int](t, agg.Consume(cctx))
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
