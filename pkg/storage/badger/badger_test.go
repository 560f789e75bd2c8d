package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

func item(id string) *types.Item {
	base := &types.Base{ID: id, SpeckleType: "Base"}
	base.Set("name", types.String(id))
	return &types.Item{BaseID: id, Base: base}
}

func newInMemory(t *testing.T, opts ...Option) *Datastore {
	t.Helper()
	ds, err := New(append([]Option{WithInMemory()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ds.Dispose(context.Background()))
	})
	return ds
}

func TestDatastore(t *testing.T) {
	ctx := context.Background()
	ds := newInMemory(t)

	var batch []*types.Item
	for i := 0; i < 20; i++ {
		batch = append(batch, item(fmt.Sprintf("obj-%02d", i)))
	}
	require.NoError(t, ds.CacheSaveBatch(ctx, batch))

	t.Run("get_all_keeps_request_order", func(t *testing.T) {
		got, err := ds.GetAll(ctx, []string{"obj-19", "missing", "obj-00"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, "obj-19", got[0].BaseID)
		require.Nil(t, got[1])
		require.True(t, got[2].Base.Equal(batch[0].Base))
	})

	t.Run("get_item", func(t *testing.T) {
		got, err := ds.GetItem(ctx, "obj-07")
		require.NoError(t, err)
		require.True(t, got.Base.Equal(batch[7].Base))

		got, err = ds.GetItem(ctx, "missing")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("save_overwrites", func(t *testing.T) {
		updated := item("obj-01")
		updated.Base.SpeckleType = "Objects.BuiltElements.Wall"
		require.NoError(t, ds.CacheSaveBatch(ctx, []*types.Item{updated}))

		got, err := ds.GetItem(ctx, "obj-01")
		require.NoError(t, err)
		require.Equal(t, "Objects.BuiltElements.Wall", got.Base.SpeckleType)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ds.GetAll(cancelled, []string{"obj-00"})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCorruptValueIsAMiss(t *testing.T) {
	ctx := context.Background()
	log, logs := logger.NewObserverLogger("warn")
	ds := newInMemory(t, WithLogger(log))

	require.NoError(t, ds.CacheSaveBatch(ctx, []*types.Item{item("good"), item("bad"), item("short")}))
	err := ds.db.Update(func(txn *dgbadger.Txn) error {
		value := make([]byte, checksumSize+2)
		binary.BigEndian.PutUint64(value, 42)
		copy(value[checksumSize:], "{}")
		if err := txn.Set(key("bad"), value); err != nil {
			return err
		}
		return txn.Set(key("short"), []byte{1, 2})
	})
	require.NoError(t, err)

	got, err := ds.GetAll(ctx, []string{"good", "bad", "short"})
	require.NoError(t, err)
	require.NotNil(t, got[0])
	require.Nil(t, got[1])
	require.Nil(t, got[2])
	require.Equal(t, 2, logs.FilterMessage("dropping unreadable cached object").Len())
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ds, err := New(WithPath(dir), WithSyncWrites(true), WithGCInterval(0))
	require.NoError(t, err)
	require.NoError(t, ds.CacheSaveBatch(ctx, []*types.Item{item("kept")}))
	require.NoError(t, ds.Dispose(ctx))

	reopened, err := New(WithPath(dir))
	require.NoError(t, err)
	defer reopened.Dispose(ctx)

	got, err := reopened.GetItem(ctx, "kept")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New()
	require.ErrorContains(t, err, "path is required")
}

func TestDispose(t *testing.T) {
	ctx := context.Background()
	ds, err := New(WithPath(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, ds.Dispose(ctx))
	require.NoError(t, ds.Dispose(ctx))

	_, err = ds.GetAll(ctx, []string{"a"})
	require.ErrorIs(t, err, storage.ErrDisposed)
	_, err = ds.GetItem(ctx, "a")
	require.ErrorIs(t, err, storage.ErrDisposed)
	require.ErrorIs(t, ds.CacheSaveBatch(ctx, []*types.Item{item("a")}), storage.ErrDisposed)
}
