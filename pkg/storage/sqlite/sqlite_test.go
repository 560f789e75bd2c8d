package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
	"github.com/specklesystems/objectloader2/pkg/types"
)

func newDatastore(t *testing.T, opts ...sqlcommon.DatastoreOption) (*Datastore, string) {
	t.Helper()
	uri := filepath.Join(t.TempDir(), "cache.sqlite")
	ds, err := New(context.Background(), uri, sqlcommon.NewConfig(opts...))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ds.Dispose(context.Background()))
	})
	return ds, uri
}

func item(id string) *types.Item {
	base := &types.Base{ID: id, SpeckleType: "Objects.Geometry.Point"}
	base.Set("x", types.Float(1.5))
	base.Set("name", types.String(id))
	return &types.Item{BaseID: id, Base: base}
}

func TestPrepareDSN(t *testing.T) {
	var testcases = map[string]struct {
		uri      string
		expected url.Values
	}{
		"defaults": {
			uri: "cache.sqlite",
			expected: url.Values{
				"_pragma": {"journal_mode(WAL)", "busy_timeout(100)"},
				"_txlock": {"immediate"},
			},
		},
		"keeps_explicit_pragmas": {
			uri: "cache.sqlite?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(500)&_txlock=deferred",
			expected: url.Values{
				"_pragma": {"journal_mode(DELETE)", "busy_timeout(500)"},
				"_txlock": {"deferred"},
			},
		},
	}
	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			dsn, err := PrepareDSN(tc.uri)
			require.NoError(t, err)

			_, query, found := strings.Cut(dsn, "?")
			require.True(t, found)
			values, err := url.ParseQuery(query)
			require.NoError(t, err)
			require.Equal(t, tc.expected, values)
		})
	}

	t.Run("invalid_query", func(t *testing.T) {
		_, err := PrepareDSN("cache.sqlite?%zz")
		require.ErrorContains(t, err, "error parsing dsn")
	})
}

func TestDatastore(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDatastore(t, sqlcommon.WithMaxIDsPerQuery(3), sqlcommon.WithMaxRowsPerInsert(4))

	batch := make([]*types.Item, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, item(fmt.Sprintf("obj-%02d", i)))
	}
	require.NoError(t, ds.CacheSaveBatch(ctx, batch))

	t.Run("get_all_keeps_request_order", func(t *testing.T) {
		ids := []string{"obj-09", "missing", "obj-00", "obj-05", "obj-05"}
		got, err := ds.GetAll(ctx, ids)
		require.NoError(t, err)
		require.Len(t, got, len(ids))
		require.Nil(t, got[1])
		for i, id := range ids {
			if got[i] == nil {
				continue
			}
			require.Equal(t, id, got[i].BaseID)
		}
		require.True(t, got[0].Base.Equal(batch[9].Base))
		require.Positive(t, got[0].Size)
	})

	t.Run("get_item", func(t *testing.T) {
		got, err := ds.GetItem(ctx, "obj-03")
		require.NoError(t, err)
		require.True(t, got.Base.Equal(batch[3].Base))

		got, err = ds.GetItem(ctx, "missing")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("save_overwrites", func(t *testing.T) {
		updated := item("obj-01")
		updated.Base.Set("name", types.String("renamed"))
		require.NoError(t, ds.CacheSaveBatch(ctx, []*types.Item{item("obj-01"), updated}))

		got, err := ds.GetItem(ctx, "obj-01")
		require.NoError(t, err)
		name, _ := got.Base.Get("name")
		require.True(t, name.Equal(types.String("renamed")))
	})

	t.Run("empty_batch", func(t *testing.T) {
		require.NoError(t, ds.CacheSaveBatch(ctx, nil))
	})
}

func TestChecksumMismatchIsAMiss(t *testing.T) {
	ctx := context.Background()
	ds, _ := newDatastore(t)

	require.NoError(t, ds.CacheSaveBatch(ctx, []*types.Item{item("good"), item("bad")}))
	_, err := ds.DB().ExecContext(ctx, "UPDATE objects SET checksum = checksum + 1 WHERE id = ?", "bad")
	require.NoError(t, err)

	got, err := ds.GetAll(ctx, []string{"good", "bad"})
	require.NoError(t, err)
	require.NotNil(t, got[0])
	require.Nil(t, got[1])

	single, err := ds.GetItem(ctx, "bad")
	require.NoError(t, err)
	require.Nil(t, single)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	uri := filepath.Join(t.TempDir(), "cache.sqlite")

	ds, err := New(ctx, uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	require.NoError(t, ds.CacheSaveBatch(ctx, []*types.Item{item("kept")}))
	require.NoError(t, ds.Dispose(ctx))

	reopened, err := New(ctx, uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	defer reopened.Dispose(ctx)

	got, err := reopened.GetItem(ctx, "kept")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestDispose(t *testing.T) {
	ctx := context.Background()
	ds, err := New(ctx, filepath.Join(t.TempDir(), "cache.sqlite"), sqlcommon.NewConfig())
	require.NoError(t, err)

	require.NoError(t, ds.Dispose(ctx))
	require.NoError(t, ds.Dispose(ctx))

	_, err = ds.GetAll(ctx, []string{"a"})
	require.ErrorIs(t, err, storage.ErrDisposed)
	_, err = ds.GetItem(ctx, "a")
	require.ErrorIs(t, err, storage.ErrDisposed)
	require.ErrorIs(t, ds.CacheSaveBatch(ctx, []*types.Item{item("a")}), storage.ErrDisposed)
}

func TestIsReady(t *testing.T) {
	ds, _ := newDatastore(t)
	ready, err := ds.IsReady(context.Background())
	require.NoError(t, err)
	require.True(t, ready)
}

func TestMigrationProvider(t *testing.T) {
	ctx := context.Background()
	provider := NewMigrationProvider()
	require.Equal(t, "sqlite", provider.GetSupportedEngine())

	t.Run("up_and_down", func(t *testing.T) {
		config := storage.MigrationConfig{
			Engine:  "sqlite",
			URI:     filepath.Join(t.TempDir(), "cache.sqlite"),
			Timeout: time.Second,
		}

		version, err := provider.RunMigrations(ctx, config)
		require.NoError(t, err)
		require.EqualValues(t, 1, version)

		current, err := provider.GetCurrentVersion(ctx, config)
		require.NoError(t, err)
		require.EqualValues(t, 1, current)

		version, err = provider.RunMigrations(ctx, config)
		require.NoError(t, err)
		require.EqualValues(t, 1, version)
	})

	t.Run("invalid_path", func(t *testing.T) {
		config := storage.MigrationConfig{
			Engine:  "sqlite",
			URI:     "/invalid/path/that/does/not/exist/db.sqlite",
			Timeout: 100 * time.Millisecond,
		}

		_, err := provider.RunMigrations(ctx, config)
		require.Error(t, err)

		_, err = provider.GetCurrentVersion(ctx, config)
		require.Error(t, err)
	})
}
