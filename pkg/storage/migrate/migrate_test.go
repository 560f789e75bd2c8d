package migrate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/migrate"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlite"
)

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite_up_then_ready", func(t *testing.T) {
		uri := filepath.Join(t.TempDir(), "cache.sqlite")
		err := migrate.RunMigrations(ctx, migrate.MigrationConfig{
			Engine:  "sqlite",
			URI:     uri,
			Timeout: time.Second,
		}, logger.NewNoopLogger())
		require.NoError(t, err)

		version, err := sqlite.NewMigrationProvider().GetCurrentVersion(ctx, storage.MigrationConfig{URI: uri, Timeout: time.Second})
		require.NoError(t, err)
		require.EqualValues(t, 1, version)
	})

	t.Run("engines_without_schema_are_skipped", func(t *testing.T) {
		log, logs := logger.NewObserverLogger("info")
		for _, engine := range []string{"memory", "badger"} {
			require.NoError(t, migrate.RunMigrations(ctx, migrate.MigrationConfig{Engine: engine}, log))
		}
		require.Equal(t, 2, logs.FilterMessage("no migrations to run").Len())
	})

	t.Run("unknown_engine", func(t *testing.T) {
		err := migrate.RunMigrations(ctx, migrate.MigrationConfig{Engine: "mssql"}, logger.NewNoopLogger())
		require.ErrorContains(t, err, `no migration provider registered for engine "mssql"`)
		require.ErrorContains(t, err, "[mysql postgres sqlite]")
	})
}

func TestDefaultRegistry(t *testing.T) {
	registry := migrate.GetDefaultRegistry()
	require.ElementsMatch(t, []string{"postgres", "mysql", "sqlite"}, registry.GetSupportedEngines())
}
