package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMigrationProvider struct {
	engine  string
	version int64
}

func (f *fakeMigrationProvider) GetSupportedEngine() string {
	return f.engine
}

func (f *fakeMigrationProvider) RunMigrations(_ context.Context, config MigrationConfig) (int64, error) {
	f.version = int64(config.TargetVersion)
	return f.version, nil
}

func (f *fakeMigrationProvider) GetCurrentVersion(context.Context, MigrationConfig) (int64, error) {
	return f.version, nil
}

func TestMigratorRegistry(t *testing.T) {
	sqlite := &fakeMigrationProvider{engine: "sqlite"}
	registry := NewMigratorRegistry(sqlite, &fakeMigrationProvider{engine: "postgres"})

	t.Run("lookup_by_engine", func(t *testing.T) {
		p, ok := registry.GetProvider("sqlite")
		require.True(t, ok)
		require.Same(t, sqlite, p)

		_, ok = registry.GetProvider("mssql")
		require.False(t, ok)
	})

	t.Run("later_registration_replaces", func(t *testing.T) {
		replacement := &fakeMigrationProvider{engine: "postgres", version: 7}
		registry.RegisterProvider(replacement)

		p, ok := registry.GetProvider("postgres")
		require.True(t, ok)
		version, err := p.GetCurrentVersion(context.Background(), MigrationConfig{})
		require.NoError(t, err)
		require.EqualValues(t, 7, version)
	})

	t.Run("supported_engines", func(t *testing.T) {
		engines := registry.GetSupportedEngines()
		sort.Strings(engines)
		require.Equal(t, []string{"postgres", "sqlite"}, engines)
	})
}
