// Package migrate runs the schema migrations of the SQL caches.
package migrate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/mysql"
	"github.com/specklesystems/objectloader2/pkg/storage/postgres"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlite"
)

type MigrationConfig = storage.MigrationConfig

var (
	defaultRegistry *storage.MigratorRegistry
	registryOnce    sync.Once
)

func initDefaultRegistry() {
	registryOnce.Do(func() {
		defaultRegistry = storage.NewMigratorRegistry(
			postgres.NewMigrationProvider(),
			mysql.NewMigrationProvider(),
			sqlite.NewMigrationProvider(),
		)
	})
}

// GetDefaultRegistry returns the registry holding the built-in engines.
func GetDefaultRegistry() *storage.MigratorRegistry {
	initDefaultRegistry()
	return defaultRegistry
}

// RegisterMigrationProvider adds or replaces an engine in the default registry.
func RegisterMigrationProvider(provider storage.MigrationProvider) {
	initDefaultRegistry()
	defaultRegistry.RegisterProvider(provider)
}

// RunMigrationsWithRegistry migrates cfg.Engine using the provider registry
// holds for it. Engines without a schema are skipped.
func RunMigrationsWithRegistry(ctx context.Context, registry *storage.MigratorRegistry, cfg MigrationConfig, log logger.Logger) error {
	switch cfg.Engine {
	case "memory", "badger":
		log.Info("no migrations to run", zap.String("engine", cfg.Engine))
		return nil
	}

	provider, exists := registry.GetProvider(cfg.Engine)
	if !exists {
		engines := registry.GetSupportedEngines()
		sort.Strings(engines)
		return fmt.Errorf("no migration provider registered for engine %q, expected one of %v", cfg.Engine, engines)
	}

	version, err := provider.RunMigrations(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("migration done", zap.String("engine", cfg.Engine), zap.Int64("version", version))
	return nil
}

// RunMigrations migrates cfg.Engine with the built-in providers.
func RunMigrations(ctx context.Context, cfg MigrationConfig, log logger.Logger) error {
	return RunMigrationsWithRegistry(ctx, GetDefaultRegistry(), cfg, log)
}
