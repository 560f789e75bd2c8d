package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"

	"github.com/specklesystems/objectloader2/assets"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
)

// MigrationProvider implements [storage.MigrationProvider] for PostgreSQL.
type MigrationProvider struct{}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

func (*MigrationProvider) GetSupportedEngine() string {
	return "postgres"
}

// RunMigrations executes PostgreSQL database migrations.
func (p *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := p.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	version, err := sqlcommon.Migrate(ctx, db, goose.DialectPostgres, assets.Migrations(assets.PostgresMigrationDir), int64(config.TargetVersion), config.Verbose)
	if err != nil {
		return 0, fmt.Errorf("failed to run postgres migrations: %w", err)
	}
	log.Printf("postgres migrated to %d", version)
	return version, nil
}

// GetCurrentVersion returns the current migration version.
func (p *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := p.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, assets.Migrations(assets.PostgresMigrationDir), goose.WithDisableGlobalRegistry(true))
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func (*MigrationProvider) open(ctx context.Context, config storage.MigrationConfig) (*sql.DB, error) {
	db, err := initDB(config.URI, sqlcommon.NewConfig(
		sqlcommon.WithUsername(config.Username),
		sqlcommon.WithPassword(config.Password),
	))
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	if config.Timeout > 0 {
		policy.MaxElapsedTime = config.Timeout
	}
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres connection: %w", err)
	}
	return db, nil
}
