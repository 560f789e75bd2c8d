package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"

	"github.com/specklesystems/objectloader2/assets"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
)

// MigrationProvider implements [storage.MigrationProvider] for SQLite.
type MigrationProvider struct{}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

func (*MigrationProvider) GetSupportedEngine() string {
	return "sqlite"
}

// RunMigrations executes SQLite database migrations.
func (p *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := p.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	version, err := sqlcommon.Migrate(ctx, db, goose.DialectSQLite3, assets.Migrations(assets.SqliteMigrationDir), int64(config.TargetVersion), config.Verbose)
	if err != nil {
		return 0, fmt.Errorf("failed to run sqlite migrations: %w", err)
	}
	return version, nil
}

// GetCurrentVersion returns the current migration version.
func (p *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := p.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, assets.Migrations(assets.SqliteMigrationDir), goose.WithDisableGlobalRegistry(true))
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func (*MigrationProvider) open(ctx context.Context, config storage.MigrationConfig) (*sql.DB, error) {
	uri, err := PrepareDSN(config.URI)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
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
		return nil, fmt.Errorf("failed to initialize sqlite connection: %w", err)
	}
	return db, nil
}
