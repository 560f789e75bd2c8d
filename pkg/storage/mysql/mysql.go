// Package mysql is an object cache shared by several loaders over MySQL.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/specklesystems/objectloader2/assets"
	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/storage/mysql")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mysql."+name)
}

const (
	upsertSuffix = "ON DUPLICATE KEY UPDATE " +
		"speckle_type = VALUES(speckle_type), data = VALUES(data), " +
		"checksum = VALUES(checksum), inserted_at = VALUES(inserted_at)"

	errNoSuchTable = 1146
)

var ErrSchemaOutdated = errors.New("cache requires migrations, run 'objectloader migrate'")

// Datastore provides a MySQL based implementation of [storage.Database].
type Datastore struct {
	*sqlcommon.Datastore
}

var _ storage.Database = (*Datastore)(nil)

// PrepareDSN folds the credentials of cfg into dsn and makes the driver scan
// timestamps into time.Time.
func PrepareDSN(dsn string, cfg *sqlcommon.Config) (string, error) {
	dsnCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql connection dsn: %w", err)
	}

	if cfg.Username != "" {
		dsnCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		dsnCfg.Passwd = cfg.Password
	}
	dsnCfg.ParseTime = true

	return dsnCfg.FormatDSN(), nil
}

func initDB(dsn string, cfg *sqlcommon.Config) (*sql.DB, error) {
	dsn, err := PrepareDSN(dsn, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}
	sqlcommon.ConfigurePool(db, cfg)
	return db, nil
}

// New connects to dsn and checks that the schema has been migrated.
func New(ctx context.Context, dsn string, cfg *sqlcommon.Config) (*Datastore, error) {
	db, err := initDB(dsn, cfg)
	if err != nil {
		return nil, err
	}

	collector, err := sqlcommon.Connect(ctx, db, "mysql", cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure db: %w", err)
	}

	stbl := sq.StatementBuilder.RunWith(db)
	dbInfo := sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "mysql", upsertSuffix, cfg)
	ds := &Datastore{Datastore: sqlcommon.NewDatastore(dbInfo, collector)}

	ready, err := ds.IsReady(ctx)
	if err != nil {
		_ = ds.Dispose(ctx)
		return nil, fmt.Errorf("check schema version: %w", err)
	}
	if !ready {
		_ = ds.Dispose(ctx)
		return nil, fmt.Errorf("%w: requires revision %d", ErrSchemaOutdated, build.MinimumSupportedCacheSchemaRevision)
	}
	return ds, nil
}

// GetAll see [storage.Database].GetAll.
func (s *Datastore) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	ctx, span := startTrace(ctx, "GetAll")
	defer span.End()

	return s.Datastore.GetAll(ctx, ids)
}

// GetItem see [storage.Database].GetItem.
func (s *Datastore) GetItem(ctx context.Context, id string) (*types.Item, error) {
	ctx, span := startTrace(ctx, "GetItem")
	defer span.End()

	return s.Datastore.GetItem(ctx, id)
}

// CacheSaveBatch see [storage.Database].CacheSaveBatch.
func (s *Datastore) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	ctx, span := startTrace(ctx, "CacheSaveBatch")
	defer span.End()

	return s.Datastore.CacheSaveBatch(ctx, batch)
}

func (s *Datastore) IsReady(ctx context.Context) (bool, error) {
	return sqlcommon.IsReady(ctx, s.DB(), goose.DialectMySQL, assets.Migrations(assets.MySQLMigrationDir))
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error, _ ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errNoSuchTable {
		return fmt.Errorf("%w: %w", ErrSchemaOutdated, err)
	}

	return fmt.Errorf("sql error: %w", err)
}
