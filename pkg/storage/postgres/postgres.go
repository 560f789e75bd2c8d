// Package postgres is an object cache shared by several loaders over
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/specklesystems/objectloader2/assets"
	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/storage/postgres")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postgres."+name)
}

const upsertSuffix = "ON CONFLICT (id) DO UPDATE SET " +
	"speckle_type = EXCLUDED.speckle_type, data = EXCLUDED.data, " +
	"checksum = EXCLUDED.checksum, inserted_at = EXCLUDED.inserted_at"

// ErrSchemaOutdated is returned when the database has not been migrated far
// enough for the cache.
var ErrSchemaOutdated = errors.New("cache requires migrations, run 'objectloader migrate'")

// Datastore provides a PostgreSQL based implementation of [storage.Database].
type Datastore struct {
	*sqlcommon.Datastore
}

var _ storage.Database = (*Datastore)(nil)

// PrepareURI folds the credentials of cfg into uri. Credentials in cfg win
// over those in uri.
func PrepareURI(uri string, cfg *sqlcommon.Config) (string, error) {
	if cfg.Username == "" && cfg.Password == "" {
		return uri, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse postgres connection uri: %w", err)
	}

	username := ""
	if cfg.Username != "" {
		username = cfg.Username
	} else if parsed.User != nil {
		username = parsed.User.Username()
	}

	switch {
	case cfg.Password != "":
		parsed.User = url.UserPassword(username, cfg.Password)
	case parsed.User != nil:
		if password, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(username, password)
		} else {
			parsed.User = url.User(username)
		}
	default:
		parsed.User = url.User(username)
	}

	return parsed.String(), nil
}

func initDB(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	uri, err := PrepareURI(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}
	sqlcommon.ConfigurePool(db, cfg)
	return db, nil
}

// New connects to uri and checks that the schema has been migrated.
func New(ctx context.Context, uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	db, err := initDB(uri, cfg)
	if err != nil {
		return nil, err
	}

	ds, err := NewWithDB(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

// NewWithDB creates a new [Datastore] storage with the provided database connection.
func NewWithDB(ctx context.Context, db *sql.DB, cfg *sqlcommon.Config) (*Datastore, error) {
	collector, err := sqlcommon.Connect(ctx, db, "postgres", cfg)
	if err != nil {
		return nil, fmt.Errorf("configure db: %w", err)
	}

	stbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db)
	dbInfo := sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "postgres", upsertSuffix, cfg)
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

// IsReady reports whether the database answers and its schema is current.
func (s *Datastore) IsReady(ctx context.Context) (bool, error) {
	return sqlcommon.IsReady(ctx, s.DB(), goose.DialectPostgres, assets.Migrations(assets.PostgresMigrationDir))
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error, _ ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	if strings.Contains(err.Error(), "relation \"objects\" does not exist") {
		return fmt.Errorf("%w: %w", ErrSchemaOutdated, err)
	}

	return fmt.Errorf("sql error: %w", err)
}
