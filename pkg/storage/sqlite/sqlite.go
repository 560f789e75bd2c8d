// Package sqlite is a file backed object cache on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/specklesystems/objectloader2/assets"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

const upsertSuffix = "ON CONFLICT (id) DO UPDATE SET " +
	"speckle_type = excluded.speckle_type, data = excluded.data, " +
	"checksum = excluded.checksum, inserted_at = excluded.inserted_at"

// Datastore provides a SQLite based implementation of [storage.Database].
type Datastore struct {
	*sqlcommon.Datastore
}

var _ storage.Database = (*Datastore)(nil)

// PrepareDSN prepares a raw DSN for use with SQLite, specifying defaults for
// journal mode and busy timeout.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New opens the cache at uri and brings its schema up to date. A local cache
// file is owned by this process, so it is migrated on open.
func New(ctx context.Context, uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}
	sqlcommon.ConfigurePool(db, cfg)

	collector, err := sqlcommon.Connect(ctx, db, "sqlite", cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	if _, err := sqlcommon.Migrate(ctx, db, goose.DialectSQLite3, assets.Migrations(assets.SqliteMigrationDir), 0, false); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite cache: %w", err)
	}

	stbl := sq.StatementBuilder.RunWith(db)
	dbInfo := sqlcommon.NewDBInfo(db, stbl, HandleSQLError, "sqlite", upsertSuffix, cfg)

	return &Datastore{Datastore: sqlcommon.NewDatastore(dbInfo, collector)}, nil
}

// GetAll see [storage.Database].GetAll.
func (s *Datastore) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	ctx, span := startTrace(ctx, "GetAll")
	defer span.End()

	var items []*types.Item
	err := busyRetry(func() error {
		var err error
		items, err = s.Datastore.GetAll(ctx, ids)
		return err
	})
	return items, err
}

// GetItem see [storage.Database].GetItem.
func (s *Datastore) GetItem(ctx context.Context, id string) (*types.Item, error) {
	ctx, span := startTrace(ctx, "GetItem")
	defer span.End()

	var item *types.Item
	err := busyRetry(func() error {
		var err error
		item, err = s.Datastore.GetItem(ctx, id)
		return err
	})
	return item, err
}

// CacheSaveBatch see [storage.Database].CacheSaveBatch.
func (s *Datastore) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	ctx, span := startTrace(ctx, "CacheSaveBatch")
	defer span.End()

	return busyRetry(func() error {
		return s.Datastore.CacheSaveBatch(ctx, batch)
	})
}

// IsReady reports whether the cache answers and its schema is current.
func (s *Datastore) IsReady(ctx context.Context) (bool, error) {
	return sqlcommon.IsReady(ctx, s.DB(), goose.DialectSQLite3, assets.Migrations(assets.SqliteMigrationDir))
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error, _ ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	return fmt.Errorf("sql error: %w", err)
}

// SQLite will return an SQLITE_BUSY error when the database is locked rather than waiting for the lock.
// This function retries the operation up to maxRetries times before returning the error.
func busyRetry(fn func() error) error {
	const maxRetries = 10
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}

		if isBusyError(err) {
			if retries < maxRetries {
				continue
			}

			return fmt.Errorf("sqlite busy error after %d retries: %w", maxRetries, err)
		}

		return err
	}
}

var busyErrors = map[int]struct{}{
	sqlite3.SQLITE_BUSY_RECOVERY:      {},
	sqlite3.SQLITE_BUSY_SNAPSHOT:      {},
	sqlite3.SQLITE_BUSY_TIMEOUT:       {},
	sqlite3.SQLITE_BUSY:               {},
	sqlite3.SQLITE_LOCKED_SHAREDCACHE: {},
	sqlite3.SQLITE_LOCKED:             {},
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	_, ok := busyErrors[sqliteErr.Code()]
	return ok
}
