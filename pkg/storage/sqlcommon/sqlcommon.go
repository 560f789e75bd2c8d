// Package sqlcommon holds the SQL cache code shared by the sqlite, postgres
// and mysql backends.
package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/storage/sqlcommon")

const (
	// TableName is the table every SQL backend caches objects in.
	TableName = "objects"

	// DefaultMaxIDsPerQuery bounds the IN list of a single GetAll query.
	DefaultMaxIDsPerQuery = 500

	// DefaultMaxRowsPerInsert bounds the rows of a single insert statement.
	DefaultMaxRowsPerInsert = 500
)

// Config defines the configuration parameters
// for setting up and managing a sql connection.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds how long opening a backend waits for the
	// database to answer a ping.
	ConnectTimeout time.Duration

	MaxIDsPerQuery   int
	MaxRowsPerInsert int

	ExportMetrics bool
}

// DatastoreOption defines a function type
// used for configuring a Config object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that sets the username in the Config.
func WithUsername(username string) DatastoreOption {
	return func(config *Config) {
		config.Username = username
	}
}

// WithPassword returns a DatastoreOption that sets the password in the Config.
func WithPassword(password string) DatastoreOption {
	return func(config *Config) {
		config.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

func WithConnectTimeout(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnectTimeout = d
	}
}

// WithMaxIDsPerQuery sets how many ids a single select may ask for.
func WithMaxIDsPerQuery(n int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIDsPerQuery = n
	}
}

// WithMaxRowsPerInsert sets how many rows a single insert may carry.
func WithMaxRowsPerInsert(n int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxRowsPerInsert = n
	}
}

// WithMetrics returns a DatastoreOption that
// enables the export of connection pool metrics.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values
// and applies any provided DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = time.Minute
	}
	if cfg.MaxIDsPerQuery <= 0 {
		cfg.MaxIDsPerQuery = DefaultMaxIDsPerQuery
	}
	if cfg.MaxRowsPerInsert <= 0 {
		cfg.MaxRowsPerInsert = DefaultMaxRowsPerInsert
	}

	return cfg
}

// ConfigurePool applies the connection pool limits of cfg to db.
func ConfigurePool(db *sql.DB, cfg *Config) {
	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// Connect pings db until it answers or cfg.ConnectTimeout passes, and
// registers a DBStatsCollector when metrics are enabled.
func Connect(ctx context.Context, db *sql.DB, engine string, cfg *Config) (prometheus.Collector, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.String("engine", engine), zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}
	return collector, nil
}

// DBInfo encapsulates DB information for use in common method.
type DBInfo struct {
	db             *sql.DB
	stbl           sq.StatementBuilderType
	engine         string
	upsertSuffix   string
	cfg            *Config
	HandleSQLError errorHandlerFn
}

type errorHandlerFn func(error, ...interface{}) error

// NewDBInfo constructs a [DBInfo] object. upsertSuffix is appended to every
// insert so that saving an id twice overwrites the row.
func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, errorHandler errorHandlerFn, engine, upsertSuffix string, cfg *Config) *DBInfo {
	return &DBInfo{
		db:             db,
		stbl:           stbl,
		engine:         engine,
		upsertSuffix:   upsertSuffix,
		cfg:            cfg,
		HandleSQLError: errorHandler,
	}
}

// GetAll provides the common implementation of [storage.Database].GetAll.
func GetAll(ctx context.Context, dbInfo *DBInfo, ids []string) ([]*types.Item, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.GetAll")
	defer span.End()

	found := make(map[string]*types.Item, len(ids))
	for start := 0; start < len(ids); start += dbInfo.cfg.MaxIDsPerQuery {
		end := min(start+dbInfo.cfg.MaxIDsPerQuery, len(ids))
		if err := selectInto(ctx, dbInfo, ids[start:end], found); err != nil {
			return nil, err
		}
	}

	out := make([]*types.Item, len(ids))
	for i, id := range ids {
		out[i] = found[id]
	}
	return out, nil
}

func selectInto(ctx context.Context, dbInfo *DBInfo, ids []string, found map[string]*types.Item) error {
	rows, err := dbInfo.stbl.
		Select("id", "data", "checksum").
		From(TableName).
		Where(sq.Eq{"id": ids}).
		QueryContext(ctx)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       string
			data     []byte
			checksum int64
		)
		if err := rows.Scan(&id, &data, &checksum); err != nil {
			return dbInfo.HandleSQLError(err)
		}

		item, err := storage.DecodeItem(id, data, checksum)
		if err != nil {
			logDroppedRow(ctx, dbInfo, id, err)
			continue
		}
		found[id] = item
	}
	if err := rows.Err(); err != nil {
		return dbInfo.HandleSQLError(err)
	}
	return nil
}

// GetItem provides the common implementation of [storage.Database].GetItem.
func GetItem(ctx context.Context, dbInfo *DBInfo, id string) (*types.Item, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.GetItem")
	defer span.End()

	var (
		data     []byte
		checksum int64
	)
	err := dbInfo.stbl.
		Select("data", "checksum").
		From(TableName).
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx).
		Scan(&data, &checksum)
	if err != nil {
		err = dbInfo.HandleSQLError(err)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	item, err := storage.DecodeItem(id, data, checksum)
	if err != nil {
		logDroppedRow(ctx, dbInfo, id, err)
		return nil, nil
	}
	return item, nil
}

// CacheSaveBatch provides the common implementation of
// [storage.Database].CacheSaveBatch. All rows are written in one transaction.
func CacheSaveBatch(ctx context.Context, dbInfo *DBInfo, batch []*types.Item) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.CacheSaveBatch")
	defer span.End()

	if len(batch) == 0 {
		return nil
	}

	// the last write of an id in a batch wins, and engines reject one
	// statement touching the same key twice
	unique := make(map[string]int, len(batch))
	rows := make([]*types.Item, 0, len(batch))
	for _, item := range batch {
		if i, ok := unique[item.BaseID]; ok {
			rows[i] = item
			continue
		}
		unique[item.BaseID] = len(rows)
		rows = append(rows, item)
	}

	txn, err := dbInfo.db.BeginTx(ctx, nil)
	if err != nil {
		return dbInfo.HandleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	now := time.Now().UTC()
	for start := 0; start < len(rows); start += dbInfo.cfg.MaxRowsPerInsert {
		end := min(start+dbInfo.cfg.MaxRowsPerInsert, len(rows))

		insert := dbInfo.stbl.
			Insert(TableName).
			Columns("id", "speckle_type", "data", "checksum", "inserted_at").
			Suffix(dbInfo.upsertSuffix).
			RunWith(txn)
		for _, item := range rows[start:end] {
			data, checksum, err := storage.EncodeItem(item)
			if err != nil {
				return err
			}
			insert = insert.Values(item.BaseID, item.Base.SpeckleType, data, checksum, now)
		}

		if _, err := insert.ExecContext(ctx); err != nil {
			return dbInfo.HandleSQLError(err)
		}
	}

	if err := txn.Commit(); err != nil {
		return dbInfo.HandleSQLError(err)
	}
	return nil
}

func logDroppedRow(ctx context.Context, dbInfo *DBInfo, id string, err error) {
	storage.CountUnreadable(dbInfo.engine)
	dbInfo.cfg.Logger.WarnWithContext(ctx, "dropping unreadable cached object",
		zap.String("engine", dbInfo.engine),
		zap.String("id", id),
		zap.Error(err))
}

// Migrate runs the goose SQL migrations found at the root of fsys against db.
// A zero targetVersion migrates all the way up. It returns the version the
// database ends at.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS, targetVersion int64, verbose bool) (int64, error) {
	provider, err := goose.NewProvider(dialect, db, fsys,
		goose.WithDisableGlobalRegistry(true),
		goose.WithVerbose(verbose),
	)
	if err != nil {
		return 0, err
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, err
	}

	switch {
	case targetVersion == 0:
		_, err = provider.Up(ctx)
	case targetVersion < current:
		_, err = provider.DownTo(ctx, targetVersion)
	case targetVersion > current:
		_, err = provider.UpTo(ctx, targetVersion)
	}
	if err != nil {
		return 0, err
	}

	return provider.GetDBVersion(ctx)
}

// IsReady reports whether db answers and carries at least the schema
// revision the caches need.
func IsReady(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return false, err
	}

	provider, err := goose.NewProvider(dialect, db, fsys, goose.WithDisableGlobalRegistry(true))
	if err != nil {
		return false, err
	}
	revision, err := provider.GetDBVersion(ctx)
	if err != nil {
		return false, err
	}
	return revision >= build.MinimumSupportedCacheSchemaRevision, nil
}
