// Package badger is an embedded key-value object cache on BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/storage/badger")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "badger."+name)
}

const (
	keyPrefix    = "obj/"
	checksumSize = 8

	DefaultGCInterval = 5 * time.Minute
	gcDiscardRatio    = 0.5
)

// Datastore provides a BadgerDB based implementation of [storage.Database].
// Values are the 8 byte big endian xxhash of the encoded base followed by
// the encoding itself.
type Datastore struct {
	db     *dgbadger.DB
	logger logger.Logger

	disposed  atomic.Bool
	closeOnce sync.Once
	closeErr  error

	stopGC chan struct{}
	gcDone chan struct{}
}

var _ storage.Database = (*Datastore)(nil)

type config struct {
	path       string
	inMemory   bool
	syncWrites bool
	gcInterval time.Duration
	logger     logger.Logger
}

type Option func(*config)

// WithPath stores the cache in dir, creating it when needed.
func WithPath(dir string) Option {
	return func(c *config) {
		c.path = dir
	}
}

// WithInMemory keeps the cache in memory only.
func WithInMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

func WithSyncWrites(enabled bool) Option {
	return func(c *config) {
		c.syncWrites = enabled
	}
}

// WithGCInterval sets how often the value log is garbage collected. Zero
// disables collection.
func WithGCInterval(d time.Duration) Option {
	return func(c *config) {
		c.gcInterval = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func New(opts ...Option) (*Datastore, error) {
	cfg := config{
		gcInterval: DefaultGCInterval,
		logger:     logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !cfg.inMemory && cfg.path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var badgerOpts dgbadger.Options
	if cfg.inMemory {
		badgerOpts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.path, err)
		}
		badgerOpts = dgbadger.DefaultOptions(cfg.path)
	}
	badgerOpts = badgerOpts.
		WithSyncWrites(cfg.syncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: cfg.logger})

	db, err := dgbadger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Datastore{
		db:     db,
		logger: cfg.logger,
	}
	if !cfg.inMemory && cfg.gcInterval > 0 {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.gcInterval)
	}
	return s, nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func encodeValue(item *types.Item) ([]byte, error) {
	data, checksum, err := storage.EncodeItem(item)
	if err != nil {
		return nil, err
	}
	value := make([]byte, checksumSize+len(data))
	binary.BigEndian.PutUint64(value, uint64(checksum))
	copy(value[checksumSize:], data)
	return value, nil
}

func decodeValue(id string, value []byte) (*types.Item, error) {
	if len(value) < checksumSize {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrChecksumMismatch)
	}
	checksum := int64(binary.BigEndian.Uint64(value))
	return storage.DecodeItem(id, value[checksumSize:], checksum)
}

// read returns nil for ids that are absent or whose value cannot be decoded.
func (s *Datastore) read(ctx context.Context, txn *dgbadger.Txn, id string) (*types.Item, error) {
	entry, err := txn.Get(key(id))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	value, err := entry.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	item, err := decodeValue(id, value)
	if err != nil {
		storage.CountUnreadable("badger")
		s.logger.WarnWithContext(ctx, "dropping unreadable cached object", zap.String("id", id), zap.Error(err))
		return nil, nil
	}
	return item, nil
}

// GetAll see [storage.Database].GetAll.
func (s *Datastore) GetAll(ctx context.Context, ids []string) ([]*types.Item, error) {
	ctx, span := startTrace(ctx, "GetAll")
	defer span.End()

	if s.disposed.Load() {
		return nil, storage.ErrDisposed
	}

	out := make([]*types.Item, len(ids))
	err := s.db.View(func(txn *dgbadger.Txn) error {
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := s.read(ctx, txn, id)
			if err != nil {
				return err
			}
			out[i] = item
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger read: %w", err)
	}
	return out, nil
}

// GetItem see [storage.Database].GetItem.
func (s *Datastore) GetItem(ctx context.Context, id string) (*types.Item, error) {
	ctx, span := startTrace(ctx, "GetItem")
	defer span.End()

	if s.disposed.Load() {
		return nil, storage.ErrDisposed
	}

	var item *types.Item
	err := s.db.View(func(txn *dgbadger.Txn) error {
		var err error
		item, err = s.read(ctx, txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger read: %w", err)
	}
	return item, nil
}

// CacheSaveBatch see [storage.Database].CacheSaveBatch.
func (s *Datastore) CacheSaveBatch(ctx context.Context, batch []*types.Item) error {
	_, span := startTrace(ctx, "CacheSaveBatch")
	defer span.End()

	if s.disposed.Load() {
		return storage.ErrDisposed
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, item := range batch {
		value, err := encodeValue(item)
		if err != nil {
			return err
		}
		if err := wb.Set(key(item.BaseID), value); err != nil {
			return fmt.Errorf("badger write: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger write: %w", err)
	}
	return nil
}

// Dispose see [storage.Database].Dispose.
func (s *Datastore) Dispose(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.disposed.Store(true)
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Datastore) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// one call rewrites at most one file, so repeat until nothing is left
			for {
				err := s.db.RunValueLogGC(gcDiscardRatio)
				if err == nil {
					continue
				}
				if !errors.Is(err, dgbadger.ErrNoRewrite) && !errors.Is(err, dgbadger.ErrRejected) {
					s.logger.Warn("badger value log GC error", zap.Error(err))
				}
				break
			}
		}
	}
}

// badgerLogger routes BadgerDB's own logging through the cache logger.
type badgerLogger struct {
	logger logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), zap.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), zap.String("component", "badger"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), zap.String("component", "badger"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), zap.String("component", "badger"))
}
