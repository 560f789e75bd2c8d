// Package loader streams a Speckle object graph, root first, from the local
// cache and the server.
package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/internal/cachepump"
	"github.com/specklesystems/objectloader2/internal/deferment"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/telemetry"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/loader")

var ErrNoRootObject = errors.New("No root object found!")

var yieldedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "loader_yielded_objects_total",
	Help:      "The total number of objects yielded by object iterators, by position in the graph.",
}, []string{"kind"})

// State is where a Loader is in its lifecycle.
type State int32

const (
	Idle State = iota
	RootResolving
	Streaming
	Done
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RootResolving:
		return "root_resolving"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Loader resolves one root object and its closure.
type Loader struct {
	id         string
	rootID     string
	db         storage.Database
	downloader storage.Downloader
	deferments deferment.Deferment
	pump       *cachepump.Pump
	logger     logger.Logger

	maxDownloadBatchWait time.Duration

	state atomic.Int32

	rootGroup singleflight.Group
	rootMu    sync.Mutex
	root      *types.Item // GUARDED_BY(rootMu)

	disposeOnce sync.Once
	disposeErr  error
}

type config struct {
	logger               logger.Logger
	deferments           deferment.Deferment
	pumpOpts             []cachepump.Option
	maxDownloadBatchWait time.Duration
}

type Option func(*config)

func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithDeferment replaces the default deferment.Manager. The Loader disposes it.
func WithDeferment(d deferment.Deferment) Option {
	return func(c *config) {
		c.deferments = d
	}
}

func WithCachePumpOptions(opts ...cachepump.Option) Option {
	return func(c *config) {
		c.pumpOpts = append(c.pumpOpts, opts...)
	}
}

func WithMaxDownloadBatchWait(d time.Duration) Option {
	return func(c *config) {
		c.maxDownloadBatchWait = d
	}
}

// New returns a Loader for rootID. A downloader that is also a
// storage.PointFetcher serves GetObject misses.
func New(rootID string, db storage.Database, downloader storage.Downloader, opts ...Option) *Loader {
	cfg := config{
		logger:               logger.NewNoopLogger(),
		maxDownloadBatchWait: storage.DefaultMaxDownloadBatchWait,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Loader{
		id:                   ulid.Make().String(),
		rootID:               rootID,
		db:                   db,
		downloader:           downloader,
		maxDownloadBatchWait: cfg.maxDownloadBatchWait,
	}
	l.logger = cfg.logger.With(zap.String("loader_id", l.id), zap.String("root_id", rootID))

	l.deferments = cfg.deferments
	if l.deferments == nil {
		l.deferments = deferment.NewManager(deferment.WithLogger(l.logger))
	}

	pumpOpts := []cachepump.Option{cachepump.WithLogger(l.logger)}
	if fetcher, ok := downloader.(storage.PointFetcher); ok {
		pumpOpts = append(pumpOpts, cachepump.WithPointFetcher(fetcher))
	}
	l.pump = cachepump.New(context.Background(), db, l.deferments, append(pumpOpts, cfg.pumpOpts...)...)

	return l
}

// ID identifies the Loader in logs.
func (l *Loader) ID() string {
	return l.id
}

func (l *Loader) State() State {
	return State(l.state.Load())
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
}

// advance moves to s unless the Loader is already past it.
func (l *Loader) advance(s State) {
	for {
		cur := l.state.Load()
		if State(cur) == Error || State(cur) >= s {
			return
		}
		if l.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (l *Loader) fail(err error) error {
	l.setState(Error)
	l.logger.Error("object loading failed", zap.Error(err))
	return err
}

// GetRootObject returns the root Item, from the Database or else the server.
// The first successful result is kept for the lifetime of the Loader.
func (l *Loader) GetRootObject(ctx context.Context) (*types.Item, error) {
	l.rootMu.Lock()
	root := l.root
	l.rootMu.Unlock()
	if root != nil {
		return root, nil
	}

	v, err, _ := l.rootGroup.Do(l.rootID, func() (any, error) {
		ctx, span := tracer.Start(ctx, "loader.GetRootObject")
		defer span.End()

		l.advance(RootResolving)

		item, err := l.db.GetItem(ctx, l.rootID)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, l.fail(fmt.Errorf("read root object from cache: %w", err))
		}
		source := "cache"

		if item == nil {
			source = "server"
			item, err = l.downloader.DownloadSingle(ctx)
			if err != nil {
				telemetry.TraceError(span, err)
				return nil, l.fail(err)
			}
		}

		if item == nil || item.Base == nil {
			telemetry.TraceError(span, ErrNoRootObject)
			return nil, l.fail(ErrNoRootObject)
		}
		span.SetAttributes(attribute.String("source", source))

		l.rootMu.Lock()
		l.root = item
		l.rootMu.Unlock()
		return item, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Item), nil
}

// GetTotalObjectCount returns the number of objects an iterator yields: the
// root and its closure.
func (l *Loader) GetTotalObjectCount(ctx context.Context) (int, error) {
	root, err := l.GetRootObject(ctx)
	if err != nil {
		return 0, err
	}
	return len(root.Base.Closure) + 1, nil
}

// GetObjectIterator yields the root Base and then every Base in its closure,
// heaviest first in request order. Children arrive in whatever order the cache
// and the server deliver them.
func (l *Loader) GetObjectIterator(ctx context.Context) iter.Seq2[*types.Base, error] {
	return func(yield func(*types.Base, error) bool) {
		ctx, span := tracer.Start(ctx, "loader.GetObjectIterator")
		defer span.End()

		root, err := l.GetRootObject(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		if err := l.pump.Add(ctx, root); err != nil {
			l.logger.Warn("could not stage root object", zap.Error(err))
		}

		l.advance(Streaming)
		yieldedCounter.WithLabelValues("root").Inc()
		if !yield(root.Base, nil) {
			return
		}

		children := root.Base.ChildIDs()
		span.SetAttributes(attribute.Int("children", len(children)))
		if len(children) == 0 {
			l.advance(Done)
			return
		}

		err = l.downloader.InitializePool(storage.PoolParams{
			Results:              l.pump.Results(),
			Total:                len(children),
			MaxDownloadBatchWait: l.maxDownloadBatchWait,
		})
		if err != nil {
			yield(nil, l.fail(err))
			return
		}

		count := 0
		for item, err := range l.pump.Gather(ctx, children, l.downloader) {
			if err != nil {
				telemetry.TraceError(span, err)
				yield(nil, l.fail(err))
				return
			}
			count++
			yieldedCounter.WithLabelValues("child").Inc()
			if !yield(item.Base, nil) {
				return
			}
		}

		if count < len(children) {
			l.logger.Warn("fewer objects than expected", zap.Int("expected", len(children)), zap.Int("received", count))
		}
		l.advance(Done)
	}
}

// GetObject resolves a single id, sharing in-flight lookups with concurrent
// callers.
func (l *Loader) GetObject(ctx context.Context, id string) (*types.Base, error) {
	ctx, span := tracer.Start(ctx, "loader.GetObject")
	defer span.End()
	span.SetAttributes(attribute.String("id", id))

	return l.pump.GetObject(ctx, id)
}

// Dispose tears down the downloader and the cache side in parallel and then
// the deferment. Later calls return the first result.
func (l *Loader) Dispose(ctx context.Context) error {
	l.disposeOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "loader.Dispose")
		defer span.End()

		p := pool.New().WithErrors()
		p.Go(func() error {
			return l.downloader.Dispose(ctx)
		})
		p.Go(func() error {
			// pending writes land before the database closes
			return errors.Join(l.pump.Dispose(ctx), l.db.Dispose(ctx))
		})
		l.disposeErr = p.Wait()

		l.deferments.Dispose()

		if l.disposeErr != nil {
			telemetry.TraceError(span, l.disposeErr)
		}
	})
	return l.disposeErr
}
