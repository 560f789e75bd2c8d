// Package cachepump moves object ids through the local cache, routing hits to
// the consumer and misses to the network.
package cachepump

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/specklesystems/objectloader2/internal/asyncqueue"
	"github.com/specklesystems/objectloader2/internal/batching"
	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/internal/concurrency"
	"github.com/specklesystems/objectloader2/internal/deferment"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/internal/cachepump")

const (
	DefaultMaxCacheReadSize       = 10000
	DefaultMaxCacheWriteSize      = 10000
	DefaultMaxWriteQueueSize      = 40000
	DefaultMaxCacheBatchWriteWait = 1 * time.Second
	DefaultMaxCacheBatchReadWait  = 100 * time.Millisecond
	DefaultBackpressurePause      = 1 * time.Second
)

var ErrAlreadyGathered = errors.New("cache pump already gathered")

var (
	routedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cache_pump_routed_ids_total",
		Help:      "The total number of ids looked up in the local cache, by outcome.",
	}, []string{"outcome"})

	backpressureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cache_pump_backpressure_pauses_total",
		Help:      "The total number of pauses taken because too many writes were pending.",
	})
)

type config struct {
	logger                 logger.Logger
	fetcher                storage.PointFetcher
	maxCacheReadSize       int
	maxCacheWriteSize      int
	maxWriteQueueSize      int
	maxCacheBatchWriteWait time.Duration
	maxCacheBatchReadWait  time.Duration
	backpressurePause      time.Duration
}

type Option func(*config)

func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithPointFetcher resolves GetObject misses remotely.
func WithPointFetcher(f storage.PointFetcher) Option {
	return func(c *config) {
		c.fetcher = f
	}
}

func WithMaxCacheReadSize(n int) Option {
	return func(c *config) {
		c.maxCacheReadSize = n
	}
}

func WithMaxCacheWriteSize(n int) Option {
	return func(c *config) {
		c.maxCacheWriteSize = n
	}
}

// WithMaxWriteQueueSize bounds the pending writes PumpItems tolerates before
// it pauses reading.
func WithMaxWriteQueueSize(n int) Option {
	return func(c *config) {
		c.maxWriteQueueSize = n
	}
}

func WithMaxCacheBatchWriteWait(d time.Duration) Option {
	return func(c *config) {
		c.maxCacheBatchWriteWait = d
	}
}

func WithMaxCacheBatchReadWait(d time.Duration) Option {
	return func(c *config) {
		c.maxCacheBatchReadWait = d
	}
}

func WithBackpressurePause(d time.Duration) Option {
	return func(c *config) {
		c.backpressurePause = d
	}
}

// Pump owns the batched writes into the Database and the queues that the
// bulk stream is gathered from.
type Pump struct {
	db         storage.Database
	deferments deferment.Deferment
	cfg        config

	writes *batching.Queue[string, *types.Item]
	reader *CacheReader

	found      *asyncqueue.Queue[*types.Item]
	downloaded *asyncqueue.Queue[*types.Item]
	gathered   *asyncqueue.Aggregate[*types.Item]

	gatherOnce sync.Once
}

// New returns a Pump writing into db. Batches are written under ctx.
func New(ctx context.Context, db storage.Database, deferments deferment.Deferment, opts ...Option) *Pump {
	cfg := config{
		logger:                 logger.NewNoopLogger(),
		maxCacheReadSize:       DefaultMaxCacheReadSize,
		maxCacheWriteSize:      DefaultMaxCacheWriteSize,
		maxWriteQueueSize:      DefaultMaxWriteQueueSize,
		maxCacheBatchWriteWait: DefaultMaxCacheBatchWriteWait,
		maxCacheBatchReadWait:  DefaultMaxCacheBatchReadWait,
		backpressurePause:      DefaultBackpressurePause,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pump{
		db:         db,
		deferments: deferments,
		cfg:        cfg,
		found:      asyncqueue.New[*types.Item](),
		downloaded: asyncqueue.New[*types.Item](),
	}
	p.gathered = asyncqueue.NewAggregate(p.found, p.downloaded)

	p.writes = batching.NewQueue[string](ctx, batching.Options[*types.Item]{
		Name:      "cache_writes",
		BatchSize: cfg.maxCacheWriteSize,
		MaxWait:   cfg.maxCacheBatchWriteWait,
		Process:   db.CacheSaveBatch,
		Logger:    cfg.logger,
	})

	p.reader = newCacheReader(ctx, db, deferments, storage.SinkFunc[*types.Item](p.stage), cfg)

	return p
}

// Add stages item for persistence.
func (p *Pump) Add(ctx context.Context, item *types.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.stage(item)
}

func (p *Pump) stage(item *types.Item) error {
	return p.writes.Add(item.BaseID, item)
}

// PendingWrites returns the number of staged items not yet handed to the
// Database.
func (p *Pump) PendingWrites() int {
	return p.writes.Count()
}

// Results is the queue a Downloader delivers into. Delivered items are staged
// for persistence and gathered with the cache hits.
func (p *Pump) Results() storage.ResultQueue[*types.Item] {
	return &results{pump: p}
}

// GetObject resolves a single id through the read-through CacheReader.
func (p *Pump) GetObject(ctx context.Context, id string) (*types.Base, error) {
	return p.reader.GetObject(ctx, id)
}

// PumpItems looks ids up in slices and routes each one to exactly one of found
// or notFound. It returns early without an error once the write queue is
// disposed or a sink stops accepting values.
func (p *Pump) PumpItems(ctx context.Context, ids []string, found storage.Sink[*types.Item], notFound storage.Sink[string]) error {
	ctx, span := tracer.Start(ctx, "cachepump.PumpItems")
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(ids)))

	for start := 0; start < len(ids); start += p.cfg.maxCacheReadSize {
		for p.writes.Count() > p.cfg.maxWriteQueueSize && !p.writes.IsDisposed() {
			backpressureCounter.Inc()
			p.cfg.logger.Debug("pausing cache reads",
				zap.Int("pending_writes", p.writes.Count()),
				zap.Duration("pause", p.cfg.backpressurePause))
			if err := concurrency.Sleep(ctx, p.cfg.backpressurePause); err != nil {
				return err
			}
		}
		if p.writes.IsDisposed() {
			return nil
		}

		slice := ids[start:min(start+p.cfg.maxCacheReadSize, len(ids))]
		items, err := p.db.GetAll(ctx, slice)
		if err != nil {
			return fmt.Errorf("read cache batch: %w", err)
		}
		if len(items) != len(slice) {
			return fmt.Errorf("read cache batch: got %d entries for %d ids", len(items), len(slice))
		}

		for i, item := range items {
			if item != nil {
				routedCounter.WithLabelValues("hit").Inc()
				err = found.Add(item)
			} else {
				routedCounter.WithLabelValues("miss").Inc()
				err = notFound.Add(slice[i])
			}
			if errors.Is(err, asyncqueue.ErrDisposed) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("route %s: %w", slice[i], err)
			}
		}
	}

	return nil
}

// Gather streams the items for ids. Cache hits come straight from the
// Database and misses are requested from downloader, whose pool must deliver
// into Results. Every yielded item is undeferred. The sequence stops after
// len(ids) items or when a background step fails. A Pump gathers once.
func (p *Pump) Gather(ctx context.Context, ids []string, downloader storage.Downloader) iter.Seq2[*types.Item, error] {
	return func(yield func(*types.Item, error) bool) {
		first := false
		p.gatherOnce.Do(func() { first = true })
		if !first {
			yield(nil, ErrAlreadyGathered)
			return
		}

		ctx, span := tracer.Start(ctx, "cachepump.Gather")
		defer span.End()
		span.SetAttributes(attribute.Int("ids", len(ids)))

		if len(ids) == 0 {
			p.gathered.Dispose()
			return
		}

		bgCtx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(bgCtx)
		g.Go(func() error {
			err := p.PumpItems(gctx, ids, p.found, storage.SinkFunc[string](downloader.Add))
			if err == nil {
				err = downloader.Finish()
			}
			if err != nil {
				p.found.Fail(err)
				return err
			}
			p.found.Finish()
			return nil
		})

		defer func() {
			p.gathered.Dispose()
			cancel()
			_ = g.Wait()
		}()

		count := 0
		for item, err := range p.gathered.Consume(ctx) {
			if err != nil {
				span.RecordError(err)
				yield(nil, err)
				return
			}
			if err := p.deferments.Undefer(item); err != nil {
				yield(nil, err)
				return
			}
			if !yield(item, nil) {
				return
			}
			count++
			if count >= len(ids) {
				return
			}
		}

		if count < len(ids) {
			p.cfg.logger.Debug("gather ended early", zap.Int("expected", len(ids)), zap.Int("delivered", count))
		}
	}
}

// Dispose flushes pending writes and stops the reader.
func (p *Pump) Dispose(ctx context.Context) error {
	p.gathered.Dispose()
	return errors.Join(p.reader.Dispose(ctx), p.writes.Dispose(ctx))
}

type results struct {
	pump *Pump
}

var _ storage.ResultQueue[*types.Item] = (*results)(nil)

func (r *results) Add(item *types.Item) error {
	if err := r.pump.stage(item); err != nil && !errors.Is(err, batching.ErrDisposed) {
		return err
	}
	return r.pump.downloaded.Add(item)
}

func (r *results) Finish() {
	r.pump.downloaded.Finish()
}

func (r *results) Fail(err error) {
	r.pump.downloaded.Fail(err)
}
