// Package load contains the command that loads an object graph through the
// local cache.
package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/internal/cachepump"
	"github.com/specklesystems/objectloader2/internal/deferment"
	"github.com/specklesystems/objectloader2/internal/worker"
	"github.com/specklesystems/objectloader2/pkg/downloader"
	"github.com/specklesystems/objectloader2/pkg/loader"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/storage/badger"
	"github.com/specklesystems/objectloader2/pkg/storage/memory"
	"github.com/specklesystems/objectloader2/pkg/storage/mysql"
	"github.com/specklesystems/objectloader2/pkg/storage/postgres"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlcommon"
	"github.com/specklesystems/objectloader2/pkg/storage/sqlite"
	"github.com/specklesystems/objectloader2/pkg/storage/storagewrappers"
	"github.com/specklesystems/objectloader2/pkg/telemetry"
)

func NewLoadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load an object and everything it references",
		Long: `Load an object and everything it references.

Objects already in the local cache are read from it. Missing objects are downloaded
in batches and written back to the cache.`,
		RunE: load,
		Args: cobra.NoArgs,
	}

	bindLoadFlags(cmd)

	return cmd
}

func load(cmd *cobra.Command, _ []string) error {
	config, err := ReadConfig()
	if err != nil {
		return err
	}

	if err := config.Verify(); err != nil {
		return err
	}

	log, err := logger.NewLogger(config.Log.Format, config.Log.Level, config.Log.TimestampFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadCtx := &LoadContext{Logger: log, Out: cmd.OutOrStdout()}
	_, err = loadCtx.Run(ctx, config)
	return err
}

// Summary describes a finished load.
type Summary struct {
	RootID   string
	Expected int
	Loaded   int
	Types    map[string]int
	Duration time.Duration
}

type LoadContext struct {
	Logger logger.Logger
	Out    io.Writer
}

// telemetryConfig returns the function that must be called to shut down tracing.
func (l *LoadContext) telemetryConfig(config *Config) func() error {
	if config.Trace.Enabled {
		l.Logger.Info(fmt.Sprintf("tracing enabled: sampling ratio is %v and sending traces to '%s', tls: %t", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint, config.Trace.OTLP.TLS.Enabled))

		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(config.Trace.OTLP.Endpoint),
			telemetry.WithInsecure(!config.Trace.OTLP.TLS.Enabled),
			telemetry.WithServiceName(config.Trace.ServiceName),
			telemetry.WithAttributes(semconv.ServiceVersionKey.String(build.Version)),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		)
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}

// metricsConfig starts the prometheus endpoint and returns the function that stops it.
func (l *LoadContext) metricsConfig(config *Config) func(ctx context.Context) {
	if !config.Metrics.Enabled {
		return func(context.Context) {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{Addr: config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})

	go func() {
		defer close(done)
		l.Logger.Info(fmt.Sprintf("starting prometheus metrics server on '%s'", config.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				l.Logger.Error("failed to start prometheus metrics server", zap.Error(err))
			}
		}
		l.Logger.Info("metrics server shut down.")
	}()

	return func(ctx context.Context) {
		if err := metricsServer.Shutdown(ctx); err != nil {
			l.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
		}
		<-done
	}
}

func (l *LoadContext) cacheConfig(ctx context.Context, config *Config) (storage.Database, error) {
	cacheOptions := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Cache.Username),
		sqlcommon.WithPassword(config.Cache.Password),
		sqlcommon.WithLogger(l.Logger),
		sqlcommon.WithMaxOpenConns(config.Cache.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Cache.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Cache.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Cache.ConnMaxLifetime),
		sqlcommon.WithConnectTimeout(config.Cache.ConnectTimeout),
	}

	if config.Cache.Metrics {
		cacheOptions = append(cacheOptions, sqlcommon.WithMetrics())
	}

	cacheCfg := sqlcommon.NewConfig(cacheOptions...)

	var (
		db  storage.Database
		err error
	)
	switch config.Cache.Engine {
	case "memory":
		db = memory.New()
	case "sqlite":
		db, err = sqlite.New(ctx, config.Cache.URI, cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite cache: %w", err)
		}
	case "postgres":
		db, err = postgres.New(ctx, config.Cache.URI, cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres cache: %w", err)
		}
	case "mysql":
		db, err = mysql.New(ctx, config.Cache.URI, cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize mysql cache: %w", err)
		}
	case "badger":
		db, err = badger.New(
			badger.WithPath(config.Cache.URI),
			badger.WithGCInterval(config.Cache.GCInterval),
			badger.WithLogger(l.Logger),
		)
		if err != nil {
			return nil, fmt.Errorf("initialize badger cache: %w", err)
		}
	default:
		return nil, fmt.Errorf("cache engine '%s' is unsupported", config.Cache.Engine)
	}

	l.Logger.Info(fmt.Sprintf("using '%v' object cache", config.Cache.Engine))

	if config.Cache.OffloadWrites {
		offloaded, err := worker.NewDatabase(ctx, db,
			worker.WithCapacity(config.Cache.WriterCapacity),
			worker.WithName("cache_writes"),
			worker.WithLogger(l.Logger),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("start cache writer: %w", err), db.Dispose(ctx))
		}
		db = offloaded
	}

	if config.Cache.MaxConcurrentCalls > 0 {
		db = storagewrappers.NewBoundedConcurrencyDatabase(db, config.Cache.MaxConcurrentCalls)
	}

	return db, nil
}

func (l *LoadContext) downloaderConfig(config *Config) *downloader.ServerDownloader {
	headers := make(http.Header, len(config.Server.Headers))
	for k, v := range config.Server.Headers {
		headers.Set(k, v)
	}

	options := []downloader.Option{
		downloader.WithLogger(l.Logger),
		downloader.WithRetryMax(config.Server.RetryMax),
	}
	if config.Server.RequestsPerSecond > 0 {
		options = append(options, downloader.WithRateLimit(rate.Limit(config.Server.RequestsPerSecond), config.Server.Burst))
	}

	return downloader.NewServerDownloader(downloader.Options{
		ServerURL: config.Server.URL,
		StreamID:  config.Server.StreamID,
		ObjectID:  config.Server.ObjectID,
		Token:     config.Server.Token,
		Headers:   headers,
	}, options...)
}

// Run loads config.Server.ObjectID and everything it references, then prints a summary to Out.
func (l *LoadContext) Run(ctx context.Context, config *Config) (*Summary, error) {
	tracerProviderCloser := l.telemetryConfig(config)
	defer func() {
		if err := tracerProviderCloser(); err != nil {
			l.Logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	stopMetrics := l.metricsConfig(config)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopMetrics(shutdownCtx)
	}()

	db, err := l.cacheConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	dl := l.downloaderConfig(config)

	ol := loader.New(config.Server.ObjectID, db, dl,
		loader.WithLogger(l.Logger),
		loader.WithMaxDownloadBatchWait(config.Loader.MaxDownloadBatchWait),
		loader.WithDeferment(deferment.NewManager(
			deferment.WithLogger(l.Logger),
			deferment.WithMaxSize(config.Loader.DefermentMaxSize),
			deferment.WithTTL(config.Loader.DefermentTTL),
		)),
		loader.WithCachePumpOptions(
			cachepump.WithMaxCacheReadSize(config.Loader.MaxCacheReadSize),
			cachepump.WithMaxCacheWriteSize(config.Loader.MaxCacheWriteSize),
			cachepump.WithMaxWriteQueueSize(config.Loader.MaxWriteQueueSize),
			cachepump.WithMaxCacheBatchWriteWait(config.Loader.MaxCacheBatchWriteWait),
			cachepump.WithMaxCacheBatchReadWait(config.Loader.MaxCacheBatchReadWait),
		),
	)

	summary, loadErr := l.drain(ctx, ol)

	disposeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ol.Dispose(disposeCtx); err != nil {
		loadErr = errors.Join(loadErr, fmt.Errorf("dispose loader: %w", err))
	}

	if loadErr != nil {
		return nil, loadErr
	}

	l.Logger.Info("load done",
		zap.String("root_id", summary.RootID),
		zap.Int("loaded", summary.Loaded),
		zap.Int("expected", summary.Expected),
		zap.Duration("duration", summary.Duration),
	)
	if l.Out != nil {
		if _, err := fmt.Fprintf(l.Out, "loaded %d of %d objects from %s in %s\n", summary.Loaded, summary.Expected, summary.RootID, summary.Duration.Round(time.Millisecond)); err != nil {
			return nil, err
		}
	}

	return summary, nil
}

func (l *LoadContext) drain(ctx context.Context, ol *loader.Loader) (*Summary, error) {
	start := time.Now()

	expected, err := ol.GetTotalObjectCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve root object: %w", err)
	}

	summary := &Summary{
		Expected: expected,
		Types:    make(map[string]int),
	}
	for base, err := range ol.GetObjectIterator(ctx) {
		if err != nil {
			return nil, fmt.Errorf("load objects: %w", err)
		}
		if summary.RootID == "" {
			summary.RootID = base.ID
		}
		summary.Loaded++
		summary.Types[base.SpeckleType]++
	}
	summary.Duration = time.Since(start)

	return summary, nil
}
