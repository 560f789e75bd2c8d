package load

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/specklesystems/objectloader2/cmd/util"
	"github.com/specklesystems/objectloader2/internal/cachepump"
	"github.com/specklesystems/objectloader2/internal/deferment"
	"github.com/specklesystems/objectloader2/internal/worker"
	"github.com/specklesystems/objectloader2/pkg/storage"
)

// Engines lists the accepted values of 'cache.engine'.
var Engines = []string{"memory", "sqlite", "badger", "postgres", "mysql"}

// ServerConfig identifies the remote object store and the object to load.
type ServerConfig struct {
	URL      string
	Token    string
	StreamID string
	ObjectID string
	Headers  map[string]string

	// RetryMax is how often a failed request is retried.
	RetryMax int

	// RequestsPerSecond paces batch requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// CacheConfig defines the local object cache.
type CacheConfig struct {
	Engine   string
	URI      string
	Username string
	Password string

	// MaxConcurrentCalls bounds calls in flight against the cache. Zero disables the bound.
	MaxConcurrentCalls uint32

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration

	// Metrics exports database/sql pool statistics.
	Metrics bool

	// GCInterval is how often a badger cache collects its value log.
	GCInterval time.Duration

	// OffloadWrites hands every cache write to a writer goroutine through a
	// ring of WriterCapacity bytes.
	OffloadWrites  bool
	WriterCapacity int
}

// LoaderConfig tunes the batching between the cache, the downloader and the
// consumer.
type LoaderConfig struct {
	MaxDownloadBatchWait   time.Duration
	MaxCacheReadSize       int
	MaxCacheWriteSize      int
	MaxWriteQueueSize      int
	MaxCacheBatchWriteWait time.Duration
	MaxCacheBatchReadWait  time.Duration
	DefermentMaxSize       int
	DefermentTTL           time.Duration
}

type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// TimestampFormat is the format of the timestamp in the log output (e.g. 'Unix' or 'ISO8601')
	TimestampFormat string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

// Config defines the configuration of the load command.
type Config struct {
	Server  ServerConfig
	Cache   CacheConfig
	Loader  LoaderConfig
	Log     LogConfig
	Metrics MetricsConfig
	Trace   TraceConfig
}

// DefaultConfig returns the configuration used when no flag, environment
// variable or config file overrides a value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			RetryMax: 3,
			Burst:    1,
		},
		Cache: CacheConfig{
			Engine:          "memory",
			MaxOpenConns:    30,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 0,
			ConnMaxLifetime: 0,
			ConnectTimeout:  1 * time.Minute,
			GCInterval:      5 * time.Minute,
			WriterCapacity:  worker.DefaultCapacityBytes,
		},
		Loader: LoaderConfig{
			MaxDownloadBatchWait:   storage.DefaultMaxDownloadBatchWait,
			MaxCacheReadSize:       cachepump.DefaultMaxCacheReadSize,
			MaxCacheWriteSize:      cachepump.DefaultMaxCacheWriteSize,
			MaxWriteQueueSize:      cachepump.DefaultMaxWriteQueueSize,
			MaxCacheBatchWriteWait: cachepump.DefaultMaxCacheBatchWriteWait,
			MaxCacheBatchReadWait:  cachepump.DefaultMaxCacheBatchReadWait,
			DefermentMaxSize:       deferment.DefaultMaxSize,
			DefermentTTL:           deferment.DefaultTTL,
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "0.0.0.0:2112",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
			},
			SampleRatio: 0.2,
			ServiceName: "objectloader",
		},
	}
}

func (cfg *Config) Verify() error {
	if cfg.Server.URL == "" {
		return errors.New("config 'server.url' must be set")
	}

	if cfg.Server.StreamID == "" || cfg.Server.ObjectID == "" {
		return errors.New("configs 'server.streamId' and 'server.objectId' must be set")
	}

	if cfg.Server.RetryMax < 0 {
		return errors.New("config 'server.retryMax' must be a non-negative integer")
	}

	if cfg.Server.RequestsPerSecond < 0 {
		return errors.New("config 'server.requestsPerSecond' must be non-negative")
	}

	if cfg.Server.RequestsPerSecond > 0 && cfg.Server.Burst < 1 {
		return errors.New("config 'server.burst' must be at least 1 when requests are paced")
	}

	if !util.Contains(Engines, cfg.Cache.Engine) {
		return fmt.Errorf("config 'cache.engine' must be one of %v", Engines)
	}

	if cfg.Cache.Engine != "memory" && cfg.Cache.URI == "" {
		return fmt.Errorf("config 'cache.uri' must be set for the '%s' cache", cfg.Cache.Engine)
	}

	if cfg.Cache.OffloadWrites && cfg.Cache.WriterCapacity <= 0 {
		return errors.New("config 'cache.writerCapacity' must be greater than zero when writes are offloaded")
	}

	if cfg.Loader.MaxCacheReadSize <= 0 || cfg.Loader.MaxCacheWriteSize <= 0 {
		return errors.New("configs 'loader.maxCacheReadSize' and 'loader.maxCacheWriteSize' must be greater than zero")
	}

	if cfg.Loader.MaxWriteQueueSize < cfg.Loader.MaxCacheWriteSize {
		return fmt.Errorf(
			"config 'loader.maxWriteQueueSize' (%d) cannot be lower than 'loader.maxCacheWriteSize' (%d)",
			cfg.Loader.MaxWriteQueueSize,
			cfg.Loader.MaxCacheWriteSize,
		)
	}

	if cfg.Loader.MaxDownloadBatchWait <= 0 {
		return errors.New("config 'loader.maxDownloadBatchWait' must be a positive duration")
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if cfg.Log.Level != "none" &&
		cfg.Log.Level != "debug" &&
		cfg.Log.Level != "info" &&
		cfg.Log.Level != "warn" &&
		cfg.Log.Level != "error" {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error']",
		)
	}

	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("config 'metrics.addr' must be set when metrics are enabled")
	}

	if cfg.Trace.Enabled {
		if cfg.Trace.OTLP.Endpoint == "" {
			return errors.New("config 'trace.otlp.endpoint' must be set when tracing is enabled")
		}
		if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
			return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
		}
	}

	return nil
}

// ReadConfig returns the load configuration based on the values provided in the 'config.yaml' file.
// The 'config.yaml' file is loaded from '/etc/objectloader', '$HOME/.objectloader', or the current working directory. If no configuration
// file is present, the default values are returned.
func ReadConfig() (*Config, error) {
	config := DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}
