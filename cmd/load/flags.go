package load

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specklesystems/objectloader2/cmd/util"
)

// bindLoadFlags binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindLoadFlags(command *cobra.Command) {
	defaultConfig := DefaultConfig()
	flags := command.Flags()

	flags.String("server-url", defaultConfig.Server.URL, "the base url of the Speckle server (e.g. 'https://app.speckle.systems')")
	util.MustBindPFlag("server.url", flags.Lookup("server-url"))
	util.MustBindEnv("server.url", "OBJECTLOADER_SERVER_URL")

	flags.String("server-token", defaultConfig.Server.Token, "the bearer token sent with every request")
	util.MustBindPFlag("server.token", flags.Lookup("server-token"))
	util.MustBindEnv("server.token", "OBJECTLOADER_SERVER_TOKEN")

	flags.String("stream-id", defaultConfig.Server.StreamID, "the id of the stream (project) that owns the object")
	util.MustBindPFlag("server.streamId", flags.Lookup("stream-id"))
	util.MustBindEnv("server.streamId", "OBJECTLOADER_SERVER_STREAM_ID", "OBJECTLOADER_SERVER_STREAMID")

	flags.String("object-id", defaultConfig.Server.ObjectID, "the id of the root object to load")
	util.MustBindPFlag("server.objectId", flags.Lookup("object-id"))
	util.MustBindEnv("server.objectId", "OBJECTLOADER_SERVER_OBJECT_ID", "OBJECTLOADER_SERVER_OBJECTID")

	flags.StringToString("server-headers", defaultConfig.Server.Headers, "extra headers sent with every request (e.g. 'X-Client=cli')")
	util.MustBindPFlag("server.headers", flags.Lookup("server-headers"))

	flags.Int("server-retry-max", defaultConfig.Server.RetryMax, "how often a failed request is retried")
	util.MustBindPFlag("server.retryMax", flags.Lookup("server-retry-max"))
	util.MustBindEnv("server.retryMax", "OBJECTLOADER_SERVER_RETRY_MAX", "OBJECTLOADER_SERVER_RETRYMAX")

	flags.Float64("server-requests-per-second", defaultConfig.Server.RequestsPerSecond, "the rate at which batch requests are sent (0 disables pacing)")
	util.MustBindPFlag("server.requestsPerSecond", flags.Lookup("server-requests-per-second"))
	util.MustBindEnv("server.requestsPerSecond", "OBJECTLOADER_SERVER_REQUESTS_PER_SECOND", "OBJECTLOADER_SERVER_REQUESTSPERSECOND")

	flags.Int("server-burst", defaultConfig.Server.Burst, "the number of batch requests allowed at once when requests are paced")
	util.MustBindPFlag("server.burst", flags.Lookup("server-burst"))
	util.MustBindEnv("server.burst", "OBJECTLOADER_SERVER_BURST")

	flags.String("cache-engine", defaultConfig.Cache.Engine, fmt.Sprintf("the engine of the local object cache. Allowed values: %v", Engines))
	util.MustBindPFlag("cache.engine", flags.Lookup("cache-engine"))
	util.MustBindEnv("cache.engine", "OBJECTLOADER_CACHE_ENGINE")

	flags.String("cache-uri", defaultConfig.Cache.URI, "the connection uri (or directory, for badger) of the object cache")
	util.MustBindPFlag("cache.uri", flags.Lookup("cache-uri"))
	util.MustBindEnv("cache.uri", "OBJECTLOADER_CACHE_URI")

	flags.String("cache-username", defaultConfig.Cache.Username, "overwrite the username in the cache connection string")
	util.MustBindPFlag("cache.username", flags.Lookup("cache-username"))
	util.MustBindEnv("cache.username", "OBJECTLOADER_CACHE_USERNAME")

	flags.String("cache-password", defaultConfig.Cache.Password, "overwrite the password in the cache connection string")
	util.MustBindPFlag("cache.password", flags.Lookup("cache-password"))
	util.MustBindEnv("cache.password", "OBJECTLOADER_CACHE_PASSWORD")

	flags.Uint32("cache-max-concurrent-calls", defaultConfig.Cache.MaxConcurrentCalls, "the maximum number of calls in flight against the cache (0 is unbounded)")
	util.MustBindPFlag("cache.maxConcurrentCalls", flags.Lookup("cache-max-concurrent-calls"))
	util.MustBindEnv("cache.maxConcurrentCalls", "OBJECTLOADER_CACHE_MAX_CONCURRENT_CALLS", "OBJECTLOADER_CACHE_MAXCONCURRENTCALLS")

	flags.Int("cache-max-open-conns", defaultConfig.Cache.MaxOpenConns, "the maximum number of open connections to the cache database")
	util.MustBindPFlag("cache.maxOpenConns", flags.Lookup("cache-max-open-conns"))
	util.MustBindEnv("cache.maxOpenConns", "OBJECTLOADER_CACHE_MAX_OPEN_CONNS", "OBJECTLOADER_CACHE_MAXOPENCONNS")

	flags.Int("cache-max-idle-conns", defaultConfig.Cache.MaxIdleConns, "the maximum number of idle connections to the cache database")
	util.MustBindPFlag("cache.maxIdleConns", flags.Lookup("cache-max-idle-conns"))
	util.MustBindEnv("cache.maxIdleConns", "OBJECTLOADER_CACHE_MAX_IDLE_CONNS", "OBJECTLOADER_CACHE_MAXIDLECONNS")

	flags.Duration("cache-conn-max-idle-time", defaultConfig.Cache.ConnMaxIdleTime, "the maximum amount of time a connection to the cache database can be idle")
	util.MustBindPFlag("cache.connMaxIdleTime", flags.Lookup("cache-conn-max-idle-time"))
	util.MustBindEnv("cache.connMaxIdleTime", "OBJECTLOADER_CACHE_CONN_MAX_IDLE_TIME", "OBJECTLOADER_CACHE_CONNMAXIDLETIME")

	flags.Duration("cache-conn-max-lifetime", defaultConfig.Cache.ConnMaxLifetime, "the maximum amount of time a connection to the cache database can be reused")
	util.MustBindPFlag("cache.connMaxLifetime", flags.Lookup("cache-conn-max-lifetime"))
	util.MustBindEnv("cache.connMaxLifetime", "OBJECTLOADER_CACHE_CONN_MAX_LIFETIME", "OBJECTLOADER_CACHE_CONNMAXLIFETIME")

	flags.Duration("cache-connect-timeout", defaultConfig.Cache.ConnectTimeout, "how long to wait for the cache database to accept connections")
	util.MustBindPFlag("cache.connectTimeout", flags.Lookup("cache-connect-timeout"))
	util.MustBindEnv("cache.connectTimeout", "OBJECTLOADER_CACHE_CONNECT_TIMEOUT", "OBJECTLOADER_CACHE_CONNECTTIMEOUT")

	flags.Bool("cache-metrics-enabled", defaultConfig.Cache.Metrics, "enable/disable prometheus metrics of the cache database pool")
	util.MustBindPFlag("cache.metrics", flags.Lookup("cache-metrics-enabled"))
	util.MustBindEnv("cache.metrics", "OBJECTLOADER_CACHE_METRICS_ENABLED")

	flags.Duration("cache-gc-interval", defaultConfig.Cache.GCInterval, "how often a badger cache collects its value log (0 disables collection)")
	util.MustBindPFlag("cache.gcInterval", flags.Lookup("cache-gc-interval"))
	util.MustBindEnv("cache.gcInterval", "OBJECTLOADER_CACHE_GC_INTERVAL", "OBJECTLOADER_CACHE_GCINTERVAL")

	flags.Bool("cache-offload-writes", defaultConfig.Cache.OffloadWrites, "write to the cache from a separate writer fed through a ring buffer")
	util.MustBindPFlag("cache.offloadWrites", flags.Lookup("cache-offload-writes"))
	util.MustBindEnv("cache.offloadWrites", "OBJECTLOADER_CACHE_OFFLOAD_WRITES", "OBJECTLOADER_CACHE_OFFLOADWRITES")

	flags.Int("cache-writer-capacity", defaultConfig.Cache.WriterCapacity, "the size in bytes of the ring buffer shared with the cache writer")
	util.MustBindPFlag("cache.writerCapacity", flags.Lookup("cache-writer-capacity"))
	util.MustBindEnv("cache.writerCapacity", "OBJECTLOADER_CACHE_WRITER_CAPACITY", "OBJECTLOADER_CACHE_WRITERCAPACITY")

	flags.Duration("max-download-batch-wait", defaultConfig.Loader.MaxDownloadBatchWait, "how long the downloader waits to fill a batch")
	util.MustBindPFlag("loader.maxDownloadBatchWait", flags.Lookup("max-download-batch-wait"))
	util.MustBindEnv("loader.maxDownloadBatchWait", "OBJECTLOADER_MAX_DOWNLOAD_BATCH_WAIT")

	flags.Int("max-cache-read-size", defaultConfig.Loader.MaxCacheReadSize, "the maximum number of ids read from the cache in one call")
	util.MustBindPFlag("loader.maxCacheReadSize", flags.Lookup("max-cache-read-size"))
	util.MustBindEnv("loader.maxCacheReadSize", "OBJECTLOADER_MAX_CACHE_READ_SIZE")

	flags.Int("max-cache-write-size", defaultConfig.Loader.MaxCacheWriteSize, "the maximum number of objects written to the cache in one call")
	util.MustBindPFlag("loader.maxCacheWriteSize", flags.Lookup("max-cache-write-size"))
	util.MustBindEnv("loader.maxCacheWriteSize", "OBJECTLOADER_MAX_CACHE_WRITE_SIZE")

	flags.Int("max-write-queue-size", defaultConfig.Loader.MaxWriteQueueSize, "the number of pending cache writes after which downloads pause")
	util.MustBindPFlag("loader.maxWriteQueueSize", flags.Lookup("max-write-queue-size"))
	util.MustBindEnv("loader.maxWriteQueueSize", "OBJECTLOADER_MAX_WRITE_QUEUE_SIZE")

	flags.Duration("max-cache-batch-write-wait", defaultConfig.Loader.MaxCacheBatchWriteWait, "how long pending cache writes wait to fill a batch")
	util.MustBindPFlag("loader.maxCacheBatchWriteWait", flags.Lookup("max-cache-batch-write-wait"))
	util.MustBindEnv("loader.maxCacheBatchWriteWait", "OBJECTLOADER_MAX_CACHE_BATCH_WRITE_WAIT")

	flags.Duration("max-cache-batch-read-wait", defaultConfig.Loader.MaxCacheBatchReadWait, "how long pending cache reads wait to fill a batch")
	util.MustBindPFlag("loader.maxCacheBatchReadWait", flags.Lookup("max-cache-batch-read-wait"))
	util.MustBindEnv("loader.maxCacheBatchReadWait", "OBJECTLOADER_MAX_CACHE_BATCH_READ_WAIT")

	flags.Int("deferment-max-size", defaultConfig.Loader.DefermentMaxSize, "the maximum number of objects kept for point lookups")
	util.MustBindPFlag("loader.defermentMaxSize", flags.Lookup("deferment-max-size"))
	util.MustBindEnv("loader.defermentMaxSize", "OBJECTLOADER_DEFERMENT_MAX_SIZE")

	flags.Duration("deferment-ttl", defaultConfig.Loader.DefermentTTL, "how long an object is kept for point lookups")
	util.MustBindPFlag("loader.defermentTTL", flags.Lookup("deferment-ttl"))
	util.MustBindEnv("loader.defermentTTL", "OBJECTLOADER_DEFERMENT_TTL")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "OBJECTLOADER_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn', 'error')")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "OBJECTLOADER_LOG_LEVEL")

	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages ('Unix' or 'ISO8601')")
	util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
	util.MustBindEnv("log.timestampFormat", "OBJECTLOADER_LOG_TIMESTAMP_FORMAT")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")
	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "OBJECTLOADER_METRICS_ENABLED")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")
	util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	util.MustBindEnv("metrics.addr", "OBJECTLOADER_METRICS_ADDR")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
	util.MustBindEnv("trace.enabled", "OBJECTLOADER_TRACE_ENABLED")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")
	util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
	util.MustBindEnv("trace.otlp.endpoint", "OBJECTLOADER_TRACE_OTLP_ENDPOINT")

	flags.Bool("trace-otlp-tls-enabled", defaultConfig.Trace.OTLP.TLS.Enabled, "use TLS connection for trace collector")
	util.MustBindPFlag("trace.otlp.tls.enabled", flags.Lookup("trace-otlp-tls-enabled"))
	util.MustBindEnv("trace.otlp.tls.enabled", "OBJECTLOADER_TRACE_OTLP_TLS_ENABLED")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")
	util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
	util.MustBindEnv("trace.sampleRatio", "OBJECTLOADER_TRACE_SAMPLE_RATIO")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")
	util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
	util.MustBindEnv("trace.serviceName", "OBJECTLOADER_TRACE_SERVICE_NAME")
}
