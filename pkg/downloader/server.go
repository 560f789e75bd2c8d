// Package downloader fetches objects from a Speckle server.
package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/specklesystems/objectloader2/internal/batching"
	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/internal/concurrency"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var tracer = otel.Tracer("objectloader/pkg/downloader")

const (
	rawEncodingType = "Objects.Other.RawEncoding"

	// smallDownloadThreshold is the largest total served by a single worker.
	smallDownloadThreshold = 50

	maxMissingIDsReported = 10
	defaultYieldEvery     = 1000
	defaultYieldPause     = 100 * time.Millisecond
	defaultRetryMax       = 3
)

var (
	ErrNoAccess            = errors.New("You do not have access!")
	ErrFetchFailed         = errors.New("Failed to fetch objects")
	ErrInvalidLine         = errors.New("Invalid line format in response")
	ErrNotDownloaded       = errors.New("Items requested were not downloaded")
	ErrPoolNotInitialized  = errors.New("Download pool is not initialized")
	errPoolAlreadyAssigned = errors.New("download pool is already initialized")
)

var rawEncoding = []byte(rawEncodingType)

var (
	downloadedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "downloaded_objects_total",
		Help:      "The total number of object lines read from the server, by outcome.",
	}, []string{"outcome"})

	downloadedBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "downloaded_bytes_total",
		Help:      "The total number of object bytes read from the server.",
	})

	requestDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "download_request_duration_ms",
		Help:                            "The duration (in ms) of a server request including reading the body.",
		Buckets:                         []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"kind"})
)

// Options identifies what a ServerDownloader fetches.
type Options struct {
	ServerURL string
	StreamID  string
	ObjectID  string
	Token     string
	Headers   http.Header
}

// ServerDownloader implements [storage.Downloader] against the Speckle object
// API. It is also a [storage.PointFetcher].
type ServerDownloader struct {
	opts        Options
	client      *http.Client
	logger      logger.Logger
	limiter     *rate.Limiter
	retryMax    int
	yieldEvery  int
	yieldPause  time.Duration
	headers     http.Header
	rootURL     string
	childrenURL string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pool      *batching.BatchedPool[string] // GUARDED_BY(mu)
	results   storage.ResultQueue[*types.Item]
	total     int64
	processed atomic.Int64
	finished  sync.Once
	drainOnce sync.Once
}

var (
	_ storage.Downloader   = (*ServerDownloader)(nil)
	_ storage.PointFetcher = (*ServerDownloader)(nil)
)

type Option func(*ServerDownloader)

func WithLogger(l logger.Logger) Option {
	return func(d *ServerDownloader) {
		d.logger = l
	}
}

// WithHTTPClient replaces the retrying, traced default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *ServerDownloader) {
		d.client = c
	}
}

// WithRetryMax sets how often the default client retries a failed request.
func WithRetryMax(n int) Option {
	return func(d *ServerDownloader) {
		d.retryMax = n
	}
}

// WithRateLimit paces batch requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(d *ServerDownloader) {
		d.limiter = rate.NewLimiter(r, burst)
	}
}

// WithYield makes the line reader pause for pause after every n lines.
func WithYield(n int, pause time.Duration) Option {
	return func(d *ServerDownloader) {
		d.yieldEvery = n
		d.yieldPause = pause
	}
}

func NewServerDownloader(opts Options, options ...Option) *ServerDownloader {
	d := &ServerDownloader{
		opts:       opts,
		logger:     logger.NewNoopLogger(),
		retryMax:   defaultRetryMax,
		yieldEvery: defaultYieldEvery,
		yieldPause: defaultYieldPause,
	}
	for _, opt := range options {
		opt(d)
	}

	if d.client == nil {
		d.client = newRetryingClient(d.retryMax)
	}

	d.headers = make(http.Header)
	for k, v := range opts.Headers {
		d.headers[k] = append([]string(nil), v...)
	}
	d.headers.Set("Accept", "text/plain")
	if opts.Token != "" {
		d.headers.Set("Authorization", "Bearer "+opts.Token)
	}

	serverURL := strings.TrimSuffix(opts.ServerURL, "/")
	d.childrenURL = fmt.Sprintf("%s/api/getobjects/%s", serverURL, opts.StreamID)
	d.rootURL = fmt.Sprintf("%s/objects/%s/%s/single", serverURL, opts.StreamID, opts.ObjectID)

	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d
}

func newRetryingClient(retryMax int) *http.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = retryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	// hand the last response back so its status can be reported
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Transport = otelhttp.NewTransport(client.HTTPClient.Transport)
	return client.StandardClient()
}

// PoolSizes returns the batch size of each download worker for total objects.
func PoolSizes(total int) []int {
	if total <= smallDownloadThreshold {
		return []int{max(total, 1)}
	}
	return []int{10000, 25000, 10000, 1000}
}

// InitializePool implements [storage.Downloader].
func (d *ServerDownloader) InitializePool(params storage.PoolParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		return errPoolAlreadyAssigned
	}

	d.results = params.Results
	d.total = int64(params.Total)

	wait := params.MaxDownloadBatchWait
	if wait <= 0 {
		wait = storage.DefaultMaxDownloadBatchWait
	}

	d.pool = batching.NewBatchedPool(d.ctx, batching.PoolOptions[string]{
		ConcurrencyAndSizes: PoolSizes(params.Total),
		MaxWait:             wait,
		Process:             d.downloadBatch,
		OnError:             params.Results.Fail,
		Logger:              d.logger,
	})
	return nil
}

func (d *ServerDownloader) getPool() (*batching.BatchedPool[string], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil, ErrPoolNotInitialized
	}
	return d.pool, nil
}

// Add implements [storage.Downloader].
func (d *ServerDownloader) Add(id string) error {
	pool, err := d.getPool()
	if err != nil {
		return err
	}
	return pool.Add(id)
}

// Finish implements [storage.Downloader]. Once the pool drained without an
// error the results are finished, even when fewer than the pool total were
// requested or some requested objects were raw encoded.
func (d *ServerDownloader) Finish() error {
	pool, err := d.getPool()
	if err != nil {
		return err
	}
	pool.Finish()
	d.drainOnce.Do(func() {
		go func() {
			<-pool.Done()
			if pool.Err() == nil {
				d.finished.Do(d.results.Finish)
			}
		}()
	})
	return nil
}

// Dispose implements [storage.Downloader]. Processing errors were already
// reported through the pool's Results, so only ctx errors are returned.
func (d *ServerDownloader) Dispose(ctx context.Context) error {
	defer d.cancel()

	d.mu.Lock()
	pool := d.pool
	d.mu.Unlock()

	if pool == nil {
		return nil
	}
	if err := pool.Dispose(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// DownloadSingle implements [storage.Downloader]. A raw encoded root yields
// nil without an error.
func (d *ServerDownloader) DownloadSingle(ctx context.Context) (*types.Item, error) {
	ctx, span := tracer.Start(ctx, "downloader.DownloadSingle")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDurationHistogram.WithLabelValues("single").Observe(float64(time.Since(start).Milliseconds()))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.rootURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = d.headers.Clone()

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download root object: %w", err)
	}
	defer resp.Body.Close()

	if err := validateResponse(resp); err != nil {
		span.RecordError(err)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read root object: %w", err)
	}
	downloadedBytesCounter.Add(float64(len(body)))

	if bytes.Contains(body, rawEncoding) {
		return nil, nil
	}

	item, err := types.ParseItem(d.opts.ObjectID, body)
	if err != nil {
		return nil, err
	}
	item.Size = 0
	return item, nil
}

// FetchItems implements [storage.PointFetcher] with one batch request. Ids
// the server does not return are absent from the result.
func (d *ServerDownloader) FetchItems(ctx context.Context, ids []string) ([]*types.Item, error) {
	items := make([]*types.Item, 0, len(ids))
	_, err := d.fetch(ctx, ids, func(item *types.Item) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (d *ServerDownloader) downloadBatch(ctx context.Context, batch []string) error {
	ctx, span := tracer.Start(ctx, "downloader.downloadBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(batch)))

	missing, err := d.fetch(ctx, batch, func(item *types.Item) error {
		return d.results.Add(item)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: %s", ErrNotDownloaded, strings.Join(missing[:min(len(missing), maxMissingIDsReported)], ","))
		span.RecordError(err)
		return err
	}

	if d.processed.Add(int64(len(batch))) >= d.total {
		d.finished.Do(d.results.Finish)
	}
	return nil
}

// fetch posts ids and hands every decodable object to deliver. It returns the
// requested ids that were not present in the response, in request order. A
// deliver error means the consumer is gone and stops reading without an error.
func (d *ServerDownloader) fetch(ctx context.Context, ids []string, deliver func(*types.Item) error) ([]string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	defer func() {
		requestDurationHistogram.WithLabelValues("batch").Observe(float64(time.Since(start).Milliseconds()))
	}()

	encodedIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]string{"objects": string(encodedIDs)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.childrenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header = d.headers.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download objects: %w", err)
	}
	defer resp.Body.Close()

	if err := validateResponse(resp); err != nil {
		return nil, err
	}

	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	reader := bufio.NewReader(resp.Body)
	count := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read objects: %w", readErr)
		}

		line = bytes.TrimSuffix(line, []byte("\n"))
		if len(line) > 0 {
			item, err := parseLine(line)
			if err != nil {
				return nil, err
			}
			delete(pending, item.BaseID)

			count++
			if d.yieldEvery > 0 && count%d.yieldEvery == 0 {
				if err := concurrency.Sleep(ctx, d.yieldPause); err != nil {
					return nil, err
				}
			}

			if item.Base == nil {
				downloadedCounter.WithLabelValues("skipped").Inc()
			} else {
				downloadedCounter.WithLabelValues("delivered").Inc()
				downloadedBytesCounter.Add(float64(item.Size))
				if err := deliver(item); err != nil {
					d.logger.Debug("stopped reading objects", zap.Error(err))
					return nil, nil
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := pending[id]; ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// parseLine decodes one "<id>\t<json>" line. Raw encoded objects come back
// without a Base.
func parseLine(line []byte) (*types.Item, error) {
	tab := bytes.IndexByte(line, '\t')
	if tab < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLine, line)
	}

	baseID := string(line[:tab])
	data := line[tab+1:]
	if bytes.Contains(data, rawEncoding) {
		return &types.Item{BaseID: baseID}, nil
	}

	item, err := types.ParseItem(baseID, data)
	if err != nil {
		return nil, err
	}
	item.Size = len(data)
	return item, nil
}

func validateResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrNoAccess
	}
	return fmt.Errorf("%w: %d %s", ErrFetchFailed, resp.StatusCode, http.StatusText(resp.StatusCode))
}
