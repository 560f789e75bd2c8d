package deferment

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/logger"
	"github.com/specklesystems/objectloader2/pkg/storage"
	"github.com/specklesystems/objectloader2/pkg/types"
)

const (
	DefaultMaxSize         = 50000
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = 30 * time.Second
	defaultCacheSize       = 10000
)

var (
	outstandingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "deferment_outstanding",
		Help:      "The number of ids currently in flight.",
	})

	evictionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "deferment_evictions_total",
		Help:      "The total number of in-flight ids dropped before they were delivered.",
	}, []string{"reason"})

	dedupHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "deferment_dedup_hits_total",
		Help:      "The total number of Defer calls answered by the memory cache or an in-flight request.",
	})
)

// orderEntry marks when a record was last touched. Entries whose generation no
// longer matches their record are stale and skipped.
type orderEntry struct {
	id         string
	generation uint64
}

// Manager is the TTL bounded, size capped Deferment.
type Manager struct {
	mu         sync.Mutex
	records    map[string]*Deferred
	order      *linkedlistqueue.Queue
	generation uint64
	disposed   bool

	cache      storage.InMemoryCache[*types.Item]
	ownsCache  bool
	cacheTTL   time.Duration
	logger     logger.Logger
	maxSize    int
	ttl        time.Duration
	cleanupInt time.Duration
	now        func() time.Time

	stop    chan struct{}
	stopped sync.WaitGroup
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithCache shares an existing memory cache. The caller keeps ownership.
func WithCache(c storage.InMemoryCache[*types.Item]) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithCacheTTL bounds how long delivered items are served from memory. Zero
// keeps them until the cache evicts them.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.cacheTTL = ttl
	}
}

func WithMaxSize(n int) Option {
	return func(m *Manager) {
		m.maxSize = n
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithCleanupInterval sets the background purge period. Zero disables it.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.cleanupInt = d
	}
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		records:    make(map[string]*Deferred),
		order:      linkedlistqueue.New(),
		logger:     logger.NewNoopLogger(),
		maxSize:    DefaultMaxSize,
		ttl:        DefaultTTL,
		cleanupInt: DefaultCleanupInterval,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.cache == nil {
		m.cache = storage.MustNewInMemoryLRUCache[*types.Item](storage.WithMaxCacheSize[*types.Item](defaultCacheSize))
		m.ownsCache = true
	}

	if m.cleanupInt > 0 {
		m.stopped.Add(1)
		go m.cleanupLoop()
	}

	return m
}

func (m *Manager) cleanupLoop() {
	defer m.stopped.Done()

	ticker := time.NewTicker(m.cleanupInt)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if !m.disposed {
				m.purgeLocked()
			}
			m.mu.Unlock()
		}
	}
}

// Defer implements [Deferment].
func (m *Manager) Defer(id string) (*Deferred, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, false, ErrDisposed
	}

	m.purgeLocked()

	if item := m.cache.Get(id); item != nil && item.Base != nil {
		dedupHitCounter.Inc()
		return resolvedDeferred(id, item.Base), true, nil
	}

	if d, ok := m.records[id]; ok {
		dedupHitCounter.Inc()
		m.touchLocked(d)
		return d, true, nil
	}

	d := newDeferred(id, m.now())
	m.records[id] = d
	m.touchLocked(d)
	m.evictOverflowLocked()
	outstandingGauge.Set(float64(len(m.records)))

	return d, false, nil
}

// Undefer implements [Deferment].
func (m *Manager) Undefer(item *types.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}

	if item == nil || item.Base == nil {
		m.logger.Error("undefer called with no base", zap.Any("item", item))
		return nil
	}

	m.cache.Set(item.BaseID, item, m.cacheTTL)

	if d, ok := m.records[item.BaseID]; ok {
		delete(m.records, item.BaseID)
		d.resolve(item.Base, nil)
	}

	m.purgeLocked()
	outstandingGauge.Set(float64(len(m.records)))

	return nil
}

// Reject implements [Deferment]. Nothing is cached, so a later Defer for id
// starts a new request.
func (m *Manager) Reject(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.records[id]; ok {
		delete(m.records, id)
		d.resolve(nil, err)
		outstandingGauge.Set(float64(len(m.records)))
	}
}

// Dispose implements [Deferment]. Outstanding records are dropped without
// being resolved.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.records = make(map[string]*Deferred)
	m.order.Clear()
	m.mu.Unlock()

	close(m.stop)
	m.stopped.Wait()

	if m.ownsCache {
		m.cache.Stop()
	}
	outstandingGauge.Set(0)
}

// Len returns the number of outstanding records.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Manager) touchLocked(d *Deferred) {
	m.generation++
	d.generation = m.generation
	d.lastAccess = m.now()
	m.order.Enqueue(orderEntry{id: d.id, generation: d.generation})

	// drop stale entries once they dominate the queue
	if m.order.Size() > 2*len(m.records)+1024 {
		m.compactLocked()
	}
}

// oldestLocked returns the least recently touched live record, discarding
// stale order entries on the way.
func (m *Manager) oldestLocked() *Deferred {
	for {
		v, ok := m.order.Peek()
		if !ok {
			return nil
		}
		e := v.(orderEntry)
		if d, live := m.records[e.id]; live && d.generation == e.generation {
			return d
		}
		m.order.Dequeue()
	}
}

func (m *Manager) purgeLocked() {
	if m.ttl <= 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	for d := m.oldestLocked(); d != nil && !d.lastAccess.After(cutoff); d = m.oldestLocked() {
		m.dropLocked(d, ErrDefermentExpired, "expired")
	}
}

func (m *Manager) evictOverflowLocked() {
	if m.maxSize <= 0 {
		return
	}
	for len(m.records) > m.maxSize {
		d := m.oldestLocked()
		if d == nil {
			return
		}
		m.dropLocked(d, ErrDefermentEvicted, "size")
	}
}

func (m *Manager) dropLocked(d *Deferred, err error, reason string) {
	m.order.Dequeue()
	delete(m.records, d.id)
	d.resolve(nil, err)
	evictionCounter.WithLabelValues(reason).Inc()
	m.logger.Debug("deferment dropped", zap.String("id", d.id), zap.String("reason", reason))
}

func (m *Manager) compactLocked() {
	live := linkedlistqueue.New()
	for !m.order.Empty() {
		v, _ := m.order.Dequeue()
		e := v.(orderEntry)
		if d, ok := m.records[e.id]; ok && d.generation == e.generation {
			live.Enqueue(e)
		}
	}
	m.order = live
}
