//go:generate mockgen -source cache.go -destination ../../internal/mocks/mock_cache.go -package mocks cache

package storage

import (
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
)

const defaultMaxCacheSize = 10000

// InMemoryCache is a general purpose cache to store things in memory.
type InMemoryCache[T any] interface {

	// Get If the key exists, returns the value. If the key didn't exist, returns the zero value.
	Get(key string) T

	// Set stores value under key. A ttl of zero keeps the entry until it is evicted.
	Set(key string, value T, ttl time.Duration)

	Delete(key string)

	Len() int

	// Stop cleans resources.
	Stop()
}

// Specific implementation

type InMemoryLRUCache[T any] struct {
	cache       *theine.Cache[string, T]
	maxElements int64
	closeOnce   *sync.Once
}

type InMemoryLRUCacheOpt[T any] func(i *InMemoryLRUCache[T])

func WithMaxCacheSize[T any](maxElements int64) InMemoryLRUCacheOpt[T] {
	return func(i *InMemoryLRUCache[T]) {
		i.maxElements = maxElements
	}
}

var _ InMemoryCache[any] = (*InMemoryLRUCache[any])(nil)

func NewInMemoryLRUCache[T any](opts ...InMemoryLRUCacheOpt[T]) (*InMemoryLRUCache[T], error) {
	t := &InMemoryLRUCache[T]{
		maxElements: defaultMaxCacheSize,
		closeOnce:   &sync.Once{},
	}

	for _, opt := range opts {
		opt(t)
	}

	cache, err := theine.NewBuilder[string, T](t.maxElements).Build()
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

// MustNewInMemoryLRUCache is NewInMemoryLRUCache that panics on a bad size.
func MustNewInMemoryLRUCache[T any](opts ...InMemoryLRUCacheOpt[T]) *InMemoryLRUCache[T] {
	c, err := NewInMemoryLRUCache(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (i *InMemoryLRUCache[T]) Get(key string) T {
	value, _ := i.cache.Get(key)
	return value
}

func (i *InMemoryLRUCache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		i.cache.Set(key, value, 1)
		return
	}
	i.cache.SetWithTTL(key, value, 1, ttl)
}

func (i *InMemoryLRUCache[T]) Delete(key string) {
	i.cache.Delete(key)
}

func (i *InMemoryLRUCache[T]) Len() int {
	return i.cache.Len()
}

func (i *InMemoryLRUCache[T]) Stop() {
	i.closeOnce.Do(func() {
		i.cache.Close()
	})
}
