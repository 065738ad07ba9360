package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory creates LRU cache instances.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a new LRU cache factory.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create creates a new LRU cache instance.
func (lcf *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(lcf.maxSize)
}

// LRUCache is a local LRU cache implementation using golang-lru.
type LRUCache struct {
	cache     *lru.Cache[string, entry]
	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates a new LRU-based local cache.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	cache, err := lru.New[string, entry](maxSize)
	if err != nil {
		return nil, err
	}

	return &LRUCache{cache: cache}, nil
}

// Get retrieves a value from the local cache.
func (lc *LRUCache) Get(key string) ([]byte, bool) {
	e, found := lc.cache.Get(key)
	if found && e.expired(time.Now()) {
		lc.cache.Remove(key)
		found = false
	}
	if !found {
		atomic.AddInt64(&lc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&lc.hits, 1)
	return e.value, true
}

// Set stores a value in the local cache.
func (lc *LRUCache) Set(key string, value []byte, ttl time.Duration) bool {
	if evicted := lc.cache.Add(key, newEntry(value, ttl)); evicted {
		atomic.AddInt64(&lc.evictions, 1)
	}
	return true
}

// Delete removes values from the local cache.
func (lc *LRUCache) Delete(keys ...string) {
	for _, key := range keys {
		lc.cache.Remove(key)
	}
}

// Clear removes all values from the local cache.
func (lc *LRUCache) Clear() {
	lc.cache.Purge()
}

// Close closes the local cache.
func (lc *LRUCache) Close() {
	lc.cache.Purge()
}

// Metrics returns cache metrics.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.Len()),
	}
}
