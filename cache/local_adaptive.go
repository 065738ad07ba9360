package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AdaptiveCacheFactory creates 2Q cache instances.
type AdaptiveCacheFactory struct {
	maxSize int
}

// NewAdaptiveCacheFactory creates a new adaptive cache factory.
func NewAdaptiveCacheFactory(maxSize int) LocalCacheFactory {
	return &AdaptiveCacheFactory{maxSize: maxSize}
}

// Create creates a new adaptive cache instance.
func (acf *AdaptiveCacheFactory) Create() (LocalCache, error) {
	return NewAdaptiveCache(acf.maxSize)
}

// AdaptiveCache tracks recently and frequently used entries separately
// (golang-lru's 2Q), so one scan over cold keys does not flush hot ones.
type AdaptiveCache struct {
	// mu makes the eviction count exact; the 2Q cache locks internally too.
	mu        sync.Mutex
	cache     *lru.TwoQueueCache[string, entry]
	hits      int64
	misses    int64
	evictions int64
}

// NewAdaptiveCache creates a new 2Q-based local cache.
func NewAdaptiveCache(maxSize int) (*AdaptiveCache, error) {
	cache, err := lru.New2Q[string, entry](maxSize)
	if err != nil {
		return nil, err
	}
	return &AdaptiveCache{cache: cache}, nil
}

// Get retrieves a value from the local cache.
func (ac *AdaptiveCache) Get(key string) ([]byte, bool) {
	e, found := ac.cache.Get(key)
	if found && e.expired(time.Now()) {
		ac.cache.Remove(key)
		found = false
	}
	if !found {
		atomic.AddInt64(&ac.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&ac.hits, 1)
	return e.value, true
}

// Set stores a value in the local cache.
func (ac *AdaptiveCache) Set(key string, value []byte, ttl time.Duration) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	existed := ac.cache.Contains(key)
	before := ac.cache.Len()
	ac.cache.Add(key, newEntry(value, ttl))
	if !existed && ac.cache.Len() == before {
		atomic.AddInt64(&ac.evictions, 1)
	}
	return true
}

// Delete removes values from the local cache.
func (ac *AdaptiveCache) Delete(keys ...string) {
	for _, key := range keys {
		ac.cache.Remove(key)
	}
}

// Clear removes all values from the local cache.
func (ac *AdaptiveCache) Clear() {
	ac.cache.Purge()
}

// Close closes the local cache.
func (ac *AdaptiveCache) Close() {
	ac.cache.Purge()
}

// Metrics returns cache metrics.
func (ac *AdaptiveCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&ac.hits),
		Misses:    atomic.LoadInt64(&ac.misses),
		Evictions: atomic.LoadInt64(&ac.evictions),
		Size:      int64(ac.cache.Len()),
	}
}
