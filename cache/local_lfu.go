package cache

import (
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache is a local LFU cache implementation using ristretto.
// An entry costs its length in bytes against MaxCost.
type LFUCache struct {
	cache     *lfu.Cache
	maxCost   int64
	hits      int64
	misses    int64
	evictions int64
	size      int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	numCounters := config.NumCounters
	if numCounters <= 0 {
		numCounters = int64(config.MaxSize) * 10
	}
	bufferItems := config.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}

	rc := &LFUCache{maxCost: config.MaxCost}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        numCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        bufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&rc.evictions, 1)
			atomic.AddInt64(&rc.size, -1)
		},
	})
	if err != nil {
		return nil, err
	}
	rc.cache = cache

	return rc, nil
}

// Get retrieves a value from the local cache. Ristretto drops expired
// entries on read.
func (rc *LFUCache) Get(key string) ([]byte, bool) {
	value, found := rc.cache.Get(key)
	if !found {
		atomic.AddInt64(&rc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&rc.hits, 1)
	return value.([]byte), true
}

// Set stores a value in the local cache. Ristretto admits entries
// asynchronously; Set waits for the write buffer so a following Get
// observes it, and reports false when the policy turned the entry away.
func (rc *LFUCache) Set(key string, value []byte, ttl time.Duration) bool {
	cost := int64(len(value)) + 1
	if cost > rc.maxCost {
		return false
	}

	_, existed := rc.cache.GetTTL(key)
	if !rc.cache.SetWithTTL(key, append([]byte(nil), value...), cost, ttl) {
		return false
	}
	rc.cache.Wait()

	if _, ok := rc.cache.GetTTL(key); !ok {
		return false
	}
	if !existed {
		atomic.AddInt64(&rc.size, 1)
	}
	return true
}

// Delete removes values from the local cache.
func (rc *LFUCache) Delete(keys ...string) {
	for _, key := range keys {
		if _, found := rc.cache.GetTTL(key); found {
			atomic.AddInt64(&rc.size, -1)
		}
		rc.cache.Del(key)
	}
}

// Clear removes all values from the local cache.
func (rc *LFUCache) Clear() {
	// Clear may report cleared items through OnEvict; those are not evictions.
	evictions := atomic.LoadInt64(&rc.evictions)
	rc.cache.Clear()
	atomic.StoreInt64(&rc.evictions, evictions)
	atomic.StoreInt64(&rc.size, 0)
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics. Size is approximate.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	size := atomic.LoadInt64(&rc.size)
	if size < 0 {
		size = 0
	}
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
		Size:      size,
	}
}
