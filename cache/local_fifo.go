package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/edwingeng/deque/v2"
)

// fifoLifeWindow keeps bigcache's own time-based eviction out of the way;
// per-entry expiry is stored in the entry header instead.
const fifoLifeWindow = 10 * 365 * 24 * time.Hour

// FIFOCacheFactory creates bigcache instances.
type FIFOCacheFactory struct {
	config LocalCacheConfig
}

// NewFIFOCacheFactory creates a new FIFO cache factory.
func NewFIFOCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &FIFOCacheFactory{config: config}
}

// Create creates a new FIFO cache instance.
func (fcf *FIFOCacheFactory) Create() (LocalCache, error) {
	return NewFIFOCache(fcf.config)
}

// FIFOCache is a local cache on bigcache, bounded by MaxSize entries and
// HardMaxCacheSizeMB megabytes. Past either bound the oldest entries are
// dropped first, regardless of access.
type FIFOCache struct {
	cache     *bigcache.BigCache
	maxSize   int
	hits      int64
	misses    int64
	evictions int64

	// mu guards the insertion order. order may hold stale entries for
	// deleted or re-inserted keys; seqs says which entry is current.
	mu    sync.Mutex
	order *deque.Deque[fifoSlot]
	seqs  map[string]uint64
	seq   uint64
}

type fifoSlot struct {
	key string
	seq uint64
}

// NewFIFOCache creates a new bigcache-based local cache.
func NewFIFOCache(config LocalCacheConfig) (*FIFOCache, error) {
	shards := config.Shards
	if shards <= 0 {
		shards = 64
	}

	fc := &FIFOCache{
		maxSize: config.MaxSize,
		order:   deque.NewDeque[fifoSlot](),
		seqs:    make(map[string]uint64),
	}
	cfg := bigcache.DefaultConfig(fifoLifeWindow)
	cfg.Shards = shards
	cfg.CleanWindow = 0
	// Only sizes the initial shards; MaxSize is enforced in Set.
	cfg.MaxEntriesInWindow = config.MaxSize
	cfg.HardMaxCacheSize = config.HardMaxCacheSizeMB
	cfg.StatsEnabled = false
	cfg.Verbose = false
	cfg.OnRemoveWithReason = func(key string, entry []byte, reason bigcache.RemoveReason) {
		if reason == bigcache.NoSpace || reason == bigcache.Expired {
			atomic.AddInt64(&fc.evictions, 1)
		}
	}

	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	fc.cache = cache
	return fc, nil
}

// Get retrieves a value from the local cache.
func (fc *FIFOCache) Get(key string) ([]byte, bool) {
	raw, err := fc.cache.Get(key)
	if err != nil {
		atomic.AddInt64(&fc.misses, 1)
		return nil, false
	}
	e, ok := decodeEntry(raw)
	if !ok || e.expired(time.Now()) {
		fc.Delete(key)
		atomic.AddInt64(&fc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&fc.hits, 1)
	return e.value, true
}

// Set stores a value in the local cache. A new key past MaxSize evicts the
// oldest entries. Updating a key keeps its place in the queue.
func (fc *FIFOCache) Set(key string, value []byte, ttl time.Duration) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := fc.cache.Set(key, encodeEntry(newEntry(value, ttl))); err != nil {
		return false
	}
	if _, ok := fc.seqs[key]; !ok {
		fc.seq++
		fc.seqs[key] = fc.seq
		fc.order.PushBack(fifoSlot{key: key, seq: fc.seq})
	}

	for fc.maxSize > 0 && len(fc.seqs) > fc.maxSize && fc.order.Len() > 0 {
		slot := fc.order.PopFront()
		if fc.seqs[slot.key] != slot.seq {
			continue
		}
		delete(fc.seqs, slot.key)
		if fc.cache.Delete(slot.key) == nil {
			atomic.AddInt64(&fc.evictions, 1)
		}
	}
	fc.compact()
	return true
}

// compact drops stale queue entries once they outnumber live ones.
func (fc *FIFOCache) compact() {
	if fc.order.Len() <= 2*len(fc.seqs)+64 {
		return
	}
	live := deque.NewDeque[fifoSlot]()
	for fc.order.Len() > 0 {
		slot := fc.order.PopFront()
		if fc.seqs[slot.key] == slot.seq {
			live.PushBack(slot)
		}
	}
	fc.order = live
}

// Delete removes values from the local cache.
func (fc *FIFOCache) Delete(keys ...string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, key := range keys {
		delete(fc.seqs, key)
		_ = fc.cache.Delete(key)
	}
}

// Clear removes all values from the local cache.
func (fc *FIFOCache) Clear() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_ = fc.cache.Reset()
	fc.seqs = make(map[string]uint64)
	fc.order = deque.NewDeque[fifoSlot]()
}

// Close closes the local cache.
func (fc *FIFOCache) Close() {
	_ = fc.cache.Close()
}

// Metrics returns cache metrics.
func (fc *FIFOCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&fc.hits),
		Misses:    atomic.LoadInt64(&fc.misses),
		Evictions: atomic.LoadInt64(&fc.evictions),
		Size:      int64(fc.cache.Len()),
	}
}
