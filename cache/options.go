package cache

import (
	"fmt"
	"time"

	"github.com/fengzhizi715/multi-level-cache/bloom"
	"github.com/fengzhizi715/multi-level-cache/storage"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// Enabled turns the local layer on. When false every operation goes
	// straight to the remote store.
	Enabled bool

	// Policy selects the eviction strategy. Ignored when
	// Options.LocalCacheFactory is set.
	Policy Policy

	// MaxSize is the maximum number of entries (LRU, adaptive and FIFO).
	// LFU is bounded by MaxCost instead.
	MaxSize int

	// DefaultTTL caps how long a local copy lives. Zero means local entries
	// follow the remote TTL only.
	DefaultTTL time.Duration

	// NumCounters is the number of counters for the cache (Ristretto only).
	// Zero derives 10 * MaxSize.
	NumCounters int64

	// MaxCost is the byte budget of the cache (Ristretto only).
	// Recommended: 1GB = 1 << 30
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// Shards is the number of bigcache shards, a power of two (FIFO only).
	Shards int

	// HardMaxCacheSizeMB also bounds the FIFO cache memory in megabytes.
	// Zero leaves memory bounded by MaxSize alone.
	HardMaxCacheSizeMB int
}

// Options configures a Coordinator instance.
type Options struct {
	// PodID is the unique identifier for this pod/instance.
	// Used to avoid self-invalidation in pub/sub.
	PodID string

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory overrides the policy-selected factory.
	LocalCacheFactory LocalCacheFactory

	// RedisAddrs lists the Redis endpoints. One address selects a
	// standalone client, several a cluster client.
	RedisAddrs []string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// RedisMasterName selects a sentinel-backed client when set.
	RedisMasterName string

	// RedisPoolSize is the connection pool size. Zero keeps the client default.
	RedisPoolSize int

	// DialTimeout, ReadTimeout and WriteTimeout bound each remote call.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InvalidationChannel is the Redis pub/sub channel for cross-process
	// local invalidation. Empty disables it.
	InvalidationChannel string

	// SerializationFormat specifies how values are serialized
	// ("json", "msgpack", "cbor" or "protobuf").
	SerializationFormat string

	// Marshaller overrides SerializationFormat.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds start-up calls such as subscribing to the
	// invalidation channel.
	ContextTimeout time.Duration

	// EnableMetrics enables Stats collection.
	EnableMetrics bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)

	// TTLGranularity rounds every TTL up to a multiple of itself.
	// Zero keeps TTLs as given.
	TTLGranularity time.Duration

	// BloomHashes is the number of bits set per bloom filter value.
	BloomHashes int

	// BloomWidth is the bloom filter bit-array width.
	BloomWidth uint64

	// BloomMemoTTL is how long a positive bloom answer is memoized locally.
	BloomMemoTTL time.Duration
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		PodID:               "default-pod",
		RedisAddrs:          []string{"localhost:6379"},
		RedisDB:             0,
		InvalidationChannel: "cache:invalidate",
		SerializationFormat: storage.FormatJSON,
		ContextTimeout:      5 * time.Second,
		EnableMetrics:       true,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
		TTLGranularity:      time.Second,
		BloomHashes:         bloom.DefaultHashes,
		BloomWidth:          bloom.DefaultWidth,
		BloomMemoTTL:        time.Minute,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		Enabled:            true,
		Policy:             PolicyLFU,
		MaxSize:            10000,
		DefaultTTL:         5 * time.Minute,
		NumCounters:        1e5,
		MaxCost:            1 << 30, // 1GB
		BufferItems:        64,
		IgnoreInternalCost: false,
		Shards:             64,
		HardMaxCacheSizeMB: 256,
	}
}

// Validate validates the options, including the Redis connection settings.
func (o *Options) Validate() error {
	if len(o.RedisAddrs) == 0 {
		return fmt.Errorf("%w: at least one redis address is required", ErrInvalidConfig)
	}
	for _, addr := range o.RedisAddrs {
		if addr == "" {
			return fmt.Errorf("%w: blank redis address", ErrInvalidConfig)
		}
	}
	return o.validate()
}

// validate checks everything that does not concern how the remote store is
// reached, so injected backends skip the address checks.
func (o *Options) validate() error {
	if o.PodID == "" {
		return fmt.Errorf("%w: pod id is required", ErrInvalidConfig)
	}
	if o.Marshaller == nil {
		if _, err := storage.GetSerializer(o.SerializationFormat); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if o.TTLGranularity < 0 {
		return fmt.Errorf("%w: ttl granularity must not be negative", ErrInvalidConfig)
	}
	if _, err := bloom.NewOffsetGenerator(o.BloomHashes, o.BloomWidth); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if o.BloomMemoTTL < 0 {
		return fmt.Errorf("%w: bloom memo ttl must not be negative", ErrInvalidConfig)
	}

	lc := o.LocalCacheConfig
	if !lc.Enabled || o.LocalCacheFactory != nil {
		return nil
	}
	if !lc.Policy.Valid() {
		return fmt.Errorf("%w: unknown local cache policy %s", ErrInvalidConfig, lc.Policy)
	}
	if lc.MaxSize <= 0 {
		return fmt.Errorf("%w: local cache max size must be positive", ErrInvalidConfig)
	}
	if lc.DefaultTTL < 0 {
		return fmt.Errorf("%w: local cache default ttl must not be negative", ErrInvalidConfig)
	}
	switch lc.Policy {
	case PolicyLFU:
		if lc.MaxCost <= 0 {
			return fmt.Errorf("%w: lfu max cost must be positive", ErrInvalidConfig)
		}
	case PolicyFIFO:
		if lc.Shards <= 0 || lc.Shards&(lc.Shards-1) != 0 {
			return fmt.Errorf("%w: fifo shards must be a power of two", ErrInvalidConfig)
		}
		if lc.HardMaxCacheSizeMB < 0 {
			return fmt.Errorf("%w: fifo hard max cache size must not be negative", ErrInvalidConfig)
		}
	}
	return nil
}
