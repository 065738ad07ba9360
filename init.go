// Package multilevelcache is a caching facade over Redis with an optional
// process-local layer, a distributed lock and a bloom filter.
package multilevelcache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/fengzhizi715/multi-level-cache/cache"
)

// Config configures a multi-level cache instance.
type Config struct {
	// PodID is the unique identifier for this pod/instance.
	// Used to avoid self-invalidation in pub/sub.
	PodID string

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory overrides the policy-selected local cache.
	LocalCacheFactory LocalCacheFactory

	// RedisAddrs lists the Redis endpoints.
	RedisAddrs []string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// RedisMasterName selects a sentinel-backed client when set.
	RedisMasterName string

	// RedisPoolSize is the connection pool size.
	RedisPoolSize int

	// DialTimeout, ReadTimeout and WriteTimeout bound each remote call.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InvalidationChannel is the Redis pub/sub channel for cache invalidation.
	InvalidationChannel string

	// SerializationFormat specifies how values are serialized.
	SerializationFormat string

	// Marshaller overrides SerializationFormat.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds start-up calls.
	ContextTimeout time.Duration

	// EnableMetrics enables Stats collection.
	EnableMetrics bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)

	// TTLGranularity rounds every TTL up to a multiple of itself.
	TTLGranularity time.Duration

	// BloomHashes and BloomWidth size the bloom filter.
	BloomHashes int
	BloomWidth  uint64

	// BloomMemoTTL is how long a positive bloom answer is memoized locally.
	BloomMemoTTL time.Duration
}

// Cache is an alias for cache.Coordinator.
type Cache = cache.Coordinator

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// New creates a new cache instance connected to Redis.
func New(cfg Config) (*Cache, error) {
	return cache.New(cfg.options())
}

// NewWithDeps creates a cache over injected backends. A nil local cache is
// built from cfg.LocalCacheConfig.
func NewWithDeps(cfg Config, remote RemoteStore, local LocalCache) (*Cache, error) {
	return cache.NewWithDeps(cfg.options(), remote, local)
}

func (cfg Config) options() cache.Options {
	return cache.Options{
		PodID:               cfg.PodID,
		LocalCacheConfig:    cfg.LocalCacheConfig,
		LocalCacheFactory:   cfg.LocalCacheFactory,
		RedisAddrs:          cfg.RedisAddrs,
		RedisPassword:       cfg.RedisPassword,
		RedisDB:             cfg.RedisDB,
		RedisMasterName:     cfg.RedisMasterName,
		RedisPoolSize:       cfg.RedisPoolSize,
		DialTimeout:         cfg.DialTimeout,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		InvalidationChannel: cfg.InvalidationChannel,
		SerializationFormat: cfg.SerializationFormat,
		Marshaller:          cfg.Marshaller,
		Logger:              cfg.Logger,
		DebugMode:           cfg.DebugMode,
		ContextTimeout:      cfg.ContextTimeout,
		EnableMetrics:       cfg.EnableMetrics,
		OnError:             cfg.OnError,
		TTLGranularity:      cfg.TTLGranularity,
		BloomHashes:         cfg.BloomHashes,
		BloomWidth:          cfg.BloomWidth,
		BloomMemoTTL:        cfg.BloomMemoTTL,
	}
}

// Validate checks cfg the same way New does.
func (cfg Config) Validate() error {
	opts := cfg.options()
	return opts.Validate()
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	opts := cache.DefaultOptions()
	return Config{
		PodID:               opts.PodID,
		LocalCacheConfig:    opts.LocalCacheConfig,
		RedisAddrs:          opts.RedisAddrs,
		RedisDB:             opts.RedisDB,
		InvalidationChannel: opts.InvalidationChannel,
		SerializationFormat: opts.SerializationFormat,
		ContextTimeout:      opts.ContextTimeout,
		EnableMetrics:       opts.EnableMetrics,
		TTLGranularity:      opts.TTLGranularity,
		BloomHashes:         opts.BloomHashes,
		BloomWidth:          opts.BloomWidth,
		BloomMemoTTL:        opts.BloomMemoTTL,
	}
}

// envConfig holds the settings that can come from MLCACHE_* variables.
// Unset variables keep the value already in the struct.
type envConfig struct {
	PodID               string        `env:"MLCACHE_POD_ID"`
	RedisAddrs          []string      `env:"MLCACHE_REDIS_ADDRS" envSeparator:","`
	RedisPassword       string        `env:"MLCACHE_REDIS_PASSWORD"`
	RedisDB             int           `env:"MLCACHE_REDIS_DB"`
	RedisMasterName     string        `env:"MLCACHE_REDIS_MASTER_NAME"`
	RedisPoolSize       int           `env:"MLCACHE_REDIS_POOL_SIZE"`
	DialTimeout         time.Duration `env:"MLCACHE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout         time.Duration `env:"MLCACHE_REDIS_READ_TIMEOUT"`
	WriteTimeout        time.Duration `env:"MLCACHE_REDIS_WRITE_TIMEOUT"`
	InvalidationChannel string        `env:"MLCACHE_INVALIDATION_CHANNEL"`
	SerializationFormat string        `env:"MLCACHE_SERIALIZATION_FORMAT"`
	DebugMode           bool          `env:"MLCACHE_DEBUG"`
	ContextTimeout      time.Duration `env:"MLCACHE_CONTEXT_TIMEOUT"`
	EnableMetrics       bool          `env:"MLCACHE_ENABLE_METRICS"`
	TTLGranularity      time.Duration `env:"MLCACHE_TTL_GRANULARITY"`
	BloomHashes         int           `env:"MLCACHE_BLOOM_HASHES"`
	BloomWidth          uint64        `env:"MLCACHE_BLOOM_WIDTH"`
	BloomMemoTTL        time.Duration `env:"MLCACHE_BLOOM_MEMO_TTL"`

	LocalEnabled    bool          `env:"MLCACHE_LOCAL_ENABLED"`
	LocalPolicy     cache.Policy  `env:"MLCACHE_LOCAL_POLICY"`
	LocalMaxSize    int           `env:"MLCACHE_LOCAL_MAX_SIZE"`
	LocalDefaultTTL time.Duration `env:"MLCACHE_LOCAL_DEFAULT_TTL"`
	LocalMaxCost    int64         `env:"MLCACHE_LOCAL_MAX_COST"`
	LocalShards     int           `env:"MLCACHE_LOCAL_SHARDS"`
}

// LoadConfigFromEnv starts from DefaultConfig and overrides it with MLCACHE_*
// environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	raw := envConfig{
		PodID:               cfg.PodID,
		RedisAddrs:          cfg.RedisAddrs,
		RedisPassword:       cfg.RedisPassword,
		RedisDB:             cfg.RedisDB,
		InvalidationChannel: cfg.InvalidationChannel,
		SerializationFormat: cfg.SerializationFormat,
		DebugMode:           cfg.DebugMode,
		ContextTimeout:      cfg.ContextTimeout,
		EnableMetrics:       cfg.EnableMetrics,
		TTLGranularity:      cfg.TTLGranularity,
		BloomHashes:         cfg.BloomHashes,
		BloomWidth:          cfg.BloomWidth,
		BloomMemoTTL:        cfg.BloomMemoTTL,
		LocalEnabled:        cfg.LocalCacheConfig.Enabled,
		LocalPolicy:         cfg.LocalCacheConfig.Policy,
		LocalMaxSize:        cfg.LocalCacheConfig.MaxSize,
		LocalDefaultTTL:     cfg.LocalCacheConfig.DefaultTTL,
		LocalMaxCost:        cfg.LocalCacheConfig.MaxCost,
		LocalShards:         cfg.LocalCacheConfig.Shards,
	}
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg.PodID = raw.PodID
	cfg.RedisAddrs = raw.RedisAddrs
	cfg.RedisPassword = raw.RedisPassword
	cfg.RedisDB = raw.RedisDB
	cfg.RedisMasterName = raw.RedisMasterName
	cfg.RedisPoolSize = raw.RedisPoolSize
	cfg.DialTimeout = raw.DialTimeout
	cfg.ReadTimeout = raw.ReadTimeout
	cfg.WriteTimeout = raw.WriteTimeout
	cfg.InvalidationChannel = raw.InvalidationChannel
	cfg.SerializationFormat = raw.SerializationFormat
	cfg.DebugMode = raw.DebugMode
	cfg.ContextTimeout = raw.ContextTimeout
	cfg.EnableMetrics = raw.EnableMetrics
	cfg.TTLGranularity = raw.TTLGranularity
	cfg.BloomHashes = raw.BloomHashes
	cfg.BloomWidth = raw.BloomWidth
	cfg.BloomMemoTTL = raw.BloomMemoTTL
	cfg.LocalCacheConfig.Enabled = raw.LocalEnabled
	cfg.LocalCacheConfig.Policy = raw.LocalPolicy
	cfg.LocalCacheConfig.MaxSize = raw.LocalMaxSize
	cfg.LocalCacheConfig.DefaultTTL = raw.LocalDefaultTTL
	cfg.LocalCacheConfig.MaxCost = raw.LocalMaxCost
	cfg.LocalCacheConfig.Shards = raw.LocalShards
	return cfg, nil
}

// LoadConfigFromEnvFiles loads the given .env files (".env" when none are
// named) into the process environment and then calls LoadConfigFromEnv.
// Variables already set in the environment win over file values.
func LoadConfigFromEnvFiles(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return LoadConfigFromEnv()
}
