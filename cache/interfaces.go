package cache

import (
	"context"
	"time"

	"github.com/fengzhizi715/multi-level-cache/types"
)

// Logger defines the interface for logging in the multi-level cache.
// Args are alternating key/value pairs.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller turns non-string values into their serialized form.
// Every serializer in the storage package satisfies it.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache is an in-process, capacity-bounded mirror of serialized values.
// Implementations must be safe for concurrent use.
type LocalCache interface {
	// Get returns the stored bytes. An expired entry reports a miss and is
	// dropped.
	Get(key string) ([]byte, bool)

	// Set stores value for ttl (zero means no expiry) and reports whether
	// the entry was accepted.
	Set(key string, value []byte, ttl time.Duration) bool

	// Delete removes keys.
	Delete(keys ...string)

	// Clear removes all values from the local cache.
	Clear()

	// Close releases the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// RemoteStore is the key-value backend of record. storage.RedisStore
// implements it. Absent keys are reported with found == false and a nil
// error, never as an error.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Persist(ctx context.Context, key string) (bool, error)

	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	GetBit(ctx context.Context, key string, offset int64) (bool, error)
	SetBit(ctx context.Context, key string, offset int64, value bool) (bool, error)
	GetBits(ctx context.Context, key string, offsets []int64) ([]bool, error)
	SetBits(ctx context.Context, key string, offsets []int64) error

	EvalAtomic(ctx context.Context, script string, keys []string, args ...any) (any, error)

	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	HSet(ctx context.Context, key string, fields map[string][]byte) (int64, error)
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	Close() error
}

// Synchronizer defines the interface for cache synchronization across nodes.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Action is an alias for types.Action.
type Action = types.Action

// Action constants for invalidation events.
const (
	ActionInvalidate = types.Invalidate
	ActionDelete     = types.Delete
	ActionClear      = types.Clear
)

// Stats represents coordinator statistics.
type Stats struct {
	LocalHits     int64
	LocalMisses   int64
	RemoteHits    int64
	RemoteMisses  int64
	RemoteErrors  int64
	LocalSize     int64
	LocalFailures int64
	Invalidations int64
	BloomMemoHits int64
}
