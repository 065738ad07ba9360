package multilevelcache

import "github.com/fengzhizi715/multi-level-cache/cache"

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// RemoteStore is an alias for cache.RemoteStore.
type RemoteStore = cache.RemoteStore

// Policy is an alias for cache.Policy.
type Policy = cache.Policy

// Local cache eviction policies.
const (
	PolicyLFU      = cache.PolicyLFU
	PolicyLRU      = cache.PolicyLRU
	PolicyFIFO     = cache.PolicyFIFO
	PolicyAdaptive = cache.PolicyAdaptive
)

// InvalidationEvent is an alias for cache.InvalidationEvent.
type InvalidationEvent = cache.InvalidationEvent

// DefaultLocalCacheConfig returns the default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}

// ParsePolicy parses a policy name such as "lru" or "2q".
func ParsePolicy(s string) (Policy, error) {
	return cache.ParsePolicy(s)
}
