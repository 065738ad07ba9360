package multilevelcache

import "github.com/fengzhizi715/multi-level-cache/cache"

// Error sentinels re-exported from the cache package. Match them with
// errors.Is.
var (
	ErrValidation     = cache.ErrValidation
	ErrInvalidKey     = cache.ErrInvalidKey
	ErrNilValue       = cache.ErrNilValue
	ErrNilDestination = cache.ErrNilDestination
	ErrNegativeTTL    = cache.ErrNegativeTTL
	ErrNegativeOffset = cache.ErrNegativeOffset
	ErrInvalidDelta   = cache.ErrInvalidDelta
	ErrBackend        = cache.ErrBackend
	ErrSerialization  = cache.ErrSerialization
	ErrCacheClosed    = cache.ErrCacheClosed
	ErrInvalidConfig  = cache.ErrInvalidConfig
)

// OpError is an alias for cache.OpError.
type OpError = cache.OpError
