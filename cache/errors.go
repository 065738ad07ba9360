package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every input-validation failure. Nothing
	// touches a backend once it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidKey is returned for a blank key.
	ErrInvalidKey = fmt.Errorf("%w: key must not be blank", ErrValidation)

	// ErrNilValue is returned when a nil value is written.
	ErrNilValue = fmt.Errorf("%w: value must not be nil", ErrValidation)

	// ErrNilDestination is returned when a read has nowhere to decode into.
	ErrNilDestination = fmt.Errorf("%w: destination must not be nil", ErrValidation)

	// ErrNegativeTTL is returned for a negative TTL.
	ErrNegativeTTL = fmt.Errorf("%w: ttl must not be negative", ErrValidation)

	// ErrNegativeOffset is returned for a negative bit offset.
	ErrNegativeOffset = fmt.Errorf("%w: offset must not be negative", ErrValidation)

	// ErrInvalidDelta is returned for a zero or negative counter delta.
	ErrInvalidDelta = fmt.Errorf("%w: delta must be positive", ErrValidation)

	// ErrBackend wraps every remote store failure.
	ErrBackend = errors.New("remote store failure")

	// ErrSerialization is returned when a value cannot be encoded or decoded.
	ErrSerialization = errors.New("serialization failed")

	// ErrCacheClosed is returned when operations are performed on a closed cache.
	ErrCacheClosed = errors.New("cache is closed")

	// ErrInvalidConfig is returned when options are invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// OpError records the remote operation and key that failed.
// errors.Is(err, ErrBackend) holds for every *OpError.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Key, ErrBackend, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}

func backendError(op, key string, err error) error {
	return &OpError{Op: op, Key: key, Err: err}
}

func serializationError(op, key string, err error) error {
	return fmt.Errorf("%s %q: %w: %w", op, key, ErrSerialization, err)
}
