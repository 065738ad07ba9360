package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fengzhizi715/multi-level-cache/bloom"
	"github.com/fengzhizi715/multi-level-cache/lock"
)

// GetBit reads one bit of the bit array at key.
func (c *Coordinator) GetBit(ctx context.Context, key string, offset int64) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if offset < 0 {
		return false, ErrNegativeOffset
	}

	bit, err := c.remote.GetBit(ctx, key, offset)
	if err != nil {
		return false, c.fail(backendError("getbit", key, err))
	}
	return bit, nil
}

// SetBit writes one bit of the bit array at key and returns its previous
// value.
func (c *Coordinator) SetBit(ctx context.Context, key string, offset int64, value bool) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if offset < 0 {
		return false, ErrNegativeOffset
	}

	c.evictLocal(key)
	prev, err := c.remote.SetBit(ctx, key, offset, value)
	c.evictLocal(key)
	if err != nil {
		return false, c.fail(backendError("setbit", key, err))
	}
	c.publish(ctx, ActionInvalidate, key)
	return prev, nil
}

// TryLock makes one attempt to take lockKey for holderToken.
// It never reports true on an error.
func (c *Coordinator) TryLock(ctx context.Context, lockKey, holderToken string, ttl time.Duration) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ok, err := c.locker.TryAcquire(ctx, lockKey, holderToken, ttl)
	if err != nil {
		return false, c.fail(primitiveError("lock", lockKey, err, lock.ErrInvalidArgument))
	}
	return ok, nil
}

// ReleaseLock releases lockKey if holderToken still holds it.
func (c *Coordinator) ReleaseLock(ctx context.Context, lockKey, holderToken string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ok, err := c.locker.Release(ctx, lockKey, holderToken)
	if err != nil {
		return false, c.fail(primitiveError("unlock", lockKey, err, lock.ErrInvalidArgument))
	}
	return ok, nil
}

// BloomAdd adds value to the bloom filter at filterKey. It reports false
// when value already tested present.
func (c *Coordinator) BloomAdd(ctx context.Context, filterKey string, value any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ok, err := c.filter.Add(ctx, filterKey, value)
	if err != nil {
		return false, c.fail(primitiveError("bloom add", filterKey, err, bloom.ErrInvalidArgument))
	}
	return ok, nil
}

// BloomContains reports whether value may be in the bloom filter at
// filterKey. A false answer is definite.
func (c *Coordinator) BloomContains(ctx context.Context, filterKey string, value any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ok, err := c.filter.Contains(ctx, filterKey, value)
	if err != nil {
		return false, c.fail(primitiveError("bloom contains", filterKey, err, bloom.ErrInvalidArgument))
	}
	return ok, nil
}

// primitiveError maps lock and bloom errors onto the cache taxonomy.
func primitiveError(op, key string, err, invalid error) error {
	if errors.Is(err, invalid) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if errors.Is(err, bloom.ErrEncoding) {
		return serializationError(op, key, err)
	}
	return backendError(op, key, err)
}
