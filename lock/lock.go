// Package lock implements a best-effort, expiry-bounded mutual-exclusion lock
// on a shared key-value store.
//
// A lock is a single string entry whose value is the holder token and whose
// TTL is the lock expiry. Acquisition is one atomic set-if-absent; release is
// one server-side compare-and-delete script. There is no renewal, queueing or
// fairness, and nothing stops a caller from touching a "locked" resource
// without asking first: the lock is advisory.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

var (
	// ErrInvalidArgument is returned before any backend call for a blank
	// key, a blank holder token or a non-positive TTL.
	ErrInvalidArgument = errors.New("lock: invalid argument")
)

// Store is the subset of the remote store the lock needs.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	EvalAtomic(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// Locker acquires and releases named locks.
type Locker struct {
	store Store
}

// New creates a Locker backed by store.
func New(store Store) *Locker {
	return &Locker{store: store}
}

// TryAcquire makes a single attempt to take lockKey for holderToken.
// It reports true only when the store confirms it created the entry; any
// backend failure reports false together with the error.
func (l *Locker) TryAcquire(ctx context.Context, lockKey, holderToken string, ttl time.Duration) (bool, error) {
	if err := validate(lockKey, holderToken); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidArgument, ttl)
	}

	ok, err := l.store.SetIfAbsent(ctx, lockKey, []byte(holderToken), ttl)
	if err != nil {
		return false, fmt.Errorf("lock: acquire %q: %w", lockKey, err)
	}
	return ok, nil
}

// Release deletes lockKey if, and only if, it is still held by holderToken.
// A lock that expired and was re-acquired by someone else is left intact and
// Release reports false.
func (l *Locker) Release(ctx context.Context, lockKey, holderToken string) (bool, error) {
	if err := validate(lockKey, holderToken); err != nil {
		return false, err
	}

	res, err := l.store.EvalAtomic(ctx, releaseScript, []string{lockKey}, holderToken)
	if err != nil {
		return false, fmt.Errorf("lock: release %q: %w", lockKey, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

// NewToken returns a random holder token suitable for TryAcquire.
func NewToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func validate(lockKey, holderToken string) error {
	if strings.TrimSpace(lockKey) == "" {
		return fmt.Errorf("%w: blank lock key", ErrInvalidArgument)
	}
	if holderToken == "" {
		return fmt.Errorf("%w: blank holder token", ErrInvalidArgument)
	}
	return nil
}
