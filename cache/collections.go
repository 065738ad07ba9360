package cache

import (
	"context"
	"time"

	"github.com/fengzhizi715/multi-level-cache/storage"
)

// Sets and hashes follow clear-on-write: a mutation evicts the local copy of
// the whole collection instead of patching it. Aggregate reads cache the
// whole collection locally, msgpack-encoded, under the collection's key.

// SetAdd adds members to the set at key and returns how many were new.
// Members are stored in their serialized form.
func (c *Coordinator) SetAdd(ctx context.Context, key string, members ...any) (int64, error) {
	return c.setMutate(ctx, "sadd", key, 0, members, c.remote.SAdd)
}

// SetAddWithTTL is SetAdd followed by setting a time to live on the whole
// set. A zero ttl leaves the expiry untouched.
func (c *Coordinator) SetAddWithTTL(ctx context.Context, key string, ttl time.Duration, members ...any) (int64, error) {
	return c.setMutate(ctx, "sadd", key, ttl, members, c.remote.SAdd)
}

// SetRemove removes members from the set at key and returns how many were
// present.
func (c *Coordinator) SetRemove(ctx context.Context, key string, members ...any) (int64, error) {
	return c.setMutate(ctx, "srem", key, 0, members, c.remote.SRem)
}

func (c *Coordinator) setMutate(ctx context.Context, op, key string, ttl time.Duration, members []any,
	apply func(context.Context, string, ...string) (int64, error)) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, ErrNilValue
	}
	if ttl < 0 {
		return 0, ErrNegativeTTL
	}
	encoded, err := c.encodeAll(op, key, members)
	if err != nil {
		return 0, err
	}

	c.evictLocal(key)
	n, err := apply(ctx, key, encoded...)
	c.evictLocal(key)
	if err != nil {
		return 0, c.fail(backendError(op, key, err))
	}
	if err := c.expireAfterWrite(ctx, key, ttl); err != nil {
		return n, err
	}
	c.publish(ctx, ActionInvalidate, key)
	return n, nil
}

// SetMembers returns every serialized member of the set at key. A missing
// set is an empty result.
func (c *Coordinator) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var members []string
	if c.loadCollection(key, &members) {
		return members, nil
	}

	seen := c.epochs.snapshot(key)
	members, err := c.remote.SMembers(ctx, key)
	if err != nil {
		c.record(&c.stats.RemoteErrors)
		return nil, c.fail(backendError("smembers", key, err))
	}
	if len(members) == 0 {
		c.record(&c.stats.RemoteMisses)
		return members, nil
	}
	c.record(&c.stats.RemoteHits)
	c.saveCollection(key, seen, members)
	return members, nil
}

// SetIsMember asks the remote store whether member belongs to the set at key.
func (c *Coordinator) SetIsMember(ctx context.Context, key string, member any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if isNil(member) {
		return false, ErrNilValue
	}
	encoded, err := c.encodeAll("sismember", key, []any{member})
	if err != nil {
		return false, err
	}

	ok, err := c.remote.SIsMember(ctx, key, encoded[0])
	if err != nil {
		return false, c.fail(backendError("sismember", key, err))
	}
	return ok, nil
}

// HashSet writes one field of the hash at key and reports whether the field
// is new.
func (c *Coordinator) HashSet(ctx context.Context, key, field string, value any) (bool, error) {
	n, err := c.hashSet(ctx, key, map[string]any{field: value}, 0)
	return n == 1, err
}

// HashSetWithTTL is HashSet followed by setting a time to live on the whole
// hash. A zero ttl leaves the expiry untouched.
func (c *Coordinator) HashSetWithTTL(ctx context.Context, key, field string, value any, ttl time.Duration) (bool, error) {
	n, err := c.hashSet(ctx, key, map[string]any{field: value}, ttl)
	return n == 1, err
}

// HashSetMulti writes several fields of the hash at key and returns how many
// were new.
func (c *Coordinator) HashSetMulti(ctx context.Context, key string, fields map[string]any) (int64, error) {
	return c.hashSet(ctx, key, fields, 0)
}

// HashSetMultiWithTTL is HashSetMulti followed by setting a time to live on
// the whole hash.
func (c *Coordinator) HashSetMultiWithTTL(ctx context.Context, key string, fields map[string]any, ttl time.Duration) (int64, error) {
	return c.hashSet(ctx, key, fields, ttl)
}

func (c *Coordinator) hashSet(ctx context.Context, key string, fields map[string]any, ttl time.Duration) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, ErrNilValue
	}
	if ttl < 0 {
		return 0, ErrNegativeTTL
	}

	encoded := make(map[string][]byte, len(fields))
	for field, value := range fields {
		if err := validateField(field); err != nil {
			return 0, err
		}
		if isNil(value) {
			return 0, ErrNilValue
		}
		data, err := storage.EncodeValue(c.serializer, value)
		if err != nil {
			return 0, c.fail(serializationError("hset", key, err))
		}
		encoded[field] = data
	}

	c.evictLocal(key)
	n, err := c.remote.HSet(ctx, key, encoded)
	c.evictLocal(key)
	if err != nil {
		return 0, c.fail(backendError("hset", key, err))
	}
	if err := c.expireAfterWrite(ctx, key, ttl); err != nil {
		return n, err
	}
	c.publish(ctx, ActionInvalidate, key)
	return n, nil
}

// HashGet reads one field of the hash at key into dest. The field is served
// from the locally cached hash when it holds it; otherwise it is read
// remotely and the whole hash is cached again.
func (c *Coordinator) HashGet(ctx context.Context, key, field string, dest any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateField(field); err != nil {
		return false, err
	}
	if dest == nil {
		return false, ErrNilDestination
	}

	var cached map[string]string
	if c.loadCollection(key, &cached) {
		if v, ok := cached[field]; ok {
			if err := c.decode("hget", key, []byte(v), dest); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	seen := c.epochs.snapshot(key)
	data, found, err := c.remote.HGet(ctx, key, field)
	if err != nil {
		c.record(&c.stats.RemoteErrors)
		return false, c.fail(backendError("hget", key, err))
	}
	if !found {
		c.record(&c.stats.RemoteMisses)
		return false, nil
	}
	c.record(&c.stats.RemoteHits)

	if c.local != nil {
		if all, err := c.remote.HGetAll(ctx, key); err != nil {
			c.logger.Warn("failed to repopulate cached hash", "key", key, "error", err)
		} else if len(all) > 0 {
			c.saveCollection(key, seen, all)
		}
	}
	if err := c.decode("hget", key, data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// HashGetAll returns every field of the hash at key in serialized form.
// A missing hash is an empty result.
func (c *Coordinator) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var all map[string]string
	if c.loadCollection(key, &all) {
		return all, nil
	}

	seen := c.epochs.snapshot(key)
	all, err := c.remote.HGetAll(ctx, key)
	if err != nil {
		c.record(&c.stats.RemoteErrors)
		return nil, c.fail(backendError("hgetall", key, err))
	}
	if len(all) == 0 {
		c.record(&c.stats.RemoteMisses)
		return all, nil
	}
	c.record(&c.stats.RemoteHits)
	c.saveCollection(key, seen, all)
	return all, nil
}

// HashIncrement atomically adds delta, which may be negative, to a hash
// field and returns the new value.
func (c *Coordinator) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if err := validateField(field); err != nil {
		return 0, err
	}
	if delta == 0 {
		return 0, ErrInvalidDelta
	}

	c.evictLocal(key)
	n, err := c.remote.HIncrBy(ctx, key, field, delta)
	c.evictLocal(key)
	if err != nil {
		return 0, c.fail(backendError("hincrby", key, err))
	}
	c.publish(ctx, ActionInvalidate, key)
	return n, nil
}

// HashDelete removes fields from the hash at key and returns how many
// existed.
func (c *Coordinator) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, ErrNilValue
	}
	for _, field := range fields {
		if err := validateField(field); err != nil {
			return 0, err
		}
	}

	c.evictLocal(key)
	n, err := c.remote.HDel(ctx, key, fields...)
	c.evictLocal(key)
	if err != nil {
		return 0, c.fail(backendError("hdel", key, err))
	}
	c.publish(ctx, ActionInvalidate, key)
	return n, nil
}

// loadCollection decodes the locally cached collection at key into dest.
// An undecodable entry is dropped and reported as a miss.
func (c *Coordinator) loadCollection(key string, dest any) bool {
	if c.local == nil {
		return false
	}
	data, ok := c.local.Get(key)
	if !ok {
		c.record(&c.stats.LocalMisses)
		return false
	}
	if err := c.collections.Unmarshal(data, dest); err != nil {
		c.evictLocal(key)
		c.record(&c.stats.LocalFailures)
		c.logger.Warn("dropping undecodable local collection", "key", key, "error", err)
		return false
	}
	c.record(&c.stats.LocalHits)
	return true
}

func (c *Coordinator) saveCollection(key string, seen uint64, v any) {
	if c.local == nil {
		return
	}
	data, err := c.collections.Marshal(v)
	if err != nil {
		c.record(&c.stats.LocalFailures)
		c.logger.Warn("failed to encode collection for local cache", "key", key, "error", err)
		return
	}
	c.fillLocal(key, seen, data, 0)
}

// expireAfterWrite applies a positive ttl to a collection just written.
func (c *Coordinator) expireAfterWrite(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if _, err := c.remote.Expire(ctx, key, c.roundTTL(ttl)); err != nil {
		return c.fail(backendError("expire", key, err))
	}
	return nil
}

func (c *Coordinator) encodeAll(op, key string, values []any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		if isNil(v) {
			return nil, ErrNilValue
		}
		data, err := storage.EncodeValue(c.serializer, v)
		if err != nil {
			return nil, c.fail(serializationError(op, key, err))
		}
		out[i] = string(data)
	}
	return out, nil
}

func (c *Coordinator) decode(op, key string, data []byte, dest any) error {
	if err := storage.DecodeValue(c.serializer, data, dest); err != nil {
		return c.fail(serializationError(op, key, err))
	}
	return nil
}
