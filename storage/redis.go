package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection used by RedisStore.
// A single address selects a standalone client, several addresses a cluster
// client, and a MasterName a sentinel-backed failover client.
type RedisConfig struct {
	Addrs        []string
	Password     string
	DB           int
	MasterName   string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements the remote store capability using Redis.
type RedisStore struct {
	client      redis.UniversalClient
	closeClient bool
	scripts     sync.Map // script source -> *redis.Script
}

// NewRedisStore creates a new Redis-based store and checks the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MasterName:   cfg.MasterName,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{
		client:      client,
		closeClient: true,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. The store closes the
// client on Close only when owns is true.
func NewRedisStoreWithClient(client redis.UniversalClient, owns bool) *RedisStore {
	return &RedisStore{client: client, closeClient: owns}
}

// Get retrieves a value from Redis. A missing key is (nil, false, nil).
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// GetWithTTL reads a value and its remaining time to live in one round trip.
// A zero TTL means the key has no expiry.
func (rs *RedisStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := rs.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, key)
		pttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, err
	}

	val, err := get.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, true, nil
}

// Set stores a value in Redis. A ttl of zero stores it without expiry.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return rs.client.Set(ctx, key, value, ttl).Err()
}

// SetIfAbsent stores value only when key does not exist (SET NX).
func (rs *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return rs.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes keys and reports how many existed.
func (rs *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	return rs.client.Del(ctx, keys...).Result()
}

// Exists reports whether key is present.
func (rs *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := rs.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Expire sets a time to live on key.
func (rs *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return rs.client.Expire(ctx, key, ttl).Result()
}

// Persist removes the time to live from key.
func (rs *RedisStore) Persist(ctx context.Context, key string) (bool, error) {
	return rs.client.Persist(ctx, key).Result()
}

// IncrBy atomically adds delta to the integer stored at key.
func (rs *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return rs.client.IncrBy(ctx, key, delta).Result()
}

// DecrBy atomically subtracts delta from the integer stored at key.
func (rs *RedisStore) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return rs.client.DecrBy(ctx, key, delta).Result()
}

// GetBit reads a single bit.
func (rs *RedisStore) GetBit(ctx context.Context, key string, offset int64) (bool, error) {
	n, err := rs.client.GetBit(ctx, key, offset).Result()
	return n == 1, err
}

// SetBit writes a single bit and returns its previous value.
func (rs *RedisStore) SetBit(ctx context.Context, key string, offset int64, value bool) (bool, error) {
	v := 0
	if value {
		v = 1
	}
	prev, err := rs.client.SetBit(ctx, key, offset, v).Result()
	return prev == 1, err
}

// GetBits reads several bits of one key in a single pipelined round trip.
func (rs *RedisStore) GetBits(ctx context.Context, key string, offsets []int64) ([]bool, error) {
	cmds := make([]*redis.IntCmd, len(offsets))
	_, err := rs.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, off := range offsets {
			cmds[i] = p.GetBit(ctx, key, off)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bits := make([]bool, len(offsets))
	for i, cmd := range cmds {
		bits[i] = cmd.Val() == 1
	}
	return bits, nil
}

// SetBits sets several bits of one key to 1 in a single pipelined round trip.
// The pipeline is not a transaction: readers may observe a partial update.
func (rs *RedisStore) SetBits(ctx context.Context, key string, offsets []int64) error {
	_, err := rs.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, off := range offsets {
			p.SetBit(ctx, key, off, 1)
		}
		return nil
	})
	return err
}

// EvalAtomic runs a Lua script server-side. Scripts are sent by SHA after the
// first call. A nil script reply is returned as (nil, nil).
func (rs *RedisStore) EvalAtomic(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	s, ok := rs.scripts.Load(script)
	if !ok {
		s, _ = rs.scripts.LoadOrStore(script, redis.NewScript(script))
	}
	res, err := s.(*redis.Script).Run(ctx, rs.client, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

// SAdd adds members to the set stored at key.
func (rs *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	return rs.client.SAdd(ctx, key, toAny(members)...).Result()
}

// SRem removes members from the set stored at key.
func (rs *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	return rs.client.SRem(ctx, key, toAny(members)...).Result()
}

// SMembers returns every member of the set stored at key.
func (rs *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return rs.client.SMembers(ctx, key).Result()
}

// SIsMember reports whether member belongs to the set stored at key.
func (rs *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return rs.client.SIsMember(ctx, key, member).Result()
}

// HSet writes hash fields and returns the number of fields that were added.
func (rs *RedisStore) HSet(ctx context.Context, key string, fields map[string][]byte) (int64, error) {
	values := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		values = append(values, f, v)
	}
	return rs.client.HSet(ctx, key, values...).Result()
}

// HGet reads one hash field. A missing field is (nil, false, nil).
func (rs *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	val, err := rs.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// HGetAll reads every field of the hash stored at key.
func (rs *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return rs.client.HGetAll(ctx, key).Result()
}

// HIncrBy atomically adds delta to a hash field.
func (rs *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return rs.client.HIncrBy(ctx, key, field, delta).Result()
}

// HDel removes hash fields.
func (rs *RedisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return rs.client.HDel(ctx, key, fields...).Result()
}

// Close closes the Redis connection when the store owns it.
func (rs *RedisStore) Close() error {
	if !rs.closeClient {
		return nil
	}
	if err := rs.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() redis.UniversalClient {
	return rs.client
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
