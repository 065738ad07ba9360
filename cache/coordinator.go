package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fengzhizi715/multi-level-cache/bloom"
	"github.com/fengzhizi715/multi-level-cache/lock"
	"github.com/fengzhizi715/multi-level-cache/storage"
	cachesync "github.com/fengzhizi715/multi-level-cache/sync"
)

// Coordinator keeps an optional in-process cache loosely consistent with the
// remote store. Reads go local first and fall through to the remote store;
// every mutation is written remotely and evicts, rather than patches, the
// local copy.
//
// A Coordinator is safe for concurrent use.
type Coordinator struct {
	local        LocalCache // nil when the local layer is disabled
	memo         LocalCache // bloom memo, nil when the local layer is disabled
	remote       RemoteStore
	ownsRemote   bool
	synchronizer Synchronizer
	serializer   Marshaller
	collections  storage.Serializer
	logger       Logger
	options      Options
	locker       *lock.Locker
	filter       *bloom.Filter
	group        singleflight.Group
	epochs       keyEpochs
	closed       int32
	stats        Stats
}

// New creates a Coordinator connected to the Redis deployment named in opts.
func New(opts Options) (*Coordinator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewRedisStore(storage.RedisConfig{
		Addrs:        opts.RedisAddrs,
		Password:     opts.RedisPassword,
		DB:           opts.RedisDB,
		MasterName:   opts.RedisMasterName,
		PoolSize:     opts.RedisPoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err != nil {
		return nil, backendError("connect", strings.Join(opts.RedisAddrs, ","), err)
	}

	c, err := newCoordinator(opts, store, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	c.ownsRemote = true
	return c, nil
}

// NewWithDeps creates a Coordinator over injected backends. local may be nil,
// in which case it is built from opts when the local layer is enabled.
// The caller keeps ownership of remote; Close does not close it.
//
// When opts.InvalidationChannel is set and remote is a *storage.RedisStore,
// pub/sub invalidation runs over its client.
func NewWithDeps(opts Options, remote RemoteStore, local LocalCache) (*Coordinator, error) {
	if remote == nil {
		return nil, fmt.Errorf("%w: remote store is required", ErrInvalidConfig)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return newCoordinator(opts, remote, local)
}

func newCoordinator(opts Options, remote RemoteStore, local LocalCache) (*Coordinator, error) {
	serializer := opts.Marshaller
	if serializer == nil {
		s, err := storage.GetSerializer(opts.SerializationFormat)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		serializer = s
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	c := &Coordinator{
		remote:      remote,
		serializer:  serializer,
		collections: storage.MsgpackSerializer{},
		logger:      opts.Logger,
		options:     opts,
		locker:      lock.New(remote),
	}

	if opts.LocalCacheConfig.Enabled {
		factory := opts.LocalCacheFactory
		if factory == nil {
			f, err := NewLocalCacheFactory(opts.LocalCacheConfig)
			if err != nil {
				return nil, err
			}
			factory = f
		}
		if local == nil {
			l, err := factory.Create()
			if err != nil {
				return nil, fmt.Errorf("create local cache: %w", err)
			}
			local = l
		}
		// The memo gets its own cache so its keys never shadow data keys.
		memo, err := factory.Create()
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("create bloom memo: %w", err)
		}
		c.local = local
		c.memo = memo
	}

	gen, err := bloom.NewOffsetGenerator(opts.BloomHashes, opts.BloomWidth)
	if err != nil {
		c.closeLocal()
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	filterOpts := []bloom.Option{
		bloom.WithOffsetGenerator(gen),
		bloom.WithSerializer(serializer),
	}
	if c.memo != nil {
		filterOpts = append(filterOpts,
			bloom.WithMemo(c.memo, opts.BloomMemoTTL),
			bloom.WithMemoHitHook(func() { c.record(&c.stats.BloomMemoHits) }),
		)
	}
	c.filter = bloom.New(remote, filterOpts...)

	if c.local != nil {
		if err := c.startSync(remote); err != nil {
			c.closeLocal()
			return nil, err
		}
	}

	if opts.DebugMode {
		c.logger.Debug("coordinator ready",
			"pod", opts.PodID,
			"local", c.local != nil,
			"policy", opts.LocalCacheConfig.Policy.String(),
			"invalidation_channel", opts.InvalidationChannel)
	}
	return c, nil
}

// startSync subscribes to cross-process invalidations. Without a local layer
// there is nothing to invalidate.
func (c *Coordinator) startSync(remote RemoteStore) error {
	if c.options.InvalidationChannel == "" {
		return nil
	}
	rs, ok := remote.(*storage.RedisStore)
	if !ok {
		c.logger.Warn("invalidation channel ignored: remote store has no pub/sub client")
		return nil
	}

	synchronizer := cachesync.NewPubSubSynchronizer(rs.GetClient(), c.options.InvalidationChannel, c.options.PodID)
	synchronizer.OnDecodeError(c.reportError)
	synchronizer.OnInvalidate(c.handleInvalidation)

	timeout := c.options.ContextTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := synchronizer.Subscribe(ctx); err != nil {
		return backendError("subscribe", c.options.InvalidationChannel, err)
	}
	c.synchronizer = synchronizer
	return nil
}

// Set serializes value and writes it to the remote store, with ttl when it is
// positive. The serialized form is then mirrored locally; a local failure is
// logged and never returned.
func (c *Coordinator) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := validateWrite(key, value, ttl); err != nil {
		return err
	}
	ttl = c.roundTTL(ttl)

	data, err := storage.EncodeValue(c.serializer, value)
	if err != nil {
		return c.fail(serializationError("set", key, err))
	}

	if err := c.remote.Set(ctx, key, data, ttl); err != nil {
		return c.fail(backendError("set", key, err))
	}
	if c.options.DebugMode {
		c.logger.Debug("Set: stored in remote cache", "key", key, "ttl", ttl)
	}

	c.replaceLocal(key, data, ttl)
	c.publish(ctx, ActionInvalidate, key)
	return nil
}

// Get reads key into dest, which must be a non-nil pointer. It reports
// found == false with a nil error when the key does not exist.
func (c *Coordinator) Get(ctx context.Context, key string, dest any) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if dest == nil {
		return false, ErrNilDestination
	}

	data, found, err := c.load(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := storage.DecodeValue(c.serializer, data, dest); err != nil {
		return false, c.fail(serializationError("get", key, err))
	}
	return true, nil
}

// GetAs is Get for callers that prefer a typed return value.
func GetAs[T any](ctx context.Context, c *Coordinator, key string) (T, bool, error) {
	var v T
	found, err := c.Get(ctx, key, &v)
	return v, found, err
}

type fetched struct {
	data  []byte
	found bool
}

// load returns the serialized value for key, local first. Concurrent remote
// fetches of one key share a single round trip.
func (c *Coordinator) load(ctx context.Context, key string) ([]byte, bool, error) {
	if c.local != nil {
		if data, ok := c.local.Get(key); ok {
			c.record(&c.stats.LocalHits)
			if c.options.DebugMode {
				c.logger.Debug("Get: found in local cache", "key", key)
			}
			return data, true, nil
		}
		c.record(&c.stats.LocalMisses)
	}

	res, err, shared := c.group.Do(key, func() (any, error) {
		// Waiters share this fetch, so one caller's cancellation must not
		// fail the others.
		ctx := context.WithoutCancel(ctx)
		if c.local == nil {
			data, found, err := c.remote.Get(ctx, key)
			if err != nil {
				return nil, backendError("get", key, err)
			}
			return fetched{data: data, found: found}, nil
		}

		seen := c.epochs.snapshot(key)
		data, ttl, found, err := c.remote.GetWithTTL(ctx, key)
		if err != nil {
			return nil, backendError("get", key, err)
		}
		if found {
			c.fillLocal(key, seen, data, ttl)
		}
		return fetched{data: data, found: found}, nil
	})
	if err != nil {
		c.record(&c.stats.RemoteErrors)
		return nil, false, c.fail(err)
	}

	f := res.(fetched)
	if !f.found {
		c.record(&c.stats.RemoteMisses)
		if c.options.DebugMode {
			c.logger.Debug("Get: not found in remote cache", "key", key)
		}
		return nil, false, nil
	}
	c.record(&c.stats.RemoteHits)
	if c.options.DebugMode {
		c.logger.Debug("Get: found in remote cache", "key", key, "shared", shared)
	}
	return f.data, true, nil
}

// Increment atomically adds delta to the counter at key and returns the new
// value. The local copy is evicted first so no reader here sees a stale
// count. A positive ttl is applied when the result equals delta, which is
// the case for a new counter and for one that held zero.
func (c *Coordinator) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.count(ctx, "incr", key, delta, ttl, c.remote.IncrBy, delta)
}

// Decrement atomically subtracts delta from the counter at key. It follows
// the same rules as Increment.
func (c *Coordinator) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.count(ctx, "decr", key, delta, ttl, c.remote.DecrBy, -delta)
}

func (c *Coordinator) count(ctx context.Context, op, key string, delta int64, ttl time.Duration,
	apply func(context.Context, string, int64) (int64, error), created int64) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if delta <= 0 {
		return 0, ErrInvalidDelta
	}
	if ttl < 0 {
		return 0, ErrNegativeTTL
	}
	ttl = c.roundTTL(ttl)

	c.evictLocal(key)
	n, err := apply(ctx, key, delta)
	c.evictLocal(key)
	if err != nil {
		return 0, c.fail(backendError(op, key, err))
	}

	if ttl > 0 && n == created {
		if _, err := c.remote.Expire(ctx, key, ttl); err != nil {
			return n, c.fail(backendError("expire", key, err))
		}
	}

	c.publish(ctx, ActionInvalidate, key)
	return n, nil
}

// Delete evicts keys locally and removes them from the remote store,
// returning how many existed remotely. Local eviction happens even when the
// remote delete fails.
func (c *Coordinator) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, ErrInvalidKey
	}
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return 0, err
		}
	}

	c.evictLocal(keys...)
	n, err := c.remote.Delete(ctx, keys...)
	c.evictLocal(keys...)
	if err != nil {
		return 0, c.fail(backendError("delete", strings.Join(keys, ","), err))
	}
	if c.options.DebugMode {
		c.logger.Debug("Delete: removed from remote cache", "keys", keys, "removed", n)
	}

	c.publish(ctx, ActionDelete, keys...)
	return n, nil
}

// SetIfAbsent writes value only when key does not exist and reports whether
// it did.
func (c *Coordinator) SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateWrite(key, value, ttl); err != nil {
		return false, err
	}
	ttl = c.roundTTL(ttl)

	data, err := storage.EncodeValue(c.serializer, value)
	if err != nil {
		return false, c.fail(serializationError("setnx", key, err))
	}

	created, err := c.remote.SetIfAbsent(ctx, key, data, ttl)
	if err != nil {
		return false, c.fail(backendError("setnx", key, err))
	}
	if created {
		c.evictLocal(key)
		c.publish(ctx, ActionInvalidate, key)
	}
	return created, nil
}

// Expire sets a time to live on key and drops the local copy, whose own
// expiry no longer matches.
func (c *Coordinator) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl < 0 {
		return false, ErrNegativeTTL
	}
	ttl = c.roundTTL(ttl)

	ok, err := c.remote.Expire(ctx, key, ttl)
	if err != nil {
		return false, c.fail(backendError("expire", key, err))
	}
	c.evictLocal(key)
	c.publish(ctx, ActionInvalidate, key)
	return ok, nil
}

// Persist removes the time to live from key.
func (c *Coordinator) Persist(ctx context.Context, key string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	ok, err := c.remote.Persist(ctx, key)
	if err != nil {
		return false, c.fail(backendError("persist", key, err))
	}
	return ok, nil
}

// Exists asks the remote store whether key is present.
func (c *Coordinator) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	ok, err := c.remote.Exists(ctx, key)
	if err != nil {
		return false, c.fail(backendError("exists", key, err))
	}
	return ok, nil
}

// ClearLocal drops every local entry in this process and, when pub/sub
// invalidation is enabled, in every other process. The remote store is not
// touched.
func (c *Coordinator) ClearLocal(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.local == nil {
		return nil
	}
	c.clearLocal()
	c.publish(ctx, ActionClear)
	return nil
}

// LocalEnabled reports whether the local layer is active.
func (c *Coordinator) LocalEnabled() bool {
	return c.local != nil
}

// LocalMetrics returns the local cache metrics, zero when disabled.
func (c *Coordinator) LocalMetrics() LocalCacheMetrics {
	if c.local == nil {
		return LocalCacheMetrics{}
	}
	return c.local.Metrics()
}

// Stats returns coordinator statistics.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		LocalHits:     atomic.LoadInt64(&c.stats.LocalHits),
		LocalMisses:   atomic.LoadInt64(&c.stats.LocalMisses),
		RemoteHits:    atomic.LoadInt64(&c.stats.RemoteHits),
		RemoteMisses:  atomic.LoadInt64(&c.stats.RemoteMisses),
		RemoteErrors:  atomic.LoadInt64(&c.stats.RemoteErrors),
		LocalFailures: atomic.LoadInt64(&c.stats.LocalFailures),
		Invalidations: atomic.LoadInt64(&c.stats.Invalidations),
		BloomMemoHits: atomic.LoadInt64(&c.stats.BloomMemoHits),
	}
	if c.local != nil {
		s.LocalSize = c.local.Metrics().Size
	}
	return s
}

// Close stops pub/sub, closes the local caches and, when New created it,
// the remote store. Further calls return ErrCacheClosed.
func (c *Coordinator) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	var errs []error
	if c.synchronizer != nil {
		if err := c.synchronizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsRemote {
		if err := c.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closeLocal()

	return errors.Join(errs...)
}

func (c *Coordinator) closeLocal() {
	if c.local != nil {
		c.local.Close()
	}
	if c.memo != nil {
		c.memo.Close()
	}
}

// handleInvalidation applies an event published by another process.
func (c *Coordinator) handleInvalidation(event InvalidationEvent) {
	if c.options.DebugMode {
		c.logger.Info("Received synchronization event", "action", event.Action, "keys", event.Keys, "sender", event.Sender)
	}
	if c.local == nil || atomic.LoadInt32(&c.closed) != 0 {
		return
	}

	switch event.Action {
	case ActionInvalidate, ActionDelete:
		c.evictLocal(event.Keys...)
		c.record(&c.stats.Invalidations)
	case ActionClear:
		c.clearLocal()
		c.record(&c.stats.Invalidations)
	default:
		c.logger.Warn("Sync: unknown action", "action", event.Action, "sender", event.Sender)
	}
}

// publish tells other processes to drop keys. Failures only widen the
// staleness window, so they are reported and swallowed.
func (c *Coordinator) publish(ctx context.Context, action Action, keys ...string) {
	if c.synchronizer == nil {
		return
	}
	err := c.synchronizer.Publish(ctx, InvalidationEvent{
		Keys:   keys,
		Sender: c.options.PodID,
		Action: action,
	})
	if err != nil {
		c.reportError(err)
		c.logger.Warn("failed to publish invalidation", "action", action, "keys", keys, "error", err)
	}
}

// replaceLocal mirrors a value this process just wrote. Fills that read the
// previous value are cancelled.
func (c *Coordinator) replaceLocal(key string, data []byte, ttl time.Duration) {
	c.group.Forget(key)
	c.filter.Forget(key)
	if c.local == nil {
		return
	}
	c.epochs.invalidate(key, func() { c.storeLocal(key, data, ttl) })
}

// fillLocal caches a value read remotely, unless key was invalidated after
// the snapshot seen was taken.
func (c *Coordinator) fillLocal(key string, seen uint64, data []byte, ttl time.Duration) {
	if c.local == nil {
		return
	}
	c.epochs.fill(key, seen, func() { c.storeLocal(key, data, ttl) })
}

// storeLocal writes the local entry. The local TTL is the remote TTL capped
// by LocalCacheConfig.DefaultTTL.
func (c *Coordinator) storeLocal(key string, data []byte, ttl time.Duration) {
	if limit := c.options.LocalCacheConfig.DefaultTTL; limit > 0 && (ttl <= 0 || ttl > limit) {
		ttl = limit
	}
	if !c.local.Set(key, data, ttl) {
		c.record(&c.stats.LocalFailures)
		c.logger.Warn("local cache rejected entry", "key", key, "size", len(data))
	}
}

// evictLocal drops keys locally and cancels in-flight fills of them.
// Mutations call it before and after the remote write: the second call
// catches a fill that read the old value while the write was running.
func (c *Coordinator) evictLocal(keys ...string) {
	for _, key := range keys {
		c.group.Forget(key)
		c.filter.Forget(key)
		if c.local != nil {
			c.epochs.invalidate(key, func() { c.local.Delete(key) })
		}
	}
}

func (c *Coordinator) clearLocal() {
	c.filter.ForgetAll()
	c.epochs.invalidateAll(c.local.Clear)
}

// roundTTL rounds a positive ttl up to the configured granularity.
func (c *Coordinator) roundTTL(ttl time.Duration) time.Duration {
	g := c.options.TTLGranularity
	if g <= 0 || ttl <= 0 || ttl%g == 0 {
		return ttl
	}
	return (ttl/g + 1) * g
}

func (c *Coordinator) record(counter *int64) {
	if c.options.EnableMetrics {
		atomic.AddInt64(counter, 1)
	}
}

func (c *Coordinator) fail(err error) error {
	if !errors.Is(err, ErrValidation) {
		c.reportError(err)
	}
	return err
}

func (c *Coordinator) reportError(err error) {
	if c.options.OnError != nil {
		c.options.OnError(err)
	}
	if c.options.DebugMode {
		c.logger.Error("operation failed", "error", err)
	}
}

func (c *Coordinator) checkOpen() error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrCacheClosed
	}
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// validateField rejects a blank hash field.
func validateField(field string) error {
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("%w: blank hash field", ErrInvalidKey)
	}
	return nil
}

func validateWrite(key string, value any, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if isNil(value) {
		return ErrNilValue
	}
	if ttl < 0 {
		return ErrNegativeTTL
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
