package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fengzhizi715/multi-level-cache/storage"
)

type user struct {
	Name string `json:"name" msgpack:"name"`
	Age  int    `json:"age" msgpack:"age"`
}

func testOptions(mr *miniredis.Miniredis) Options {
	opts := DefaultOptions()
	opts.PodID = "pod-a"
	opts.RedisAddrs = []string{mr.Addr()}
	opts.InvalidationChannel = ""
	opts.BloomWidth = 1 << 20
	opts.LocalCacheConfig.Policy = PolicyLRU
	opts.LocalCacheConfig.MaxSize = 1000
	return opts
}

func newTestCoordinator(t *testing.T, mr *miniredis.Miniredis, modify ...func(*Options)) *Coordinator {
	t.Helper()
	opts := testOptions(mr)
	for _, m := range modify {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func withoutLocal(o *Options) { o.LocalCacheConfig.Enabled = false }

func TestNewRejectsInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.PodID = ""

	_, err := New(opts)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := testOptions(mr)
	opts.DialTimeout = 200 * time.Millisecond
	mr.Close()

	_, err := New(opts)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestNewWithDepsRequiresRemote(t *testing.T) {
	_, err := NewWithDeps(DefaultOptions(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRoundTrip(t *testing.T) {
	for _, local := range []bool{true, false} {
		t.Run(fmt.Sprintf("local=%v", local), func(t *testing.T) {
			mr := miniredis.RunT(t)
			c := newTestCoordinator(t, mr, func(o *Options) { o.LocalCacheConfig.Enabled = local })
			ctx := context.Background()
			assert.Equal(t, local, c.LocalEnabled())

			require.NoError(t, c.Set(ctx, "u:1", user{Name: "a", Age: 3}, 0))
			got, found, err := GetAs[user](ctx, c, "u:1")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, user{Name: "a", Age: 3}, got)

			require.NoError(t, c.Set(ctx, "s", "plain text", 0))
			s, found, err := GetAs[string](ctx, c, "s")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "plain text", s)

			require.NoError(t, c.Set(ctx, "m", map[string]int{"x": 1, "y": 2}, 0))
			m, _, err := GetAs[map[string]int](ctx, c, "m")
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"x": 1, "y": 2}, m)

			require.NoError(t, c.Set(ctx, "n", 42, 0))
			n, _, err := GetAs[int](ctx, c, "n")
			require.NoError(t, err)
			assert.Equal(t, 42, n)
		})
	}
}

func TestRoundTripMsgpack(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr, func(o *Options) { o.SerializationFormat = storage.FormatMsgpack })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u:1", user{Name: "b", Age: 7}, 0))
	c.local.Clear()

	got, found, err := GetAs[user](ctx, c, "u:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, user{Name: "b", Age: 7}, got)
}

func TestSetDeleteGetIsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u:1", map[string]string{"name": "a"}, 0))
	n, err := c.Delete(ctx, "u:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var got map[string]string
	found, err := c.Get(ctx, "u:1", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestDeleteEvictsLocalEvenWhenRemoteMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	c.local.Set("ghost", []byte(`"stale"`), 0)

	n, err := c.Delete(ctx, "ghost", "other")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, found := c.local.Get("ghost")
	assert.False(t, found)
}

func TestGetMissIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)

	var s string
	found, err := c.Get(context.Background(), "missing", &s)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(1), c.Stats().RemoteMisses)
}

func TestSetStoresSerializedForm(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u:1", map[string]string{"name": "a"}, 0))
	require.NoError(t, c.Set(ctx, "raw", "as-is", 0))

	v, err := mr.Get("u:1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a"}`, v)

	local, found := c.local.Get("u:1")
	require.True(t, found)
	assert.Equal(t, v, string(local), "local copy must match the remote bytes")

	v, err = mr.Get("raw")
	require.NoError(t, err)
	assert.Equal(t, "as-is", v)
}

func TestGetReadsThroughAndPopulatesLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	require.NoError(t, mr.Set("k", `"from-remote"`))

	var s string
	found, err := c.Get(ctx, "k", &s)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "from-remote", s)

	// Served locally now: a remote change is not seen until invalidation.
	require.NoError(t, mr.Set("k", `"changed"`))
	found, err = c.Get(ctx, "k", &s)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "from-remote", s)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.RemoteHits)
	assert.Equal(t, int64(1), stats.LocalHits)
	assert.Equal(t, int64(1), stats.LocalMisses)
	assert.Equal(t, int64(1), stats.LocalSize)
}

func TestLocalTTLFollowsRemoteTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Second))
	c.local.Clear()

	var s string
	_, err := c.Get(ctx, "k", &s)
	require.NoError(t, err)
	_, found := c.local.Get("k")
	require.True(t, found)

	time.Sleep(1100 * time.Millisecond)
	_, found = c.local.Get("k")
	assert.False(t, found, "local copy must not outlive the remote ttl")
}

func TestTTLRoundedToGranularity(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 1500*time.Millisecond))
	assert.Equal(t, 2*time.Second, mr.TTL("k"))

	require.NoError(t, c.Set(ctx, "exact", "v", 3*time.Second))
	assert.Equal(t, 3*time.Second, mr.TTL("exact"))

	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	assert.Zero(t, mr.TTL("forever"))
}

func TestIncrementDecrement(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	n, err := c.Increment(ctx, "hits", 1, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 10*time.Second, mr.TTL("hits"))

	n, err = c.Increment(ctx, "hits", 4, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 10*time.Second, mr.TTL("hits"), "ttl applies only when the counter is created")

	n, err = c.Decrement(ctx, "hits", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = c.Decrement(ctx, "debt", 2, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), n)
	assert.Equal(t, 5*time.Second, mr.TTL("debt"))
}

func TestCounterTTLOnlyWhenResultEqualsDelta(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	// An existing counter at zero is indistinguishable from a fresh one.
	require.NoError(t, mr.Set("zero", "0"))
	n, err := c.Increment(ctx, "zero", 3, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 10*time.Second, mr.TTL("zero"))

	require.NoError(t, mr.Set("five", "5"))
	n, err = c.Increment(ctx, "five", 3, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Zero(t, mr.TTL("five"))
}

func TestIncrementClearsLocalCopy(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	_, err := c.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)

	n, found, err := GetAs[int64](ctx, c, "hits")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), n)

	_, err = c.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)

	n, _, err = GetAs[int64](ctx, c, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNoStaleCounterAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestCoordinator(t, mr, func(o *Options) { o.PodID = "pod-a" })
	b := newTestCoordinator(t, mr, func(o *Options) { o.PodID = "pod-b" })
	ctx := context.Background()

	_, err := a.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)

	// b holds a local snapshot of the counter.
	n, _, err := GetAs[int64](ctx, b, "hits")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = a.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)

	n, err = b.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "increment must be computed remotely")

	n, _, err = GetAs[int64](ctx, b, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPubSubInvalidatesOtherProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	withSync := func(pod string) func(*Options) {
		return func(o *Options) {
			o.PodID = pod
			o.InvalidationChannel = "cache:invalidate"
		}
	}
	a := newTestCoordinator(t, mr, withSync("pod-a"))
	b := newTestCoordinator(t, mr, withSync("pod-b"))
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", "v1", 0))
	s, _, err := GetAs[string](ctx, b, "k")
	require.NoError(t, err)
	require.Equal(t, "v1", s)

	require.NoError(t, a.Set(ctx, "k", "v2", 0))
	assert.Eventually(t, func() bool {
		s, _, err := GetAs[string](ctx, b, "k")
		return err == nil && s == "v2"
	}, 2*time.Second, 20*time.Millisecond)

	_, err = a.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)
	_, _, err = GetAs[int64](ctx, b, "hits")
	require.NoError(t, err)
	_, err = a.Increment(ctx, "hits", 1, 0)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		n, _, err := GetAs[int64](ctx, b, "hits")
		return err == nil && n == 2
	}, 2*time.Second, 20*time.Millisecond)

	assert.Positive(t, b.Stats().Invalidations)
}

func TestClearLocalBroadcasts(t *testing.T) {
	mr := miniredis.RunT(t)
	withSync := func(pod string) func(*Options) {
		return func(o *Options) {
			o.PodID = pod
			o.InvalidationChannel = "cache:invalidate"
		}
	}
	a := newTestCoordinator(t, mr, withSync("pod-a"))
	b := newTestCoordinator(t, mr, withSync("pod-b"))
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", "v", 0))
	_, found := b.local.Get("k")
	require.True(t, found)

	require.NoError(t, a.ClearLocal(ctx))
	assert.Eventually(t, func() bool {
		_, found := b.local.Get("k")
		return !found
	}, 2*time.Second, 20*time.Millisecond)

	// The remote copy is untouched.
	s, found, err := GetAs[string](ctx, b, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", s)
}

func TestValidationTouchesNoBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()
	var nilUser *user
	var dest string

	before := mr.CommandCount()
	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"blank key set", func() error { return c.Set(ctx, " ", "v", 0) }, ErrInvalidKey},
		{"nil value", func() error { return c.Set(ctx, "k", nil, 0) }, ErrNilValue},
		{"typed nil value", func() error { return c.Set(ctx, "k", nilUser, 0) }, ErrNilValue},
		{"negative ttl", func() error { return c.Set(ctx, "k", "v", -time.Second) }, ErrNegativeTTL},
		{"blank key get", func() error { _, err := c.Get(ctx, "", &dest); return err }, ErrInvalidKey},
		{"nil destination", func() error { _, err := c.Get(ctx, "k", nil); return err }, ErrNilDestination},
		{"zero delta", func() error { _, err := c.Increment(ctx, "k", 0, 0); return err }, ErrInvalidDelta},
		{"negative delta", func() error { _, err := c.Decrement(ctx, "k", -1, 0); return err }, ErrInvalidDelta},
		{"counter negative ttl", func() error { _, err := c.Increment(ctx, "k", 1, -time.Second); return err }, ErrNegativeTTL},
		{"no keys", func() error { _, err := c.Delete(ctx); return err }, ErrInvalidKey},
		{"one blank key", func() error { _, err := c.Delete(ctx, "a", ""); return err }, ErrInvalidKey},
		{"expire negative", func() error { _, err := c.Expire(ctx, "k", -time.Second); return err }, ErrNegativeTTL},
		{"negative offset", func() error { _, err := c.GetBit(ctx, "k", -1); return err }, ErrNegativeOffset},
		{"setnx nil", func() error { _, err := c.SetIfAbsent(ctx, "k", nil, 0); return err }, ErrNilValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, before, mr.CommandCount(), "no command may reach redis")
}

func TestBackendFailureLeavesLocalUntouched(t *testing.T) {
	mr := miniredis.RunT(t)
	var reported []error
	var mu sync.Mutex
	c := newTestCoordinator(t, mr, func(o *Options) {
		o.ReadTimeout = 200 * time.Millisecond
		o.DialTimeout = 200 * time.Millisecond
		o.OnError = func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}
	})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v1", 0))
	mr.Close()

	err := c.Set(ctx, "k", "v2", 0)
	require.ErrorIs(t, err, ErrBackend)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "set", opErr.Op)
	assert.Equal(t, "k", opErr.Key)

	local, found := c.local.Get("k")
	require.True(t, found)
	assert.Equal(t, "v1", string(local))

	var s string
	found, err = c.Get(ctx, "missing", &s)
	assert.ErrorIs(t, err, ErrBackend)
	assert.False(t, found)
	assert.Equal(t, int64(1), c.Stats().RemoteErrors)

	mu.Lock()
	assert.Len(t, reported, 2)
	mu.Unlock()
}

func TestSerializationErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	err := c.Set(ctx, "k", make(chan int), 0)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.False(t, mr.Exists("k"))

	require.NoError(t, c.Set(ctx, "text", "not json", 0))
	var n int
	found, err := c.Get(ctx, "text", &n)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.False(t, found)
}

type rejectingLocal struct {
	*LRUCache
}

func (rejectingLocal) Set(string, []byte, time.Duration) bool { return false }

type recordingLogger struct {
	NoOpLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestLocalFailureIsAbsorbed(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := storage.NewRedisStore(storage.RedisConfig{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lru, err := NewLRUCache(10)
	require.NoError(t, err)
	logger := &recordingLogger{}
	opts := testOptions(mr)
	opts.Logger = logger

	c, err := NewWithDeps(opts, store, rejectingLocal{lru})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	s, found, err := GetAs[string](ctx, c, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", s)

	assert.Equal(t, int64(2), c.Stats().LocalFailures)
	logger.mu.Lock()
	assert.Len(t, logger.warns, 2)
	logger.mu.Unlock()
}

func TestNewWithDepsDoesNotCloseRemote(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := storage.NewRedisStore(storage.RedisConfig{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c, err := NewWithDeps(testOptions(mr), store, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, _, err = store.Get(context.Background(), "k")
	assert.NoError(t, err)
}

func TestKeyOperations(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	created, err := c.SetIfAbsent(ctx, "k", "v1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.SetIfAbsent(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)
	s, _, err := GetAs[string](ctx, c, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", s)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Persist(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, mr.TTL("k"))

	ok, err = c.Expire(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, mr.TTL("k"))
	_, found := c.local.Get("k")
	assert.False(t, found, "expire drops the local copy")

	mr.FastForward(31 * time.Second)
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Expire(ctx, "missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentGets(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()
	require.NoError(t, mr.Set("hot", `"value"`))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, found, err := GetAs[string](ctx, c, "hot")
			if err != nil {
				errs <- err
				return
			}
			if !found || s != "value" {
				errs <- fmt.Errorf("unexpected result %q %v", s, found)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseCoordinator(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr)
	ctx := context.Background()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Set(ctx, "k", "v", 0), ErrCacheClosed)
	_, err := c.Get(ctx, "k", new(string))
	assert.ErrorIs(t, err, ErrCacheClosed)
	_, err = c.Increment(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, ErrCacheClosed)
	_, err = c.TryLock(ctx, "l", "t", time.Second)
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestStatsDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCoordinator(t, mr, func(o *Options) { o.EnableMetrics = false })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	_, _, err := GetAs[string](ctx, c, "k")
	require.NoError(t, err)

	stats := c.Stats()
	assert.Zero(t, stats.LocalHits)
	assert.Zero(t, stats.RemoteHits)
}

func TestOpErrorMessage(t *testing.T) {
	err := backendError("get", "k", errors.New("i/o timeout"))
	assert.Equal(t, `get "k": remote store failure: i/o timeout`, err.Error())
	assert.ErrorIs(t, err, ErrBackend)
}
