// Package bloom implements a probabilistic membership filter stored as a bit
// array in the remote store.
//
// Bits are only ever set, never cleared, so a value that was fully added is
// always reported present. Add is not atomic across its k bits: a concurrent
// Contains may observe a partially added value and answer false until the
// Add completes.
package bloom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fengzhizi715/multi-level-cache/storage"
)

var (
	// ErrInvalidArgument is returned for a blank filter key or a nil value.
	ErrInvalidArgument = errors.New("bloom: invalid argument")

	// ErrEncoding is returned when a value cannot be serialized for hashing.
	ErrEncoding = errors.New("bloom: cannot encode value")
)

// BitStore is the bit-level subset of the remote store.
type BitStore interface {
	GetBit(ctx context.Context, key string, offset int64) (bool, error)
	SetBit(ctx context.Context, key string, offset int64, value bool) (bool, error)
}

// BatchBitStore is implemented by stores that can read or set several bits
// of one key in a single round trip.
type BatchBitStore interface {
	GetBits(ctx context.Context, key string, offsets []int64) ([]bool, error)
	SetBits(ctx context.Context, key string, offsets []int64) error
}

// Memo remembers positive answers. The local cache satisfies it.
type Memo interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) bool
}

var memoMarker = []byte{1}

// memoStripes bounds the generation table. Filters sharing a stripe also
// share its generation, so forgetting one only costs the others memo misses.
const memoStripes = 256

// Filter answers membership questions against bit arrays in a BitStore.
type Filter struct {
	store      BitStore
	gen        *OffsetGenerator
	serializer storage.Serializer
	memo       Memo
	memoTTL    time.Duration
	onMemoHit  func()

	// generations are part of every memo key; bumping one makes the memo
	// entries of its filters unreachable.
	generations [memoStripes]atomic.Uint64
}

// Option configures a Filter.
type Option func(*Filter)

// WithOffsetGenerator replaces the default k = 8, 2^32-bit generator.
func WithOffsetGenerator(g *OffsetGenerator) Option {
	return func(f *Filter) { f.gen = g }
}

// WithSerializer sets how non-string values are turned into bytes before
// hashing. Defaults to JSON.
func WithSerializer(s storage.Serializer) Option {
	return func(f *Filter) { f.serializer = s }
}

// WithMemo memoizes positive answers in m for ttl. A zero ttl keeps them
// until the memo evicts them.
func WithMemo(m Memo, ttl time.Duration) Option {
	return func(f *Filter) {
		f.memo = m
		f.memoTTL = ttl
	}
}

// WithMemoHitHook registers fn to be called on every memo hit.
func WithMemoHitHook(fn func()) Option {
	return func(f *Filter) { f.onMemoHit = fn }
}

// New creates a Filter over store.
func New(store BitStore, opts ...Option) *Filter {
	f := &Filter{
		store:      store,
		gen:        DefaultOffsetGenerator(),
		serializer: storage.NewJSONSerializer(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Offsets returns the bit positions value maps to. It is exposed so callers
// can verify determinism or pre-compute positions.
func (f *Filter) Offsets(value any) ([]int64, error) {
	data, err := f.encode(value)
	if err != nil {
		return nil, err
	}
	return f.gen.Offsets(data), nil
}

// Add sets all bits for value in the array stored at filterKey.
// It returns false without writing when value already tests present.
func (f *Filter) Add(ctx context.Context, filterKey string, value any) (bool, error) {
	data, err := f.prepare(filterKey, value)
	if err != nil {
		return false, err
	}
	offsets := f.gen.Offsets(data)
	mk := f.memoKey(filterKey, data)

	present, err := f.test(ctx, filterKey, mk, offsets)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}

	if batch, ok := f.store.(BatchBitStore); ok {
		if err := batch.SetBits(ctx, filterKey, offsets); err != nil {
			return false, fmt.Errorf("bloom: add to %q: %w", filterKey, err)
		}
	} else {
		for _, off := range offsets {
			if _, err := f.store.SetBit(ctx, filterKey, off, true); err != nil {
				return false, fmt.Errorf("bloom: add to %q: %w", filterKey, err)
			}
		}
	}

	f.remember(mk)
	return true, nil
}

// Contains reports whether every bit for value is set. False positives are
// possible; false negatives are not once an Add has completed.
func (f *Filter) Contains(ctx context.Context, filterKey string, value any) (bool, error) {
	data, err := f.prepare(filterKey, value)
	if err != nil {
		return false, err
	}
	return f.test(ctx, filterKey, f.memoKey(filterKey, data), f.gen.Offsets(data))
}

// Forget drops the memoized answers for filterKey. Call it whenever the bit
// array at filterKey is deleted, overwritten or has bits cleared.
func (f *Filter) Forget(filterKey string) {
	f.generations[xxhash.Sum64String(filterKey)%memoStripes].Add(1)
}

// ForgetAll drops every memoized answer.
func (f *Filter) ForgetAll() {
	for i := range f.generations {
		f.generations[i].Add(1)
	}
}

// test checks the memo under mk, then the bits. mk is computed by the caller
// before any remote read, so a Forget that races with the read leaves the
// answer under a stale generation.
func (f *Filter) test(ctx context.Context, filterKey, mk string, offsets []int64) (bool, error) {
	if f.memo != nil {
		if _, ok := f.memo.Get(mk); ok {
			if f.onMemoHit != nil {
				f.onMemoHit()
			}
			return true, nil
		}
	}

	if batch, ok := f.store.(BatchBitStore); ok {
		bits, err := batch.GetBits(ctx, filterKey, offsets)
		if err != nil {
			return false, fmt.Errorf("bloom: test %q: %w", filterKey, err)
		}
		for _, set := range bits {
			if !set {
				return false, nil
			}
		}
	} else {
		for _, off := range offsets {
			set, err := f.store.GetBit(ctx, filterKey, off)
			if err != nil {
				return false, fmt.Errorf("bloom: test %q: %w", filterKey, err)
			}
			if !set {
				return false, nil
			}
		}
	}

	// Negatives are never memoized: the array only grows.
	f.remember(mk)
	return true, nil
}

func (f *Filter) remember(mk string) {
	if f.memo != nil {
		f.memo.Set(mk, memoMarker, f.memoTTL)
	}
}

func (f *Filter) prepare(filterKey string, value any) ([]byte, error) {
	if strings.TrimSpace(filterKey) == "" {
		return nil, fmt.Errorf("%w: blank filter key", ErrInvalidArgument)
	}
	return f.encode(value)
}

func (f *Filter) encode(value any) ([]byte, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil value", ErrInvalidArgument)
	}
	data, err := storage.EncodeValue(f.serializer, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return data, nil
}

// memoKey is "<len(filterKey)>:<filterKey><generation>:<data>". The length
// prefix keeps ("bf:users", "alice") and ("bf:usersa", "lice") apart.
func (f *Filter) memoKey(filterKey string, data []byte) string {
	g := f.generations[xxhash.Sum64String(filterKey)%memoStripes].Load()
	var b strings.Builder
	b.Grow(len(filterKey) + len(data) + 24)
	b.WriteString(strconv.Itoa(len(filterKey)))
	b.WriteByte(':')
	b.WriteString(filterKey)
	b.WriteString(strconv.FormatUint(g, 10))
	b.WriteByte(':')
	b.Write(data)
	return b.String()
}
