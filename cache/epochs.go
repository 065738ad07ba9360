package cache

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const epochStripes = 256

// keyEpochs orders local-cache fills against invalidations. A reader takes a
// snapshot before its remote read and may only fill the local cache if no
// invalidation of the key happened since. Keys share stripes, so an
// invalidation can also cancel an unrelated fill; that only costs a miss.
type keyEpochs struct {
	stripes [epochStripes]epochStripe
	global  atomic.Uint64
}

type epochStripe struct {
	mu sync.Mutex
	n  atomic.Uint64
}

func (e *keyEpochs) stripe(key string) *epochStripe {
	return &e.stripes[xxhash.Sum64String(key)%epochStripes]
}

// snapshot returns the current epoch of key.
func (e *keyEpochs) snapshot(key string) uint64 {
	return e.stripe(key).n.Load() + e.global.Load()
}

// invalidate bumps key's epoch and runs fn while no fill of key can run.
func (e *keyEpochs) invalidate(key string, fn func()) {
	s := e.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n.Add(1)
	fn()
}

// fill runs fn only if key's epoch still equals seen.
func (e *keyEpochs) fill(key string, seen uint64, fn func()) bool {
	s := e.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n.Load()+e.global.Load() != seen {
		return false
	}
	fn()
	return true
}

// invalidateAll bumps every epoch and runs fn while no fill can run.
func (e *keyEpochs) invalidateAll(fn func()) {
	for i := range e.stripes {
		e.stripes[i].mu.Lock()
	}
	defer func() {
		for i := range e.stripes {
			e.stripes[i].mu.Unlock()
		}
	}()
	e.global.Add(1)
	fn()
}
