// Package keylock provides striped mutexes keyed by string, so that work on
// unrelated keys proceeds in parallel while work on one key is serialized.
package keylock

import (
	"hash/maphash"
	"sync"
)

const defaultStripes = 64

// Striped is a fixed set of mutexes selected by key hash. Two keys may share
// a stripe; that only costs parallelism, never correctness.
type Striped struct {
	seed    maphash.Seed
	stripes []sync.Mutex
}

// New returns n stripes, or a default count when n <= 0.
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{
		seed:    maphash.MakeSeed(),
		stripes: make([]sync.Mutex, n),
	}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	h := maphash.String(s.seed, key)
	return &s.stripes[h%uint64(len(s.stripes))]
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) (unlock func()) {
	mu := s.stripe(key)
	mu.Lock()
	return mu.Unlock
}

// Do runs fn while holding the stripe for key.
func (s *Striped) Do(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}
