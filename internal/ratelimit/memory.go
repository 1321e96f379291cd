package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 100_000
	DefaultSweepEvery = 100
)

// windowCounter is one client's current window.
type windowCounter struct {
	count  int
	start  time.Time
	window time.Duration
}

func (c *windowCounter) expired(now time.Time) bool {
	return now.Sub(c.start) > c.window
}

// MemoryStore is an in-process Store guarded by a single mutex.
//
// Expired counters are removed by a sweep that runs on a sampled fraction of
// admissions. When MaxEntries is reached a sweep is forced, and if the store
// is still full new keys are denied with ReasonCapacity while existing keys
// keep being counted.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[ClientKey]*windowCounter
	atCap    bool

	maxEntries int
	sample     func() bool
}

type MemoryOption func(*MemoryStore)

// WithMaxEntries bounds the number of tracked keys, <= 0 disables the bound.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxEntries = n }
}

// WithSweepEvery sweeps on roughly one in n admissions, n <= 0 disables
// sampled sweeps.
func WithSweepEvery(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n <= 0 {
			s.sample = func() bool { return false }
			return
		}
		s.sample = func() bool { return rand.IntN(n) == 0 }
	}
}

// withSampler replaces the sweep sampler, for tests.
func withSampler(fn func() bool) MemoryOption {
	return func(s *MemoryStore) { s.sample = fn }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		counters:   make(map[ClientKey]*windowCounter),
		maxEntries: DefaultMaxEntries,
	}
	WithSweepEvery(DefaultSweepEvery)(s)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Admit(_ context.Context, key ClientKey, now time.Time, limit int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sample() {
		s.sweepLocked(now)
	}

	c, ok := s.counters[key]
	switch {
	case ok && !c.expired(now):
		c.count++
	case ok:
		// replace, never merge, an expired window
		*c = windowCounter{count: 1, start: now, window: window}
	default:
		if s.maxEntries > 0 && len(s.counters) >= s.maxEntries {
			s.sweepLocked(now)
			if len(s.counters) >= s.maxEntries {
				first := !s.atCap
				s.atCap = true
				return Decision{
					Reason:     ReasonCapacity,
					Limit:      limit,
					RetryAfter: RetryHint,
					ResetAt:    now.Add(window),
					First:      first,
				}, nil
			}
		}
		s.atCap = false
		c = &windowCounter{count: 1, start: now, window: window}
		s.counters[key] = c
	}
	return decide(c.count, limit, c.start, window), nil
}

// Sweep removes expired counters and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for k, c := range s.counters {
		if c.expired(now) {
			delete(s.counters, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
