package contenthttp

import (
	"context"
	"sync"
	"time"
)

// AggregatePath marks entries built from the whole article set (lists,
// feeds, the search index). Any invalidation drops them.
const AggregatePath = "/"

const defaultMaxEntries = 1024

type entry struct {
	body        []byte
	contentType string
	expires     time.Time
	paths       []string
}

// Cache is a small TTL cache of rendered responses. Each entry records the
// site paths it was built for so the revalidate webhook can drop exactly
// those. It implements revalidate.Invalidator.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]*entry

	onEvict func(n int)
}

type CacheOption func(*Cache)

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func WithCacheMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithOnInvalidate reports how many entries each Invalidate call removed.
func WithOnInvalidate(fn func(n int)) CacheOption {
	return func(c *Cache) { c.onEvict = fn }
}

// NewCache returns a cache holding entries for ttl. A ttl <= 0 disables
// caching: Get always misses and Set is a no-op.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		ttl:     ttl,
		max:     defaultMaxEntries,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) Get(key string) ([]byte, string, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, "", false
	}
	return e.body, e.contentType, true
}

// Set stores body under key. paths are the site paths whose revalidation
// should drop the entry.
func (c *Cache) Set(key string, body []byte, contentType string, paths ...string) {
	if c == nil || c.ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictExpiredLocked(now)
		if len(c.entries) >= c.max {
			// full of live entries, skip rather than grow
			return
		}
	}
	c.entries[key] = &entry{
		body:        body,
		contentType: contentType,
		expires:     now.Add(c.ttl),
		paths:       append([]string(nil), paths...),
	}
}

func (c *Cache) evictExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

// Invalidate drops entries tagged with any of paths plus every aggregate
// entry. Revalidating "/" empties the cache.
func (c *Cache) Invalidate(_ context.Context, paths []string) {
	if c == nil {
		return
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}

	c.mu.Lock()
	n := 0
	for k, e := range c.entries {
		if want[AggregatePath] || matches(e.paths, want) {
			delete(c.entries, k)
			n++
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		c.onEvict(n)
	}
}

func matches(entryPaths []string, want map[string]bool) bool {
	for _, p := range entryPaths {
		if p == AggregatePath || want[p] {
			return true
		}
	}
	return false
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
