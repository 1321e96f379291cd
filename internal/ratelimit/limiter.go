package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

const (
	DefaultWindow = time.Minute
	DefaultLimit  = 60
	APILimit      = 30

	// RetryHint is the Retry-After sent with every denial.
	RetryHint = 60 * time.Second

	// LocalAddress keys requests whose client address could not be resolved.
	LocalAddress = "local"
	// RootCategory is the category of "/" and of paths with no usable segment.
	RootCategory = "root"

	maxCategoryLen = 64
)

// Limiter applies per-category fixed-window limits through a Store.
type Limiter struct {
	store        Store
	now          func() time.Time
	window       time.Duration
	defaultLimit int
	limits       map[string]int
	logger       log.Logger

	// OnDenied is called for every denied request.
	OnDenied func(key ClientKey, reason Reason)
	// OnFirstDenied is called once per key per window, used for logging.
	OnFirstDenied func(key ClientKey)
	// OnCapacity is called when the store first refuses a new key for lack
	// of room.
	OnCapacity func()
	// OnStoreError is called when the store fails and the request is let through.
	OnStoreError func(err error)
}

type Option func(*Limiter)

func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDefaultLimit sets the per-window limit for categories without their own.
func WithDefaultLimit(n int) Option {
	return func(l *Limiter) { l.defaultLimit = n }
}

// WithCategoryLimit sets the per-window limit for one category.
func WithCategoryLimit(category string, n int) Option {
	return func(l *Limiter) { l.limits[category] = n }
}

func WithLogger(L log.Logger) Option {
	return func(l *Limiter) { l.logger = L }
}

// WithOnDenied sets a callback for every denied request, used for metrics.
func WithOnDenied(fn func(key ClientKey, reason Reason)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnFirstDenied sets a callback for the first denial per key per window.
// Separate from OnDenied so logging stays at one line per offender while
// counters see every denial.
func WithOnFirstDenied(fn func(key ClientKey)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.OnCapacity = fn }
}

func WithOnStoreError(fn func(err error)) Option {
	return func(l *Limiter) { l.OnStoreError = fn }
}

// New returns a Limiter with 60 requests per minute by default, 30 for the
// "api" category, backed by a MemoryStore unless WithStore is given.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:          time.Now,
		window:       DefaultWindow,
		defaultLimit: DefaultLimit,
		limits:       map[string]int{"api": APILimit},
		logger:       log.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	return l
}

// LimitFor returns the per-window limit for category.
func (l *Limiter) LimitFor(category string) int {
	if n, ok := l.limits[category]; ok {
		return n
	}
	return l.defaultLimit
}

// KeyFor derives the bucket for r from the client address resolved by
// httpmw.ClientIPWithOptions and the first path segment.
func KeyFor(r *http.Request) ClientKey {
	addr := httpmw.ClientIPFromContext(r.Context())
	if addr == "" {
		addr = LocalAddress
	}
	return ClientKey{Address: addr, Category: Category(r.URL.Path)}
}

// Category returns the first segment of p, or RootCategory.
func Category(p string) string {
	p = strings.TrimLeft(p, "/")
	seg, _, _ := strings.Cut(p, "/")
	if seg == "" || len(seg) > maxCategoryLen {
		return RootCategory
	}
	return seg
}

// Admit counts one request for key. A store failure is reported through
// OnStoreError and the request is allowed.
func (l *Limiter) Admit(ctx context.Context, key ClientKey) Decision {
	limit := l.LimitFor(key.Category)
	d, err := l.store.Admit(ctx, key, l.now(), limit, l.window)
	if err != nil {
		if l.OnStoreError != nil {
			l.OnStoreError(err)
		}
		l.logger.Error(ctx, err, "rate limit store failed, allowing request", "category", key.Category)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}
	if d.Allowed {
		return d
	}

	// hooks run after the store has released any lock it holds
	switch {
	case d.Reason == ReasonCapacity && d.First && l.OnCapacity != nil:
		l.OnCapacity()
	case d.Reason == ReasonLimit && d.First && l.OnFirstDenied != nil:
		l.OnFirstDenied(key)
	}
	if l.OnDenied != nil {
		l.OnDenied(key, d.Reason)
	}
	return d
}

// Enforce admits r, sets X-RateLimit-Limit and X-RateLimit-Remaining, and
// writes the 429 when the request is denied. It reports whether the caller
// should go on serving r.
func (l *Limiter) Enforce(w http.ResponseWriter, r *http.Request) bool {
	d := l.Admit(r.Context(), KeyFor(r))
	SetHeaders(w.Header(), d)
	if !d.Allowed {
		WriteDenied(w, d)
		return false
	}
	return true
}

// SetHeaders writes the X-RateLimit-* headers for d.
func SetHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
}

// WriteDenied writes the 429 response. The body says nothing about the
// limit or when it resets.
func WriteDenied(w http.ResponseWriter, d Decision) {
	retry := int(d.RetryAfter / time.Second)
	if retry <= 0 {
		retry = int(RetryHint / time.Second)
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte("Too Many Requests"))
}
