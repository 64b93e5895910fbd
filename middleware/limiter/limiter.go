// Package limiter applies a token-bucket rate limit per caller.
package limiter

import (
	"sync"

	"golang.org/x/time/rate"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/middleware"
)

// anonymous is the bucket shared by queries without a caller identity.
const anonymous = "anonymous"

// KeyFunc picks the bucket a query is charged to.
type KeyFunc func(*middleware.Context) string

// ByCaller charges each caller identity its own bucket.
func ByCaller(ctx *middleware.Context) string {
	if ctx.Options.CallerID != "" {
		return ctx.Options.CallerID
	}
	return anonymous
}

// Global charges every query to one bucket.
func Global(*middleware.Context) string {
	return anonymous
}

// RateLimiter middleware for rate limiting
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc
	wait  bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithKey overrides the bucket selection. The default is ByCaller.
func WithKey(fn KeyFunc) Option {
	return func(m *RateLimiter) {
		if fn != nil {
			m.key = fn
		}
	}
}

// WithWait blocks until a token is available instead of rejecting.
func WithWait() Option {
	return func(m *RateLimiter) { m.wait = true }
}

// NewRateLimiter creates a rate limiting middleware allowing perSecond
// queries with the given burst. perSecond <= 0 disables limiting.
func NewRateLimiter(perSecond float64, burst int, opts ...Option) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	m := &RateLimiter{
		limit:    limit,
		burst:    burst,
		key:      ByCaller,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute charges one token and rejects the query when none is left.
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	key := m.key(ctx)
	lim := m.limiter(key)

	if m.wait {
		if err := lim.Wait(ctx.Context()); err != nil {
			return medragerr.Wrap(err, medragerr.CodeMiddlewareRateLimited, "rate limit wait aborted", medragerr.Field("key", key))
		}
		return next(ctx)
	}
	if !lim.Allow() {
		return medragerr.New(medragerr.CodeMiddlewareRateLimited, "rate limit exceeded", medragerr.Field("key", key))
	}
	return next(ctx)
}

// Buckets returns the number of tracked keys.
func (m *RateLimiter) Buckets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

func (m *RateLimiter) limiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		lim = rate.NewLimiter(m.limit, m.burst)
		m.limiters[key] = lim
	}
	return lim
}
