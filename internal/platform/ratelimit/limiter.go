// Package ratelimit encapsulates per-registry rate-limit state behind
// a small owned object, per §9's redesign guidance ("global mutable
// rate-limit counters" -> "encapsulate per-registry state in an object
// owned by the HTTP client").
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Registry owns one token-bucket limiter per registry name. Budgets
// are configured statically (§4.1: "when multiple processes share a
// registry, each gets 1/N of the budget, configured statically").
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter)}
}

// Configure sets (or replaces) the per-minute request budget for a
// registry. The bucket refills at requestsPerMinute/60 tokens per second
// and holds at most requestsPerMinute tokens (one minute's budget).
func (r *Registry) Configure(registry string, requestsPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perSecond := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute
	if burst < 1 {
		burst = 1
	}
	r.limiters[registry] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Halve cuts a registry's effective budget in half for the remainder
// of the process lifetime, per §4.1's behavior on HTTP 429.
func (r *Registry) Halve(registry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[registry]
	if !ok {
		return
	}
	newLimit := l.Limit() / 2
	if newLimit < rate.Limit(0.01) {
		newLimit = rate.Limit(0.01)
	}
	l.SetLimit(newLimit)
}

// Acquire blocks until a token is available in registry's bucket,
// lazily creating a default 60 req/min bucket if Configure was never
// called for it (the "fallback scrapers" default from §4.1).
func (r *Registry) Acquire(ctx context.Context, registry string) error {
	r.mu.Lock()
	l, ok := r.limiters[registry]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 60)
		r.limiters[registry] = l
	}
	r.mu.Unlock()
	return l.Wait(ctx)
}

// Usage returns the fraction of a registry's configured rate currently
// reserved, approximated via the limiter's burst vs its current token
// count. Used to feed the `api_rate_limit_usage` metric (§4.1, §4.7).
func (r *Registry) Usage(registry string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[registry]
	if !ok {
		return 0
	}
	tokens := l.Tokens()
	burst := float64(l.Burst())
	if burst <= 0 {
		return 0
	}
	used := burst - tokens
	if used < 0 {
		used = 0
	}
	return used / burst
}
