// Package ratelimit implements in-process fixed-window token buckets keyed by
// string. State is per-instance and never persisted; deployments run behind a
// single entry point per region, so horizontal scaling multiplies the
// effective global rate by instance count.
package ratelimit

import (
	"sync"
	"time"
)

// maxBuckets is the soft cap that triggers inline eviction of expired buckets.
const maxBuckets = 8000

// Request describes one consume attempt against a named bucket.
type Request struct {
	Key    string
	Limit  int
	Window time.Duration
	Weight int
}

// Result reports the outcome of a consume attempt.
type Result struct {
	Allowed       bool
	Remaining     int
	RetryAfterSec int
	ResetAt       time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is an explicit limiter value created at process start and threaded
// through handlers; there are no hidden globals.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time // injectable clock for tests
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: time.Now}
}

// NewWithClock creates a limiter with an injected clock.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: now}
}

// Consume takes weight tokens from the bucket for req.Key. Misconfigured
// requests (empty key, non-positive limit or window) soft-fail open.
func (l *Limiter) Consume(req Request) Result {
	if req.Key == "" || req.Limit <= 0 || req.Window <= 0 {
		return Result{Allowed: true, Remaining: req.Limit}
	}
	weight := req.Weight
	if weight <= 0 {
		weight = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.buckets) > maxBuckets {
		for k, b := range l.buckets {
			if !b.resetAt.After(now) {
				delete(l.buckets, k)
			}
		}
	}

	b, ok := l.buckets[req.Key]
	if !ok || !b.resetAt.After(now) {
		b = &bucket{resetAt: now.Add(req.Window)}
		l.buckets[req.Key] = b
	}

	if b.count+weight > req.Limit {
		retry := int((b.resetAt.Sub(now) + time.Second - 1) / time.Second)
		if retry < 1 {
			retry = 1
		}
		remaining := req.Limit - b.count
		if remaining < 0 {
			remaining = 0
		}
		return Result{Allowed: false, Remaining: remaining, RetryAfterSec: retry, ResetAt: b.resetAt}
	}

	b.count += weight
	return Result{Allowed: true, Remaining: req.Limit - b.count, ResetAt: b.resetAt}
}
