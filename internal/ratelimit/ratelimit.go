// Package ratelimit implements per-DID RPM and TPM rate limiting with
// lazy-refill token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Limits holds the effective RPM and TPM limits for a caller.
// A value of 0 means unlimited.
type Limits struct {
	RPM int64
	TPM int64
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64) *bucket {
	return &bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: time.Now(),
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

func (b *bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

func (b *bucket) retryAfter(n float64) float64 {
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

func (b *bucket) adjust(delta float64) {
	b.tokens = min(b.max, max(0, b.tokens+delta))
}

// Limiter holds dual RPM + TPM buckets for a single DID.
type Limiter struct {
	mu       sync.Mutex
	rpm      *bucket // nil if RPM unlimited
	tpm      *bucket // nil if TPM unlimited
	limits   Limits
	lastUsed time.Time
}

func newLimiter(limits Limits) *Limiter {
	l := &Limiter{limits: limits, lastUsed: time.Now()}
	if limits.RPM > 0 {
		l.rpm = newBucket(limits.RPM)
	}
	if limits.TPM > 0 {
		l.tpm = newBucket(limits.TPM)
	}
	return l
}

// AllowRPM consumes 1 RPM token.
func (l *Limiter) AllowRPM() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastUsed = now

	if l.rpm == nil {
		return Result{Allowed: true}
	}

	remaining, ok := l.rpm.tryConsume(1, now)
	if ok {
		return Result{Allowed: true, Limit: l.limits.RPM, Remaining: remaining}
	}
	return Result{
		Allowed:           false,
		Limit:             l.limits.RPM,
		RetryAfterSeconds: l.rpm.retryAfter(1),
	}
}

// ConsumeTPM consumes estimated TPM tokens.
func (l *Limiter) ConsumeTPM(estimated int64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastUsed = now

	if l.tpm == nil {
		return Result{Allowed: true}
	}

	remaining, ok := l.tpm.tryConsume(float64(estimated), now)
	if ok {
		return Result{Allowed: true, Limit: l.limits.TPM, Remaining: remaining}
	}
	return Result{
		Allowed:           false,
		Limit:             l.limits.TPM,
		RetryAfterSeconds: l.tpm.retryAfter(float64(estimated)),
	}
}

// AdjustTPM corrects the TPM bucket by delta (estimated - actual).
// Positive delta refunds tokens; negative consumes more.
func (l *Limiter) AdjustTPM(delta int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tpm != nil {
		l.tpm.adjust(float64(delta))
	}
}

// Registry manages per-DID Limiters.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates a new rate limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// GetOrCreate returns the limiter for did, creating one if needed.
// If the caller's limits have changed, a new limiter is created.
func (r *Registry) GetOrCreate(did string, limits Limits) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[did]
	r.mu.RUnlock()
	if ok && l.limits == limits {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[did]; ok && l.limits == limits {
		return l
	}
	l = newLimiter(limits)
	r.limiters[did] = l
	return l
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}
