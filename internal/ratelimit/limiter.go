// Package ratelimit throttles API callers per key (client IP or username).
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Result describes the outcome of one Allow call
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most limit requests per window for each key
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// bucket implements a token bucket rate limiter
type bucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(ratePerSecond float64, burstCapacity int, now time.Time) *bucket {
	return &bucket{
		tokens:     float64(burstCapacity),
		maxTokens:  float64(burstCapacity),
		refillRate: ratePerSecond,
		lastRefill: now,
	}
}

// refill adds tokens based on elapsed time since last refill
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// take consumes a token if one is available. When none is, it returns how
// long until the next token arrives.
func (b *bucket) take(now time.Time) (bool, time.Duration) {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Duration(math.MaxInt64)
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait
}

// resize applies a new limit to an existing bucket, capping stored tokens
func (b *bucket) resize(ratePerSecond float64, burstCapacity int) {
	b.refillRate = ratePerSecond
	b.maxTokens = float64(burstCapacity)
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// MemoryLimiter keeps one token bucket per key in process memory. Each
// bucket holds limit tokens and refills at limit per window.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true, Limit: limit}, nil
	}
	rate := float64(limit) / window.Seconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now, window)

	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(rate, limit, now)
		l.buckets[key] = b
	} else if b.maxTokens != float64(limit) || b.refillRate != rate {
		b.resize(rate, limit)
	}

	allowed, wait := b.take(now)
	return Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  int(math.Floor(b.tokens)),
		RetryAfter: wait,
	}, nil
}

// sweep drops buckets that have been idle long enough to be full again.
// Must be called with mu held.
func (l *MemoryLimiter) sweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) >= window {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
