package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a fixed-window token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	rate     int
	interval time.Duration
	buckets  map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows rate requests per interval for each key.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		interval: interval,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow checks if a request for the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists || now.Sub(b.lastReset) >= rl.interval {
		rl.buckets[key] = &bucket{tokens: rl.rate - 1, lastReset: now}
		return rl.rate > 0
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns how long until key gets a fresh window.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		return 0
	}
	if wait := rl.interval - rl.now().Sub(b.lastReset); wait > 0 {
		return wait
	}
	return 0
}

// Limited wraps a Publisher with a local rate limit. Refused posts fail
// with ErrRateLimited and never reach the wrapped publisher.
type Limited struct {
	next    Publisher
	limiter *RateLimiter
	key     string
}

// NewLimited limits next to posts per window for key (usually the agent).
func NewLimited(next Publisher, limiter *RateLimiter, key string) *Limited {
	return &Limited{next: next, limiter: limiter, key: key}
}

// Publish forwards to the wrapped publisher if the limit allows.
func (l *Limited) Publish(ctx context.Context, text string) (Ack, error) {
	if !l.limiter.Allow(l.key) {
		return Ack{}, fmt.Errorf("%w: %s exceeded local limit, retry in %s",
			ErrRateLimited, l.key, l.limiter.RetryAfter(l.key).Round(time.Second))
	}
	return l.next.Publish(ctx, text)
}

// Name reports the wrapped publisher's name.
func (l *Limited) Name() string { return l.next.Name() }
