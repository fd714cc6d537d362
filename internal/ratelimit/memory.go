package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket holds a token-bucket limiter and its last access time for cleanup.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter is an in-memory rate limiter backed by
// golang.org/x/time/rate. Each unique key gets its own token bucket refilled
// at limit tokens per window. A background goroutine periodically evicts
// stale keys that have not been accessed within 2x the cleanup interval.
//
// Unlike the sliding-window strategy it tolerates short bursts up to the
// configured burst size, so admission counts are approximate near the limit.
type TokenBucketLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int // requests per window, for Info.Limit
	cleanupInterval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewTokenBucketLimiter creates a token-bucket limiter refilling at limit
// requests per windowDur with the given burst size. It starts a background
// goroutine for eviction.
func NewTokenBucketLimiter(limit int, windowDur time.Duration, burst int, cleanupInterval time.Duration) *TokenBucketLimiter {
	t := &TokenBucketLimiter{
		rate:            rate.Every(windowDur / time.Duration(limit)),
		burst:           burst,
		limit:           limit,
		cleanupInterval: cleanupInterval,
		buckets:         make(map[string]*bucket),
		done:            make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Allow checks whether a request from the given key should be allowed.
func (t *TokenBucketLimiter) Allow(key string) (bool, Info) {
	t.mu.Lock()
	b, exists := t.buckets[key]
	if !exists {
		b = &bucket{
			limiter: rate.NewLimiter(t.rate, t.burst),
		}
		t.buckets[key] = b
	}
	b.lastSeen = time.Now()
	t.mu.Unlock()

	allowed := b.limiter.Allow()

	now := time.Now()
	tokens := b.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Reset time: how long until the bucket is full again
	tokensNeeded := float64(t.burst) - tokens
	var resetAt time.Time
	if tokensNeeded > 0 {
		resetDuration := time.Duration(tokensNeeded / float64(t.rate) * float64(time.Second))
		resetAt = now.Add(resetDuration)
	} else {
		resetAt = now
	}

	info := Info{
		Limit:     t.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		// Retry-after: time until the next token is available
		reservation := b.limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()
		info.RetryAfter = delay
	}

	return allowed, info
}

// Len reports the number of keys currently tracked.
func (t *TokenBucketLimiter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Close stops the background cleanup goroutine.
func (t *TokenBucketLimiter) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

// cleanup periodically evicts keys that have not been accessed within
// 2x the cleanup interval.
func (t *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.evictStale()
		}
	}
}

// evictStale removes keys older than 2x the cleanup interval.
func (t *TokenBucketLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * t.cleanupInterval)
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, key)
		}
	}
}
