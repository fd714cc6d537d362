package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// window holds the timestamps of recent requests for one key, oldest first.
// It is owned exclusively by the goroutine holding mu.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
}

// SlidingWindowLimiter counts request timestamps per key in a trailing time
// window. A request is allowed while fewer than limit timestamps remain in
// the window; denied requests are not counted. Keys are tracked in a
// sync.Map so that operations on distinct keys never contend; same-key
// operations serialize on the entry's own mutex.
//
// A background goroutine periodically evicts keys that have been idle for
// 2x the cleanup interval.
type SlidingWindowLimiter struct {
	limit           int
	window          time.Duration
	cleanupInterval time.Duration

	entries sync.Map // string -> *window
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	onRecovery func()

	// set by tests to inject a panic into the critical section
	testHookAfterEvict func()
}

// SlidingOption configures optional limiter behavior.
type SlidingOption func(*SlidingWindowLimiter)

// WithRecoveryHook registers a callback invoked whenever the limiter
// salvages a key's state after a panic in its critical section.
func WithRecoveryHook(fn func()) SlidingOption {
	return func(l *SlidingWindowLimiter) {
		l.onRecovery = fn
	}
}

// NewSlidingWindowLimiter creates a sliding-window limiter allowing limit
// requests per key within windowDur. It starts a background goroutine that
// evicts idle keys every cleanupInterval.
func NewSlidingWindowLimiter(limit int, windowDur, cleanupInterval time.Duration, opts ...SlidingOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		limit:           limit,
		window:          windowDur,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanup()
	return l
}

// Allow checks whether a request from the given key should be allowed now.
func (l *SlidingWindowLimiter) Allow(key string) (bool, Info) {
	return l.CheckAndRecord(key, time.Now())
}

// CheckAndRecord applies the check-and-record step at an explicit instant:
// under the key's lock it evicts timestamps at or older than now-window,
// allows and records now if the remaining count is below the limit, and
// denies without recording otherwise. Eviction and insertion happen under
// one lock acquisition, so there are no lost updates or double counts.
func (l *SlidingWindowLimiter) CheckAndRecord(key string, now time.Time) (allowed bool, info Info) {
	e := l.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			// A panic mid-mutation leaves the slice in its last written
			// state, which is still a valid (if stale) timestamp list.
			// Salvage it and re-run the normal decision rather than
			// failing the request or wedging the key.
			slog.Warn("rate limiter recovered panicked critical section", "key", key, "panic", r)
			if l.onRecovery != nil {
				l.onRecovery()
			}
			allowed, info = l.decide(e, now)
		}
	}()

	e.lastSeen = now
	allowed, info = l.decide(e, now)
	return allowed, info
}

// Len reports the number of keys currently tracked.
func (l *SlidingWindowLimiter) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops the background cleanup goroutine.
func (l *SlidingWindowLimiter) Close() {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *SlidingWindowLimiter) entry(key string) *window {
	if e, ok := l.entries.Load(key); ok {
		return e.(*window)
	}
	e, _ := l.entries.LoadOrStore(key, &window{})
	return e.(*window)
}

// decide evicts expired timestamps and makes the allow/deny decision.
// Callers must hold e.mu. A timestamp exactly window old counts as outside
// the window.
func (l *SlidingWindowLimiter) decide(e *window, now time.Time) (bool, Info) {
	keep := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if now.Sub(ts) < l.window {
			keep = append(keep, ts)
		}
	}
	e.timestamps = keep

	if l.testHookAfterEvict != nil {
		l.testHookAfterEvict()
	}

	info := Info{Limit: l.limit}

	if len(e.timestamps) >= l.limit {
		oldest := e.timestamps[0]
		info.Remaining = 0
		info.ResetAt = oldest.Add(l.window)
		info.RetryAfter = info.ResetAt.Sub(now)
		return false, info
	}

	e.timestamps = append(e.timestamps, now)
	info.Remaining = l.limit - len(e.timestamps)
	info.ResetAt = e.timestamps[0].Add(l.window)
	return true, info
}

// cleanup periodically evicts keys that have been idle for 2x the cleanup
// interval.
func (l *SlidingWindowLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

// evictIdle removes keys not seen within 2x the cleanup interval.
func (l *SlidingWindowLimiter) evictIdle() {
	cutoff := time.Now().Add(-2 * l.cleanupInterval)
	l.entries.Range(func(key, value any) bool {
		e := value.(*window)
		e.mu.Lock()
		idle := e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if idle {
			l.entries.Delete(key)
		}
		return true
	})
}
