// Package ratelimit provides per-client rate limiting for the admission
// path. Two strategies are available: a sliding-window limiter that counts
// request timestamps in a trailing interval, and a token-bucket limiter
// backed by golang.org/x/time/rate. Both are keyed by an opaque client
// string (typically the source IP) and are safe for concurrent use.
package ratelimit

import "time"

// Limiter defines the rate limiting contract. Implementations must be safe
// for concurrent use and must never block longer than their own per-key
// critical section.
type Limiter interface {
	// Allow checks whether a request identified by key should be allowed.
	// Returns whether the request is allowed and rate information for
	// populating response headers.
	Allow(key string) (allowed bool, info Info)

	// Len reports the number of keys currently tracked.
	Len() int

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests remaining in the current window
	ResetAt    time.Time     // When the oldest counted request leaves the window
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
