// Package admission chains the per-request checks a client must pass before
// its request is forwarded upstream: bearer-token authentication, the
// per-client rate limit, and request screening. Every request, admitted or
// rejected, is reported to the outcome recorder exactly once.
package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gateway/internal/auth"
	"gateway/internal/models"
	"gateway/internal/ratelimit"
)

// Recorder receives the outcome of every request that enters the pipeline.
// Implementations must not panic; a failing recorder degrades to dropped
// samples, never to a failed request.
type Recorder interface {
	RecordRequest(method, path string, status int, duration time.Duration)
}

// Security bundles the swappable per-request checks. A snapshot is read
// once at the start of each request, so a concurrent Swap never mixes old
// and new settings within one request.
type Security struct {
	Validator *auth.Validator
	Limiter   ratelimit.Limiter
	Rules     *Rules
}

// Close releases the snapshot's resources.
func (s *Security) Close() {
	if s.Limiter != nil {
		s.Limiter.Close()
	}
}

// Pipeline is the admission gate in front of the forwarding path.
type Pipeline struct {
	security atomic.Pointer[Security]
	recorder Recorder
	now      func() time.Time
}

// Option configures optional pipeline behavior.
type Option func(*Pipeline)

// WithClock overrides the pipeline's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a pipeline with the given initial security snapshot.
func New(sec *Security, recorder Recorder, opts ...Option) *Pipeline {
	p := &Pipeline{
		recorder: recorder,
		now:      time.Now,
	}
	p.security.Store(sec)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Security returns the current security snapshot.
func (p *Pipeline) Security() *Security {
	return p.security.Load()
}

// Swap atomically replaces the security snapshot and returns the previous
// one so the caller can close it. In-flight requests finish on the snapshot
// they started with.
func (p *Pipeline) Swap(sec *Security) *Security {
	return p.security.Swap(sec)
}

// Middleware wraps next with the admission checks. next is only reached by
// authenticated requests under their rate limit that pass screening; the
// recorder is informed of the terminal status on every path, including
// panics recovered from next.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		method := r.Method
		path := r.URL.Path
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			p.recorder.RecordRequest(method, path, sw.Status(), time.Since(start))
		}()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic while serving admitted request", "method", method, "path", path, "panic", rec)
				if !sw.wrote {
					writeError(sw, r, http.StatusInternalServerError,
						"Internal server error", models.ErrorCodeInternalError)
				}
			}
		}()

		sec := p.security.Load()
		now := p.now()

		claims, err := sec.Validator.Validate(r.Header.Get("Authorization"), now)
		if err != nil {
			slog.Warn("authentication failed",
				"reason", string(auth.ReasonOf(err)),
				"method", method,
				"path", path,
				"client_ip", ClientIP(r))
			writeError(sw, r, http.StatusUnauthorized, "Authentication required", models.ErrorCodeUnauthorized)
			return
		}

		key := ClientIP(r)
		allowed, info := sec.Limiter.Allow(key)

		// Always set rate limit headers
		sw.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		sw.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		sw.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

		if !allowed {
			retryAfterSecs := int(info.RetryAfter.Seconds()) + 1
			sw.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
			slog.Warn("rate limit exceeded",
				"key", key,
				"limit", info.Limit,
				"retry_after", retryAfterSecs)
			writeError(sw, r, http.StatusTooManyRequests, "Rate limit exceeded", models.ErrorCodeRateLimitExceeded)
			return
		}

		if sec.Rules != nil {
			if reason, blocked := sec.Rules.Check(path, r.Header.Get("User-Agent")); blocked {
				slog.Warn("request blocked by screening rules",
					"reason", reason,
					"method", method,
					"path", path,
					"client_ip", key)
				writeError(sw, r, http.StatusForbidden, "Forbidden", models.ErrorCodeForbidden)
				return
			}
		}

		ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
		next.ServeHTTP(sw, r.WithContext(ctx))
	})
}

type subjectKey struct{}

// Subject returns the authenticated token subject stored in ctx, or "".
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

// ClientIP extracts the client identity used as the rate-limit key,
// checking proxy headers before falling back to the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

// statusWriter captures the status code written downstream so the outcome
// can be recorded after the response is complete.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

// Status returns the written status, defaulting to 200 when the handler
// completed without an explicit WriteHeader.
func (w *statusWriter) Status() int {
	if !w.wrote {
		return http.StatusOK
	}
	return w.status
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	resp := models.NewErrorResponse(message, code)
	if id := r.Header.Get("X-Request-ID"); id != "" {
		resp.RequestID = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
