// Package proxy forwards admitted requests to a pool of upstream targets.
// Targets are selected round-robin, skipping any the background health
// checker currently considers down. Upstream failures surface as 502/503
// responses, never as process failures.
package proxy

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"gateway/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// target is one upstream address and its reverse proxy.
type target struct {
	addr    string
	handler *httputil.ReverseProxy
	healthy atomic.Bool
}

// Forwarder is the upstream collaborator of the admission pipeline.
type Forwarder struct {
	targets     []*target
	cursor      atomic.Uint64
	hostHeader  string
	interval    time.Duration
	dialTimeout time.Duration
	tracer      trace.Tracer

	done      chan struct{}
	closeOnce sync.Once
}

// NewForwarder builds a forwarder for the configured upstream pool and
// starts its background health checker.
func NewForwarder(cfg models.UpstreamConfig) (*Forwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hostHeader := cfg.HostHeader
	if hostHeader == "" {
		host, _, err := net.SplitHostPort(cfg.Targets[0])
		if err != nil {
			return nil, err
		}
		hostHeader = host
	}

	f := &Forwarder{
		hostHeader:  hostHeader,
		interval:    cfg.HealthCheckInterval,
		dialTimeout: cfg.DialTimeout,
		tracer:      otel.Tracer("gateway/proxy"),
		done:        make(chan struct{}),
	}

	for _, addr := range cfg.Targets {
		t := &target{addr: addr}
		rp := httputil.NewSingleHostReverseProxy(&url.URL{Scheme: "http", Host: addr})
		director := rp.Director
		rp.Director = func(req *http.Request) {
			director(req)
			// Strict providers reject requests whose Host does not match.
			req.Host = f.hostHeader
		}
		rp.ErrorHandler = f.upstreamError(addr)
		t.handler = rp
		t.healthy.Store(true)
		f.targets = append(f.targets, t)
	}

	go f.healthLoop()
	return f, nil
}

// ServeHTTP forwards the request to the next healthy upstream.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := f.pick()
	if t == nil {
		slog.Error("no healthy upstream available", "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusServiceUnavailable, "No healthy upstream", models.ErrorCodeServiceUnavailable)
		return
	}

	ctx, span := f.tracer.Start(r.Context(), "proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.address", t.addr),
			attribute.String("http.method", r.Method),
		),
	)
	defer span.End()

	t.handler.ServeHTTP(w, r.WithContext(ctx))
}

// Health reports the current health of every target, keyed by address.
func (f *Forwarder) Health() map[string]bool {
	health := make(map[string]bool, len(f.targets))
	for _, t := range f.targets {
		health[t.addr] = t.healthy.Load()
	}
	return health
}

// Close stops the background health checker.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
}

// pick returns the next healthy target round-robin, or nil when every
// target is down.
func (f *Forwarder) pick() *target {
	n := uint64(len(f.targets))
	start := f.cursor.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		t := f.targets[(start+i)%n]
		if t.healthy.Load() {
			return t
		}
	}
	return nil
}

// upstreamError converts a failed upstream exchange into a 502.
func (f *Forwarder) upstreamError(addr string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("upstream request failed",
			"upstream", addr,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)

		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		writeError(w, http.StatusBadGateway, "Upstream request failed", models.ErrorCodeBadGateway)
	}
}

// healthLoop probes every target each interval until Close.
func (f *Forwarder) healthLoop() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.checkTargets()
		}
	}
}

// checkTargets dials every target once and updates its health flag.
func (f *Forwarder) checkTargets() {
	for _, t := range f.targets {
		conn, err := net.DialTimeout("tcp", t.addr, f.dialTimeout)
		healthy := err == nil
		if conn != nil {
			conn.Close()
		}
		if t.healthy.Swap(healthy) != healthy {
			if healthy {
				slog.Info("upstream recovered", "upstream", t.addr)
			} else {
				slog.Warn("upstream went down", "upstream", t.addr, "error", err)
			}
		}
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
