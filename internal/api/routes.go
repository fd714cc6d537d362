// Package api wires the gateway's HTTP surface: the health endpoint, the
// shared middleware chain, and the catch-all admission route in front of
// the forwarder.
package api

import (
	"net/http"

	"gateway/internal/admission"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health"
			}),
		))
	}
}

// SetupRoutes configures the gateway's HTTP routes. Every path except
// /health goes through the admission pipeline into the forwarder.
func SetupRoutes(handlers *Handlers, pipeline *admission.Pipeline, forwarder http.Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(securityHeadersMiddleware)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	router.PathPrefix("/").Handler(pipeline.Middleware(forwarder))

	return router
}
