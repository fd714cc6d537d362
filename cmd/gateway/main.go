package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway/internal/admission"
	"gateway/internal/api"
	"gateway/internal/auth"
	"gateway/internal/config"
	"gateway/internal/logger"
	"gateway/internal/models"
	"gateway/internal/observability"
	"gateway/internal/proxy"
	"gateway/internal/ratelimit"
	"gateway/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry tracing)
	otelProvider, err := observability.Setup(cfg.Observability, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Request outcome metrics on a private registry
	metrics, err := observability.NewMetrics()
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Upstream forwarding pool with background health checks
	forwarder, err := proxy.NewForwarder(cfg.Upstream)
	if err != nil {
		slog.Error("Failed to initialize upstream pool", "error", err)
		os.Exit(1)
	}
	defer forwarder.Close()

	// Admission pipeline: auth, rate limiting, screening, outcome recording
	pipeline := admission.New(buildSecurity(cfg, metrics), metrics)
	defer pipeline.Security().Close()

	if err := metrics.RegisterKeyGauge(func() int {
		return pipeline.Security().Limiter.Len()
	}); err != nil {
		slog.Error("Failed to register tracked-keys gauge", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(forwarder)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, pipeline, forwarder, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// SIGHUP reloads the config file and swaps the security snapshot.
	// A failed reload keeps the running snapshot.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			newCfg, err := config.Load(*configFile)
			if err != nil {
				slog.Error("Config reload failed, keeping current settings", "error", err)
				continue
			}
			old := pipeline.Swap(buildSecurity(newCfg, metrics))
			old.Close()
			slog.Info("Security configuration reloaded",
				"strategy", newCfg.Security.RateLimit.Strategy,
				"requests_per_window", newCfg.Security.RateLimit.RequestsPerWindow,
				"window", newCfg.Security.RateLimit.Window,
			)
		}
	}()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "upstreams", cfg.Upstream.Targets)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// buildSecurity assembles a security snapshot (validator, limiter, screening
// rules) from configuration. Called at startup and on every SIGHUP reload.
func buildSecurity(cfg *models.Config, metrics *observability.Metrics) *admission.Security {
	rl := cfg.Security.RateLimit

	var limiter ratelimit.Limiter
	switch rl.Strategy {
	case models.StrategyTokenBucket:
		limiter = ratelimit.NewTokenBucketLimiter(rl.RequestsPerWindow, rl.Window, rl.BurstSize, rl.CleanupInterval)
	default:
		limiter = ratelimit.NewSlidingWindowLimiter(rl.RequestsPerWindow, rl.Window, rl.CleanupInterval,
			ratelimit.WithRecoveryHook(metrics.LockRecovered))
	}

	return &admission.Security{
		Validator: auth.NewValidator(cfg.Security.JWTSecret),
		Limiter:   limiter,
		Rules:     admission.NewRules(cfg.Security.Screening),
	}
}
