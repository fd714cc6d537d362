// Package models - Gateway configuration and operational settings.
// This file defines configuration structures for all gateway components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, upstream, security, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - Security-first approach with safe defaults
package models

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Rate limit strategy constants
const (
	StrategySlidingWindow = "sliding_window"
	StrategyTokenBucket   = "token_bucket"
)

// Config is the root configuration structure containing all gateway settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP listener configuration
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`           // Upstream pool configuration
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Authentication and rate limiting
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type UpstreamConfig struct {
	Targets             []string      `yaml:"targets" json:"targets"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	DialTimeout         time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	// HostHeader is forced onto forwarded requests. Empty means the first
	// target's host is used. Strict providers reject mismatched Host values.
	HostHeader string `yaml:"host_header" json:"host_header"`
}

type SecurityConfig struct {
	// JWTSecret is the HS256 signing secret used to verify bearer tokens.
	JWTSecret string          `yaml:"jwt_secret" json:"jwt_secret"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Screening ScreeningConfig `yaml:"screening" json:"screening"`
}

type RateLimitConfig struct {
	Strategy          string        `yaml:"strategy" json:"strategy"`
	RequestsPerWindow int           `yaml:"requests_per_window" json:"requests_per_window"`
	Window            time.Duration `yaml:"window" json:"window"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type ScreeningConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	BlockedPaths      []string `yaml:"blocked_paths" json:"blocked_paths"`
	BlockedUserAgents []string `yaml:"blocked_user_agents" json:"blocked_user_agents"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - 30-second timeouts: Balance between user experience and resource protection
// - Sliding-window limiting, 60 requests per 60s window: conservative per-client cap
// - Structured JSON logging: better for log aggregation and analysis
// - Metrics enabled on a separate port so the admission path stays clean
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Upstream: UpstreamConfig{
			Targets:             []string{},
			HealthCheckInterval: time.Second,
			DialTimeout:         2 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Strategy:          StrategySlidingWindow,
				RequestsPerWindow: 60,
				Window:            time.Minute,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			Screening: ScreeningConfig{
				Enabled:           true,
				BlockedPaths:      []string{"/.env", "/.git", "/admin", "/.aws", "/.ssh"},
				BlockedUserAgents: []string{"curl", "python-requests", "wget", "python-urllib"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gateway",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if len(uc.Targets) == 0 {
		return errors.New("at least one upstream target is required")
	}

	for _, target := range uc.Targets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			return fmt.Errorf("invalid upstream target %q: %w", target, err)
		}
	}

	if uc.HealthCheckInterval <= 0 {
		return errors.New("health check interval must be positive")
	}

	if uc.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.JWTSecret == "" {
		return errors.New("jwt_secret must not be empty")
	}

	rl := sec.RateLimit
	if rl.Strategy != StrategySlidingWindow && rl.Strategy != StrategyTokenBucket {
		return fmt.Errorf("invalid rate limit strategy: %s", rl.Strategy)
	}
	if rl.RequestsPerWindow <= 0 {
		return errors.New("requests per window must be greater than 0")
	}
	if rl.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if rl.Strategy == StrategyTokenBucket && rl.BurstSize <= 0 {
		return errors.New("burst size must be greater than 0 for token bucket strategy")
	}
	if rl.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	if oc.Tracing.Exporter != "stdout" && oc.Tracing.Exporter != "otlp" {
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("otlp endpoint is required for the otlp exporter")
	}

	return nil
}
