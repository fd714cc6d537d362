// Package config loads gateway configuration from a YAML file with
// environment variable overrides, starting from safe defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gateway/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("GATEWAY_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("GATEWAY_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("GATEWAY_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("GATEWAY_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("GATEWAY_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("GATEWAY_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("GATEWAY_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Upstream configuration
	if targets := os.Getenv("GATEWAY_UPSTREAM_TARGETS"); targets != "" {
		parts := strings.Split(targets, ",")
		config.Upstream.Targets = config.Upstream.Targets[:0]
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				config.Upstream.Targets = append(config.Upstream.Targets, trimmed)
			}
		}
	}

	if interval := os.Getenv("GATEWAY_HEALTH_CHECK_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Upstream.HealthCheckInterval = d
		}
	}

	if timeout := os.Getenv("GATEWAY_UPSTREAM_DIAL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Upstream.DialTimeout = d
		}
	}

	if host := os.Getenv("GATEWAY_UPSTREAM_HOST_HEADER"); host != "" {
		config.Upstream.HostHeader = host
	}

	// Security configuration
	if secret := os.Getenv("GATEWAY_JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}

	if strategy := os.Getenv("GATEWAY_RATE_LIMIT_STRATEGY"); strategy != "" {
		config.Security.RateLimit.Strategy = strategy
	}

	if limit := os.Getenv("GATEWAY_RATE_LIMIT_REQUESTS"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Security.RateLimit.RequestsPerWindow = n
		}
	}

	if window := os.Getenv("GATEWAY_RATE_LIMIT_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Security.RateLimit.Window = d
		}
	}

	if burst := os.Getenv("GATEWAY_RATE_LIMIT_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			config.Security.RateLimit.BurstSize = n
		}
	}

	if cleanup := os.Getenv("GATEWAY_RATE_LIMIT_CLEANUP_INTERVAL"); cleanup != "" {
		if d, err := time.ParseDuration(cleanup); err == nil {
			config.Security.RateLimit.CleanupInterval = d
		}
	}

	if screening := os.Getenv("GATEWAY_SCREENING_ENABLED"); screening != "" {
		config.Security.Screening.Enabled = strings.ToLower(screening) == "true"
	}

	// Logging configuration
	if level := os.Getenv("GATEWAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("GATEWAY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("GATEWAY_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("GATEWAY_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("GATEWAY_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("GATEWAY_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("GATEWAY_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	// Tracing configuration
	if tracing := os.Getenv("GATEWAY_TRACING_ENABLED"); tracing != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}

	if endpoint := os.Getenv("GATEWAY_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.OTLPEndpoint = endpoint
		config.Observability.Tracing.Exporter = "otlp"
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Upstream.Targets = []string{"10.0.0.10:8080", "10.0.0.11:8080"}
	config.Security.JWTSecret = "replace-with-your-hs256-secret"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
