// Package models - API response types and error handling.
// This file defines the gateway's outgoing response structures.
//
// Response Design Principles:
// - Consistent JSON structure across all locally-produced responses
// - Machine-readable error codes for programmatic handling
// - Request ID for distributed tracing and support
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse provides structured error information for requests the
// gateway rejects itself (auth failures, rate limiting, screening, upstream
// errors). Responses from the upstream pass through untouched.
type ErrorResponse struct {
	Error     string    `json:"error"`                // Error type (always "error")
	Message   string    `json:"message"`              // Human-readable error description
	Code      string    `json:"code,omitempty"`       // Machine-readable error code
	Timestamp time.Time `json:"timestamp"`            // Error occurrence time
	RequestID string    `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required or failed
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Request blocked by screening rules
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Per-client rate limit hit
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream request failed
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: No healthy upstream
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
