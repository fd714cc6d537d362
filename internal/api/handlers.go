package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"gateway/internal/models"
	"gateway/internal/version"
)

// HealthReporter exposes per-upstream health for the health endpoint.
type HealthReporter interface {
	Health() map[string]bool
}

// Handlers contains the gateway's locally-served HTTP handlers. Everything
// else on the listener is proxied.
type Handlers struct {
	upstreams HealthReporter
	startTime time.Time
}

// NewHandlers creates a new handlers instance.
func NewHandlers(upstreams HealthReporter) *Handlers {
	return &Handlers{
		upstreams: upstreams,
		startTime: time.Now(),
	}
}

// HealthCheck reports gateway liveness and per-upstream health.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.upstreams.Health()

	healthyCount := 0
	for _, healthy := range health {
		if healthy {
			healthyCount++
		}
	}

	status := models.StatusHealthy
	httpStatus := http.StatusOK
	switch {
	case healthyCount == 0:
		status = models.StatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	case healthyCount < len(health):
		status = models.StatusDegraded
	}

	resp := models.NewHealthCheckResponse(status)
	resp.Version = version.GetInfo().Version
	resp.Uptime = time.Since(h.startTime).Round(time.Second).String()
	for addr, healthy := range health {
		componentStatus := models.StatusHealthy
		message := ""
		if !healthy {
			componentStatus = models.StatusUnhealthy
			message = "tcp health check failing"
		}
		resp.AddComponent("upstream:"+addr, componentStatus, message)
	}

	h.writeJSONResponse(w, httpStatus, resp)
}

// writeJSONResponse writes a JSON response with the given status code.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
