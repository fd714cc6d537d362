package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHealth map[string]bool

func (s staticHealth) Health() map[string]bool {
	return s
}

func getHealth(t *testing.T, reporter HealthReporter) (*httptest.ResponseRecorder, models.HealthCheckResponse) {
	t.Helper()
	handlers := NewHandlers(reporter)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handlers.HealthCheck(rr, req)

	var resp models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return rr, resp
}

func TestHealthCheck_AllUpstreamsHealthy(t *testing.T) {
	rr, resp := getHealth(t, staticHealth{"10.0.0.1:80": true, "10.0.0.2:80": true})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Len(t, resp.Components, 2)
}

func TestHealthCheck_PartiallyHealthyIsDegraded(t *testing.T) {
	rr, resp := getHealth(t, staticHealth{"10.0.0.1:80": true, "10.0.0.2:80": false})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StatusDegraded, resp.Status)
	assert.Equal(t, models.StatusUnhealthy, resp.Components["upstream:10.0.0.2:80"].Status)
}

func TestHealthCheck_NoHealthyUpstreamIs503(t *testing.T) {
	rr, resp := getHealth(t, staticHealth{"10.0.0.1:80": false})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, models.StatusUnhealthy, resp.Status)
}
