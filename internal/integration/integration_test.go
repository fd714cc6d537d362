package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"gateway/internal/admission"
	"gateway/internal/api"
	"gateway/internal/auth"
	"gateway/internal/models"
	"gateway/internal/observability"
	"gateway/internal/proxy"
	"gateway/internal/ratelimit"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that exercise the whole admission path end-to-end:
// router -> middleware chain -> pipeline -> forwarder -> upstream.

const testSecret = "integration-test-secret"

type env struct {
	gateway  *httptest.Server
	upstream *httptest.Server
	pipeline *admission.Pipeline
	metrics  *observability.Metrics
}

func signToken(t *testing.T, secret, subject string, expiry time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiry),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func buildSecurity(secret string, limit int, window time.Duration, metrics *observability.Metrics) *admission.Security {
	return &admission.Security{
		Validator: auth.NewValidator(secret),
		Limiter: ratelimit.NewSlidingWindowLimiter(limit, window, time.Minute,
			ratelimit.WithRecoveryHook(metrics.LockRecovered)),
		Rules: admission.NewRules(models.ScreeningConfig{
			Enabled:           true,
			BlockedPaths:      []string{"/.env", "/.git", "/admin"},
			BlockedUserAgents: []string{"curl", "python-requests"},
		}),
	}
}

// newEnv wires a gateway in front of a stub upstream that echoes the
// forced Host header back to the caller.
func newEnv(t *testing.T, limit int, window time.Duration) *env {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Host", r.Host)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello from upstream")
	}))
	t.Cleanup(upstream.Close)

	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	forwarder, err := proxy.NewForwarder(models.UpstreamConfig{
		Targets:             []string{u.Host},
		HealthCheckInterval: time.Hour, // keep the background checker quiet
		DialTimeout:         time.Second,
		HostHeader:          "upstream.test",
	})
	require.NoError(t, err)
	t.Cleanup(forwarder.Close)

	pipeline := admission.New(buildSecurity(testSecret, limit, window, metrics), metrics)
	t.Cleanup(func() { pipeline.Security().Close() })

	router := api.SetupRoutes(api.NewHandlers(forwarder), pipeline, forwarder)
	gateway := httptest.NewServer(router)
	t.Cleanup(gateway.Close)

	return &env{gateway: gateway, upstream: upstream, pipeline: pipeline, metrics: metrics}
}

func (e *env) request(t *testing.T, method, path, authHeader string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.gateway.URL+path, nil)
	require.NoError(t, err)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestIntegration_AdmittedRequestReachesUpstream(t *testing.T) {
	e := newEnv(t, 10, time.Minute)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from upstream", string(body))

	// Host header forced to the configured upstream host
	assert.Equal(t, "upstream.test", resp.Header.Get("X-Upstream-Host"))

	// Rate limit headers on admitted responses
	assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))

	// Security headers injected by the middleware chain
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestIntegration_AuthenticationFailures(t *testing.T) {
	e := newEnv(t, 10, time.Minute)
	expired := signToken(t, testSecret, "user-1", time.Now().Add(-time.Hour))
	wrongKey := signToken(t, "some-other-secret", "user-1", time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong signing key", "Bearer " + wrongKey},
		{"expired token", "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.request(t, http.MethodGet, "/api/widgets", tt.header)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var envelope models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
			assert.Equal(t, models.ErrorCodeUnauthorized, envelope.Code)
		})
	}
}

func TestIntegration_RateLimitEnforcedPerClient(t *testing.T) {
	e := newEnv(t, 5, time.Minute)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	for i := 0; i < 5; i++ {
		resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d should be admitted", i+1)
	}

	resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	var envelope models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, envelope.Code)
}

func TestIntegration_WindowSlides(t *testing.T) {
	e := newEnv(t, 2, 300*time.Millisecond)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	for i := 0; i < 2; i++ {
		resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Once the recorded timestamps fall out of the trailing window the
	// same client is admitted again.
	time.Sleep(350 * time.Millisecond)
	resp = e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_UnauthenticatedDoesNotConsumeLimit(t *testing.T) {
	e := newEnv(t, 2, time.Minute)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	for i := 0; i < 5; i++ {
		resp := e.request(t, http.MethodGet, "/api/widgets", "")
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestIntegration_ScreeningRules(t *testing.T) {
	e := newEnv(t, 100, time.Minute)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	t.Run("blocked path", func(t *testing.T) {
		resp := e.request(t, http.MethodGet, "/.env", "Bearer "+token)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("blocked user agent", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.gateway.URL+"/api/widgets", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", "curl/8.5.0")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestIntegration_HealthEndpointBypassesAdmission(t *testing.T) {
	e := newEnv(t, 10, time.Minute)

	// No Authorization header and still 200
	resp := e.request(t, http.MethodGet, "/health", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, models.StatusHealthy, health.Status)
}

func TestIntegration_UpstreamDownReturns502(t *testing.T) {
	e := newEnv(t, 10, time.Minute)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	// Kill the upstream but leave the target marked healthy; the proxy
	// error handler converts the failed exchange into a 502.
	e.upstream.Close()

	resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var envelope models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, models.ErrorCodeBadGateway, envelope.Code)
}

func TestIntegration_EveryOutcomeRecorded(t *testing.T) {
	e := newEnv(t, 2, time.Minute)
	token := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))

	// 2 admitted, 1 rate limited, 1 unauthorized, 1 forbidden
	for i := 0; i < 3; i++ {
		resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+token)
		resp.Body.Close()
	}
	resp := e.request(t, http.MethodGet, "/api/widgets", "")
	resp.Body.Close()
	other := signToken(t, testSecret, "user-2", time.Now().Add(time.Hour))
	resp = e.request(t, http.MethodGet, "/.env", "Bearer "+other)
	resp.Body.Close()

	out, err := e.metrics.Export()
	require.NoError(t, err)

	assert.Contains(t, out, "gateway_http_requests_total")
	assert.Contains(t, out, `status="200"`)
	assert.Contains(t, out, `status="429"`)
	assert.Contains(t, out, `status="401"`)
	assert.Contains(t, out, `status="403"`)
	assert.Contains(t, out, "gateway_http_request_duration_seconds")
}

func TestIntegration_SecretRotationViaSwap(t *testing.T) {
	e := newEnv(t, 10, time.Minute)

	oldToken := signToken(t, testSecret, "user-1", time.Now().Add(time.Hour))
	resp := e.request(t, http.MethodGet, "/api/widgets", "Bearer "+oldToken)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Rotate the snapshot on the live pipeline the way the SIGHUP
	// handler does.
	newToken := signToken(t, "rotated-secret", "user-1", time.Now().Add(time.Hour))
	old := e.pipeline.Swap(buildSecurity("rotated-secret", 10, time.Minute, e.metrics))
	old.Close()

	resp = e.request(t, http.MethodGet, "/api/widgets", "Bearer "+oldToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/api/widgets", "Bearer "+newToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_ConcurrentClientsIsolated(t *testing.T) {
	e := newEnv(t, 3, time.Minute)

	done := make(chan int, 10)
	for c := 0; c < 10; c++ {
		go func(c int) {
			token := signToken(t, testSecret, fmt.Sprintf("user-%d", c), time.Now().Add(time.Hour))
			admitted := 0
			for i := 0; i < 5; i++ {
				req, err := http.NewRequest(http.MethodGet, e.gateway.URL+"/api/widgets", nil)
				if err != nil {
					done <- -1
					return
				}
				req.Header.Set("Authorization", "Bearer "+token)
				// Distinct forwarded addresses give each goroutine its own key
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", c))
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					done <- -1
					return
				}
				if resp.StatusCode == http.StatusOK {
					admitted++
				}
				resp.Body.Close()
			}
			done <- admitted
		}(c)
	}

	for c := 0; c < 10; c++ {
		admitted := <-done
		require.NotEqual(t, -1, admitted, "client request failed")
		// Each client gets exactly its own allowance
		assert.Equal(t, 3, admitted)
	}
}
