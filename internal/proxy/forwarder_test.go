package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upstreamConfig(targets ...string) models.UpstreamConfig {
	return models.UpstreamConfig{
		Targets:             targets,
		HealthCheckInterval: time.Hour, // tests trigger checks manually
		DialTimeout:         500 * time.Millisecond,
		HostHeader:          "upstream.test",
	}
}

// startUpstream runs a test server that answers with its own name.
func startUpstream(t *testing.T, name string) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", name)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return server, u.Host
}

func TestNewForwarder_RequiresTargets(t *testing.T) {
	_, err := NewForwarder(upstreamConfig())
	assert.Error(t, err)
}

func TestForwarder_RoundRobin(t *testing.T) {
	_, addrA := startUpstream(t, "a")
	_, addrB := startUpstream(t, "b")

	f, err := NewForwarder(upstreamConfig(addrA, addrB))
	require.NoError(t, err)
	defer f.Close()

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rr := httptest.NewRecorder()
		f.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		seen[rr.Header().Get("X-Upstream")]++
	}

	assert.Equal(t, 2, seen["a"])
	assert.Equal(t, 2, seen["b"])
}

func TestForwarder_SkipsUnhealthyTargets(t *testing.T) {
	_, addrA := startUpstream(t, "a")
	_, addrB := startUpstream(t, "b")

	f, err := NewForwarder(upstreamConfig(addrA, addrB))
	require.NoError(t, err)
	defer f.Close()

	f.targets[0].healthy.Store(false)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		f.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "b", rr.Header().Get("X-Upstream"))
	}
}

func TestForwarder_AllTargetsDownReturns503(t *testing.T) {
	_, addr := startUpstream(t, "a")

	f, err := NewForwarder(upstreamConfig(addr))
	require.NoError(t, err)
	defer f.Close()

	f.targets[0].healthy.Store(false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	f.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestForwarder_UpstreamFailureReturns502(t *testing.T) {
	server, addr := startUpstream(t, "a")
	server.Close() // nothing listens anymore

	f, err := NewForwarder(upstreamConfig(addr))
	require.NoError(t, err)
	defer f.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rr := httptest.NewRecorder()
	f.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestForwarder_HealthCheckFlagsDeadTarget(t *testing.T) {
	live, addrLive := startUpstream(t, "live")
	dead, addrDead := startUpstream(t, "dead")
	dead.Close()
	_ = live

	f, err := NewForwarder(upstreamConfig(addrLive, addrDead))
	require.NoError(t, err)
	defer f.Close()

	f.checkTargets()

	health := f.Health()
	assert.True(t, health[addrLive])
	assert.False(t, health[addrDead])
}

func TestForwarder_SetsHostHeader(t *testing.T) {
	var gotHost string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	f, err := NewForwarder(upstreamConfig(u.Host))
	require.NoError(t, err)
	defer f.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	f.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "upstream.test", gotHost)
}
