package observability

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics records the outcome of every request crossing the admission path
// and exposes the counters for text-format export. Recording never panics:
// a failed lookup degrades to a dropped sample and a warning.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	lockRecoveries  prometheus.Counter
}

// NewMetrics creates the gateway's metric set on a private registry.
// Registration failures surface as errors rather than panics.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests by outcome",
		}, []string{"status", "method", "path"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status", "method", "path"}),
		lockRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_lock_recoveries_total",
			Help: "Number of rate limiter critical sections salvaged after a panic",
		}),
	}

	collectors := []prometheus.Collector{m.requestsTotal, m.requestDuration, m.lockRecoveries}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRequest counts one finished request with its terminal status.
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	labels := []string{strconv.Itoa(status), method, path}

	counter, err := m.requestsTotal.GetMetricWithLabelValues(labels...)
	if err != nil {
		slog.Warn("dropping request count sample", "error", err)
		return
	}
	counter.Inc()

	histogram, err := m.requestDuration.GetMetricWithLabelValues(labels...)
	if err != nil {
		slog.Warn("dropping request duration sample", "error", err)
		return
	}
	histogram.Observe(duration.Seconds())
}

// LockRecovered counts one salvaged rate limiter critical section. Wire it
// into the limiter's recovery hook.
func (m *Metrics) LockRecovered() {
	m.lockRecoveries.Inc()
}

// RegisterKeyGauge exposes the number of keys the active rate limiter is
// tracking.
func (m *Metrics) RegisterKeyGauge(keys func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_ratelimit_tracked_keys",
		Help: "Number of client keys the rate limiter currently tracks",
	}, func() float64 {
		return float64(keys())
	})
	if err := m.registry.Register(gauge); err != nil {
		return fmt.Errorf("register key gauge: %w", err)
	}
	return nil
}

// Export renders all recorded metrics in the Prometheus text format. Every
// failure is returned as an error; the admission path never depends on this
// call succeeding.
func (m *Metrics) Export() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return "", fmt.Errorf("encode metric family %q: %w", family.GetName(), err)
		}
	}

	return buf.String(), nil
}
