package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// RPC metrics
	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge
	rpcPanics   prometheus.Counter

	// Bundle metrics
	bundleInfo *prometheus.GaugeVec

	// Admin HTTP metrics
	httpRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		rpcTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rpc_requests_total",
				Help: "Total number of forwarded RPCs by method and gRPC status code",
			},
			[]string{"method", "code"},
		),

		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_rpc_duration_seconds",
				Help:    "Forwarded RPC latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		rpcInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_rpc_in_flight",
				Help: "Number of RPCs currently being served",
			},
		),

		rpcPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_rpc_panics_total",
				Help: "Total number of handler panics recovered",
			},
		),

		bundleInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_tls_bundle_info",
				Help: "Identity of the TLS bundle being served (always 1)",
			},
			[]string{"server_name", "ca_fingerprint", "server_fingerprint"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admin_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.rpcTotal,
		m.rpcDuration,
		m.rpcInFlight,
		m.rpcPanics,
		m.bundleInfo,
		m.httpRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRPC records a completed RPC
func (m *Metrics) RecordRPC(method, code string, duration time.Duration) {
	m.rpcTotal.WithLabelValues(method, code).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) rpcStarted()  { m.rpcInFlight.Inc() }
func (m *Metrics) rpcFinished() { m.rpcInFlight.Dec() }

// RecordPanic records a recovered handler panic
func (m *Metrics) RecordPanic() {
	m.rpcPanics.Inc()
}

// SetBundleInfo publishes the fingerprints of the bundle in use
func (m *Metrics) SetBundleInfo(serverName, caFingerprint, serverFingerprint string) {
	m.bundleInfo.Reset()
	m.bundleInfo.WithLabelValues(serverName, caFingerprint, serverFingerprint).Set(1)
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func endpointName(path string) string {
	switch path {
	case "/metrics", "/healthz":
		return path
	default:
		return "other"
	}
}
