package audit

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cliniguard/cliniguard/internal/dispatch"
)

// Metrics tracks gateway metrics and serves them in Prometheus text format.
// It uses a custom prometheus.Registry for isolation and testability, with
// proper histograms and HELP/TYPE annotations.
type Metrics struct {
	registry *prometheus.Registry

	dispatchTotal      *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
	auditWrites        *prometheus.CounterVec
	auditWriteDuration *prometheus.HistogramVec
	registeredTools    prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimitHits       *prometheus.CounterVec
	authFailures        *prometheus.CounterVec

	configReloads    *prometheus.CounterVec
	configReloadTime prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics collector with a custom Prometheus registry.
// All metric families are pre-registered with HELP and TYPE metadata.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniguard_dispatch_total",
			Help: "Total number of tool dispatches by decision and status.",
		}, []string{"tool", "decision", "status"}),

		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cliniguard_handler_duration_seconds",
			Help:    "Tool handler execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),

		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniguard_audit_writes_total",
			Help: "Total number of audit store writes by backend and result.",
		}, []string{"backend", "result"}),

		auditWriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cliniguard_audit_write_duration_seconds",
			Help:    "Audit store write latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),

		registeredTools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cliniguard_registered_tools",
			Help: "Number of tools currently registered.",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniguard_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cliniguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniguard_rate_limit_hits_total",
			Help: "Total number of rate limit hits.",
		}, []string{"layer", "role"}),

		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniguard_auth_failures_total",
			Help: "Total number of identity resolution failures.",
		}, []string{"reason"}),

		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cliniguard_config_reloads_total",
			Help: "Total number of configuration reload attempts.",
		}, []string{"result"}),

		configReloadTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cliniguard_config_reload_timestamp_seconds",
			Help: "Unix timestamp of the last successful configuration reload.",
		}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cliniguard_build_info",
			Help: "Build information about the cliniguard binary. Value is always 1.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		m.dispatchTotal,
		m.handlerDuration,
		m.auditWrites,
		m.auditWriteDuration,
		m.registeredTools,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rateLimitHits,
		m.authFailures,
		m.configReloads,
		m.configReloadTime,
		m.buildInfo,
	)

	return m
}

// ObserveDispatch records a sealed dispatch. HandlerDuration is zero when the
// handler never ran and is then skipped for the latency histogram.
func (m *Metrics) ObserveDispatch(tool string, decision dispatch.Decision, status dispatch.Status, handlerDuration time.Duration) {
	m.dispatchTotal.WithLabelValues(tool, string(decision), statusLabel(status)).Inc()
	if handlerDuration > 0 {
		m.handlerDuration.WithLabelValues(tool).Observe(handlerDuration.Seconds())
	}
}

// RecordAuditWrite records one audit store write attempt and its latency.
func (m *Metrics) RecordAuditWrite(backend string, ok bool, d time.Duration) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.auditWrites.WithLabelValues(backend, result).Inc()
	m.auditWriteDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// SetRegisteredTools sets the registered tool count.
func (m *Metrics) SetRegisteredTools(n int) {
	m.registeredTools.Set(float64(n))
}

// RecordHTTPRequest increments the HTTP request counter and records duration.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, seconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, statusString(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordRateLimitHit records a rate limit event. Layer is "global" or "actor".
func (m *Metrics) RecordRateLimitHit(layer, role string) {
	m.rateLimitHits.WithLabelValues(layer, role).Inc()
}

// RecordAuthFailure records a failed identity resolution.
// Reason should be one of: "missing", "invalid_token", "expired", "unknown_actor".
func (m *Metrics) RecordAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// RecordConfigReload records a configuration reload attempt.
// Pass true for a successful reload, false for a failure.
func (m *Metrics) RecordConfigReload(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetConfigReloadTime records the timestamp of the last configuration reload.
func (m *Metrics) SetConfigReloadTime(t time.Time) {
	m.configReloadTime.Set(float64(t.Unix()))
}

// SetBuildInfo sets the build information gauge. The gauge value is always 1;
// version and Go version are exposed as labels.
func (m *Metrics) SetBuildInfo(version, goVersion string) {
	m.buildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Handler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

// statusLabel maps the empty dispatch status to a labelable value.
func statusLabel(s dispatch.Status) string {
	if s == dispatch.StatusNone {
		return "none"
	}
	return string(s)
}

// statusString converts an integer status code to its string representation.
func statusString(code int) string {
	// Avoid fmt.Sprintf for hot path performance
	switch code {
	case 200:
		return "200"
	case 201:
		return "201"
	case 204:
		return "204"
	case 400:
		return "400"
	case 401:
		return "401"
	case 403:
		return "403"
	case 404:
		return "404"
	case 429:
		return "429"
	case 500:
		return "500"
	case 502:
		return "502"
	case 503:
		return "503"
	default:
		// Fallback for uncommon status codes
		return intToString(code)
	}
}

// intToString converts a non-negative integer to a string without fmt.Sprintf.
func intToString(n int) string {
	if n == 0 {
		return "0"
	}
	negative := n < 0
	if negative {
		n = -n
	}
	buf := make([]byte, 0, 5)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	if negative {
		buf = append(buf, '-')
	}
	// Reverse
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
