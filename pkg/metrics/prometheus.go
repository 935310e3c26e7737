package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// Every recording method is safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	httpTimeoutsTotal    *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec
	websocketDroppedTotal  prometheus.Counter
	websocketSuperseded    prometheus.Counter

	// Call Metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration prometheus.Histogram

	// Auth Metrics
	authAttemptsTotal *prometheus.CounterVec
	authSuccessTotal  *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitHitsTotal    *prometheus.CounterVec
	rateLimitBlockedTotal *prometheus.CounterVec

	dependencyUp *prometheus.GaugeVec
}

// NewMetrics creates all metrics on a dedicated registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		httpTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_request_timeouts_total",
				Help:        "Requests whose deadline expired before they finished",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of users with a live relay connection",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of relay frames by type and direction",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of relay errors reported to senders",
				ConstLabels: labels,
			},
			[]string{"error"},
		),
		websocketDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "websocket_dropped_frames_total",
				Help:        "Frames dropped because a client send buffer was full",
				ConstLabels: labels,
			},
		),
		websocketSuperseded: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "websocket_superseded_total",
				Help:        "Connections closed because the same user connected again",
				ConstLabels: labels,
			},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of call lifecycle events",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of tracked call sessions",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Call session duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 300, 600, 1800, 3600},
			},
		),

		authAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "auth_attempts_total",
				Help:        "Total number of authentication attempts",
				ConstLabels: labels,
			},
			[]string{"method"},
		),
		authSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "auth_success_total",
				Help:        "Total number of successful authentications",
				ConstLabels: labels,
			},
			[]string{"method"},
		),
		authFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "auth_failures_total",
				Help:        "Total number of failed authentications",
				ConstLabels: labels,
			},
			[]string{"method", "reason"},
		),

		rateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_hits_total",
				Help:        "Total number of requests checked by the rate limiter",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),
		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests rejected by the rate limiter",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),

		dependencyUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "dependency_up",
				Help:        "Whether a backing dependency answered its last health check",
				ConstLabels: labels,
			},
			[]string{"dependency"},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics

func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordHTTPTimeout(method, endpoint string) {
	if m == nil {
		return
	}
	m.httpTimeoutsTotal.WithLabelValues(method, endpoint).Inc()
}

func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// WebSocket Metrics

func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

func (m *Metrics) RecordWebSocketError(err string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(err).Inc()
}

func (m *Metrics) RecordDroppedFrame() {
	if m == nil {
		return
	}
	m.websocketDroppedTotal.Inc()
}

func (m *Metrics) RecordSuperseded() {
	if m == nil {
		return
	}
	m.websocketSuperseded.Inc()
}

// Call Metrics

func (m *Metrics) RecordCall(status string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.callsActive.Set(float64(count))
}

func (m *Metrics) RecordCallDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.callsDuration.Observe(duration.Seconds())
}

// Auth Metrics

func (m *Metrics) RecordAuthAttempt(method string) {
	if m == nil {
		return
	}
	m.authAttemptsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordAuthSuccess(method string) {
	if m == nil {
		return
	}
	m.authSuccessTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordAuthFailure(method, reason string) {
	if m == nil {
		return
	}
	m.authFailuresTotal.WithLabelValues(method, reason).Inc()
}

// Rate Limiting Metrics

func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitHitsTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SetDependencyUp(dependency string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1
	}
	m.dependencyUp.WithLabelValues(dependency).Set(value)
}
