// Package metrics provides Prometheus metrics collection for the application.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome/status label values for metrics.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the application.
// Every Record/Set method is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Estimate metrics
	EstimatesTotal       *prometheus.CounterVec
	EstimateDuration     *prometheus.HistogramVec
	EstimateRetriesTotal *prometheus.CounterVec
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	CircuitBreakerState  *prometheus.GaugeVec
	CircuitBreakerTrips  *prometheus.CounterVec

	// Lead dispatch metrics
	DispatchChannelsTotal   *prometheus.CounterVec
	DispatchChannelDuration *prometheus.HistogramVec

	// Widget metrics
	SessionsActive     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	PricingImports     *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBQueryDuration    *prometheus.HistogramVec
	DBQueryErrors      *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec
	RateLimitCurrent   *prometheus.GaugeVec

	// Registry used for this metrics instance (nil means default registry)
	registry prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	m := newMetricsWithRegistry(prometheus.DefaultRegisterer)
	m.registry = prometheus.DefaultGatherer
	return m
}

// NewMetricsWithRegistry creates metrics using a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := newMetricsWithRegistry(reg)
	m.registry = reg
	return m
}

func newMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estimatebot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "estimatebot_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		EstimatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_estimates_total",
				Help: "Total number of estimate requests by provider and outcome",
			},
			[]string{"provider", "outcome"}, // "success", "configuration", "failure"
		),
		EstimateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estimatebot_estimate_duration_seconds",
				Help:    "End-to-end estimate latency including retries",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider"},
		),
		EstimateRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_estimate_retries_total",
				Help: "Total number of estimate retries after transient provider errors",
			},
			[]string{"provider"},
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_provider_calls_total",
				Help: "Total number of AI provider calls by provider and error kind",
			},
			[]string{"provider", "kind"}, // kind: "ok", "transient", "configuration", "validation", "unknown"
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estimatebot_provider_call_duration_seconds",
				Help:    "Duration of single AI provider calls",
				Buckets: []float64{.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"provider"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "estimatebot_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_circuit_breaker_trips_total",
				Help: "Total number of times a circuit breaker has tripped",
			},
			[]string{"service"},
		),

		DispatchChannelsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_dispatch_channels_total",
				Help: "Lead dispatch channel outcomes",
			},
			[]string{"channel", "outcome"}, // "success", "failure", "skipped"
		),
		DispatchChannelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estimatebot_dispatch_channel_duration_seconds",
				Help:    "Duration of each lead dispatch channel",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "estimatebot_sessions_active",
				Help: "Number of live widget sessions",
			},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_session_transitions_total",
				Help: "Widget state machine transitions",
			},
			[]string{"from", "to"},
		),
		PricingImports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_pricing_imports_total",
				Help: "Price list imports by source and outcome",
			},
			[]string{"source", "outcome"}, // source: "csv", "xlsx", "sheet"
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_cache_lookups_total",
				Help: "Widget cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss", "error"
		),

		DBConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "estimatebot_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "estimatebot_db_connections_in_use",
				Help: "Number of database connections currently in use",
			},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estimatebot_db_query_duration_seconds",
				Help:    "Duration of database queries",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DBQueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_db_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"operation"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimatebot_rate_limit_hits_total",
				Help: "Total number of rate limit hits by limiter",
			},
			[]string{"limiter"}, // "ip", "estimate"
		),
		RateLimitCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "estimatebot_rate_limit_current",
				Help: "Current rate limit usage",
			},
			[]string{"limiter", "window"}, // window: "minute", "hour", "day"
		),
	}
}

// Handler returns the Prometheus HTTP handler for scraping metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// normalizePath collapses ids in URL paths to keep label cardinality bounded.
func normalizePath(path string) string {
	switch path {
	case "/", "/embed", "/health", "/health/live", "/health/ready", "/metrics":
		return path
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/*"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeID(seg string) bool {
	if len(seg) != 36 {
		return false
	}
	for i, r := range seg {
		switch {
		case i == 8 || i == 13 || i == 18 || i == 23:
			if r != '-' {
				return false
			}
		case (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'):
		default:
			return false
		}
	}
	return true
}

func outcome(success bool) string {
	if success {
		return outcomeSuccess
	}
	return outcomeFailure
}

// RecordEstimate records one end-to-end estimate. result is "success",
// "configuration" or "failure".
func (m *Metrics) RecordEstimate(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EstimatesTotal.WithLabelValues(provider, result).Inc()
	m.EstimateDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEstimateRetry records a retry after a transient provider error.
func (m *Metrics) RecordEstimateRetry(provider string) {
	if m == nil {
		return
	}
	m.EstimateRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordProviderCall records one provider round trip. kind is "ok" on success.
func (m *Metrics) RecordProviderCall(provider, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(provider, kind).Inc()
	m.ProviderCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
	if state == 2 {
		m.CircuitBreakerTrips.WithLabelValues(service).Inc()
	}
}

// RecordDispatchChannel records one lead dispatch channel result.
func (m *Metrics) RecordDispatchChannel(channel string, attempted, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	if !attempted {
		m.DispatchChannelsTotal.WithLabelValues(channel, outcomeSkipped).Inc()
		return
	}
	m.DispatchChannelsTotal.WithLabelValues(channel, outcome(success)).Inc()
	m.DispatchChannelDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// SetActiveSessions sets the number of live widget sessions.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// RecordSessionTransition records a widget state change.
func (m *Metrics) RecordSessionTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordPricingImport records a price list import.
func (m *Metrics) RecordPricingImport(source string, success bool) {
	if m == nil {
		return
	}
	m.PricingImports.WithLabelValues(source, outcome(success)).Inc()
}

// RecordCacheLookup records a widget cache lookup: "hit", "miss" or "error".
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// UpdateDBConnections updates database connection metrics.
func (m *Metrics) UpdateDBConnections(open, inUse int) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(open))
	m.DBConnectionsInUse.Set(float64(inUse))
}

// RecordDBQuery records a database query.
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
}

// SetRateLimitUsage sets current rate limit usage.
func (m *Metrics) SetRateLimitUsage(limiter, window string, current float64) {
	if m == nil {
		return
	}
	m.RateLimitCurrent.WithLabelValues(limiter, window).Set(current)
}
