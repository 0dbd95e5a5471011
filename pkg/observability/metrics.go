package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Bearer token metrics
	TokenExchangesTotal *prometheus.CounterVec
	TokenLookupsTotal   *prometheus.CounterVec
	AuthRetriesTotal    prometheus.Counter

	// Platform API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// SSO metrics
	SSOLoginsTotal *prometheus.CounterVec
	SSOHopDuration *prometheus.HistogramVec

	// Credential store metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Keep-alive daemon metrics
	KeepaliveRunsTotal  *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TokenExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_token_exchanges_total",
				Help: "Total number of bearer token exchanges against /auth/token",
			},
			[]string{"status"},
		),
		TokenLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_token_lookups_total",
				Help: "Bearer token lookups by the source that satisfied them",
			},
			[]string{"source"},
		),
		AuthRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qzcli_auth_retries_total",
				Help: "Requests retried after the platform reported an expired token",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_api_requests_total",
				Help: "Total number of platform API requests",
			},
			[]string{"endpoint", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qzcli_api_request_duration_seconds",
				Help:    "Platform API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		SSOLoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_sso_logins_total",
				Help: "SSO login attempts by result",
			},
			[]string{"result"},
		),
		SSOHopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qzcli_sso_hop_duration_seconds",
				Help:    "Duration of each SSO round trip by the state that issued it",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"state"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_storage_operations_total",
				Help: "Total number of credential store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qzcli_storage_operation_duration_seconds",
				Help:    "Credential store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		KeepaliveRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_keepalive_runs_total",
				Help: "Scheduled keep-alive jobs by job and status",
			},
			[]string{"job", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qzcli_http_requests_total",
				Help: "Requests served by the keep-alive daemon",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qzcli_http_request_duration_seconds",
				Help:    "Keep-alive daemon request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.TokenExchangesTotal,
		m.TokenLookupsTotal,
		m.AuthRetriesTotal,
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.SSOLoginsTotal,
		m.SSOHopDuration,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.KeepaliveRunsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordTokenExchange counts a call to the token endpoint
func (m *Metrics) RecordTokenExchange(err error) {
	if m == nil {
		return
	}
	m.TokenExchangesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordTokenLookup counts where a bearer token came from: memory, store or network
func (m *Metrics) RecordTokenLookup(source string) {
	if m == nil {
		return
	}
	m.TokenLookupsTotal.WithLabelValues(source).Inc()
}

// RecordAuthRetry counts a one-shot retry after an auth-expired response
func (m *Metrics) RecordAuthRetry() {
	if m == nil {
		return
	}
	m.AuthRetriesTotal.Inc()
}

// RecordAPIRequest records one platform API round trip
func (m *Metrics) RecordAPIRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSSOLogin counts a finished login flow
func (m *Metrics) RecordSSOLogin(result string) {
	if m == nil {
		return
	}
	m.SSOLoginsTotal.WithLabelValues(result).Inc()
}

// RecordSSOHop records the duration of one SSO round trip
func (m *Metrics) RecordSSOHop(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SSOHopDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordStorageOperation records one credential store call
func (m *Metrics) RecordStorageOperation(operation, backend string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, statusLabel(err)).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordKeepaliveRun counts a scheduled keep-alive job
func (m *Metrics) RecordKeepaliveRun(job string, err error) {
	if m == nil {
		return
	}
	m.KeepaliveRunsTotal.WithLabelValues(job, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments the daemon's own endpoints
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
