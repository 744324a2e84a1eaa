package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	StripeCallsTotal      *prometheus.CounterVec
	StripeCallDuration    *prometheus.HistogramVec
	WebhookEventsTotal    *prometheus.CounterVec
	WebhookDuplicatesTotal prometheus.Counter

	// Restriction metrics
	RestrictionChecksTotal  *prometheus.CounterVec
	RestrictedRequestsTotal *prometheus.CounterVec

	// Scheduler metrics
	TasksProcessedTotal *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	TasksPendingGauge   prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	AccountsTotal       *prometheus.GaugeVec
	ActiveClientsTotal  prometheus.Gauge
	RestrictedAccounts  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachdeck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachdeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StripeCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachdeck_stripe_calls_total",
				Help: "Total number of Stripe API calls",
			},
			[]string{"operation", "outcome"},
		),
		StripeCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachdeck_stripe_call_duration_seconds",
				Help:    "Stripe API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachdeck_webhook_events_total",
				Help: "Total number of processed Stripe webhook events",
			},
			[]string{"kind", "outcome"},
		),
		WebhookDuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachdeck_webhook_duplicates_total",
				Help: "Total number of duplicate webhook deliveries ignored",
			},
		),
		RestrictionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachdeck_restriction_checks_total",
				Help: "Total number of capacity restriction evaluations",
			},
			[]string{"result"},
		),
		RestrictedRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachdeck_restricted_requests_total",
				Help: "Total number of requests rejected by the restriction middleware",
			},
			[]string{"reason"},
		),
		TasksProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachdeck_tasks_processed_total",
				Help: "Total number of scheduled tasks processed by the sweep",
			},
			[]string{"kind", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachdeck_task_duration_seconds",
				Help:    "Scheduled task execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		TasksPendingGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachdeck_tasks_pending",
				Help: "Number of pending scheduled tasks",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachdeck_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachdeck_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		AccountsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coachdeck_accounts_total",
				Help: "Number of accounts by tier",
			},
			[]string{"tier"},
		),
		ActiveClientsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachdeck_active_clients_total",
				Help: "Number of active (non-archived) clients across accounts",
			},
		),
		RestrictedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachdeck_restricted_accounts",
				Help: "Number of currently restricted accounts",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StripeCallsTotal,
		m.StripeCallDuration,
		m.WebhookEventsTotal,
		m.WebhookDuplicatesTotal,
		m.RestrictionChecksTotal,
		m.RestrictedRequestsTotal,
		m.TasksProcessedTotal,
		m.TaskDuration,
		m.TasksPendingGauge,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.AccountsTotal,
		m.ActiveClientsTotal,
		m.RestrictedAccounts,
	)

	return m
}

// ObserveHTTPRequest records metrics for an HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveStripeCall records metrics for a Stripe API call
func (m *Metrics) ObserveStripeCall(operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.StripeCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.StripeCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveTask records metrics for a processed scheduled task
func (m *Metrics) ObserveTask(kind, status string, duration time.Duration) {
	m.TasksProcessedTotal.WithLabelValues(kind, status).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMetricsMiddleware records request metrics for every request
func (m *Metrics) HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.ObserveHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
