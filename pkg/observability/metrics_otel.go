package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments mirroring the
// Prometheus set for deployments that export over OTLP.
type OTelMetrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	stripeCallsTotal   metric.Int64Counter
	stripeCallDuration metric.Float64Histogram

	webhookEventsTotal metric.Int64Counter

	tasksProcessedTotal metric.Int64Counter
	taskDuration        metric.Float64Histogram
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/coachdeck/coachdeck")

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.stripeCallsTotal, err = meter.Int64Counter(
		"billing.stripe.calls",
		metric.WithDescription("Total number of Stripe API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe calls counter: %w", err)
	}

	m.stripeCallDuration, err = meter.Float64Histogram(
		"billing.stripe.duration",
		metric.WithDescription("Stripe API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe duration histogram: %w", err)
	}

	m.webhookEventsTotal, err = meter.Int64Counter(
		"billing.webhook.events",
		metric.WithDescription("Total number of processed webhook events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook events counter: %w", err)
	}

	m.tasksProcessedTotal, err = meter.Int64Counter(
		"scheduler.tasks.processed",
		metric.WithDescription("Total number of scheduled tasks processed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks counter: %w", err)
	}

	m.taskDuration, err = meter.Float64Histogram(
		"scheduler.tasks.duration",
		metric.WithDescription("Scheduled task execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
}

// HTTPMiddleware records OTel request metrics for every request
func (m *OTelMetrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// RecordStripeCall records a Stripe API call
func (m *OTelMetrics) RecordStripeCall(ctx context.Context, operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.stripeCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	m.stripeCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordWebhookEvent records a processed webhook event
func (m *OTelMetrics) RecordWebhookEvent(ctx context.Context, kind, outcome string) {
	m.webhookEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordTask records a processed scheduled task
func (m *OTelMetrics) RecordTask(ctx context.Context, kind, status string, duration time.Duration) {
	m.tasksProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	m.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
