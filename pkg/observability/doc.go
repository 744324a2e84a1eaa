// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown and optional OpenTelemetry export.
//
// The Logger wraps log/slog with a JSON handler and supports field chaining:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithAccount(accountID).WithField("tier", tier).Info("subscription created")
//
// Metrics are registered against an explicit *prometheus.Registry so tests
// can create isolated registries. The HealthChecker serves liveness and
// readiness probes on the dedicated health port, checking Postgres and
// (optionally) Redis.
package observability
