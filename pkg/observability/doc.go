// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks for qzcli.
//
// # Structured Logging
//
// The CLI logs JSON to stderr so stdout stays clean for command output:
//
//	logger := observability.NewLogger(observability.WarnLevel, os.Stderr)
//	logger.WithField("endpoint", endpoint).Warn("token expired, retrying once")
//
// Request-scoped fields travel in the context:
//
//	ctx = observability.WithRequestID(ctx, uuid.NewString())
//	observability.FromContext(ctx).Debug("calling platform")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordSSOLogin("success")
//
// A nil *Metrics is accepted everywhere and records nothing, which is what
// the CLI uses; the keep-alive daemon registers real metrics and serves them
// with MetricsHandler.
//
// # OpenTelemetry
//
// InitOTel installs OTLP/gRPC exporters. Outbound clients use
// InstrumentedTransport so every platform and SSO round trip becomes a span.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("store", true, store.Ping)
//	router.HandleFunc("/readyz", checker.Readiness)
package observability
