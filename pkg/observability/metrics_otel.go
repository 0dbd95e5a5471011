package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for the authentication flows.
// They are exported through the OTLP pipeline set up by InitOTel, next to
// the Prometheus registry the daemon scrapes locally.
type OTelMetrics struct {
	logins         metric.Int64Counter
	loginDuration  metric.Float64Histogram
	tokenRefreshes metric.Int64Counter
	authRetries    metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/qzcli")

	m := &OTelMetrics{}
	var err error

	m.logins, err = meter.Int64Counter(
		"qzcli.sso.logins",
		metric.WithDescription("SSO login attempts by result"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso logins counter: %w", err)
	}

	m.loginDuration, err = meter.Float64Histogram(
		"qzcli.sso.login.duration",
		metric.WithDescription("End-to-end SSO login duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso login duration histogram: %w", err)
	}

	m.tokenRefreshes, err = meter.Int64Counter(
		"qzcli.token.refreshes",
		metric.WithDescription("Bearer token exchanges by status"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token refresh counter: %w", err)
	}

	m.authRetries, err = meter.Int64Counter(
		"qzcli.auth.retries",
		metric.WithDescription("Requests retried after an auth-expired response"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth retries counter: %w", err)
	}

	return m, nil
}

// RecordLogin records a finished SSO login
func (m *OTelMetrics) RecordLogin(ctx context.Context, result string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.logins.Add(ctx, 1, attrs)
	m.loginDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTokenRefresh records a call to the token endpoint
func (m *OTelMetrics) RecordTokenRefresh(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusLabel(err))))
}

// RecordAuthRetry records a one-shot retry
func (m *OTelMetrics) RecordAuthRetry(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.authRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
