package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) (*metric.MeterProvider, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	})
	return provider, reader
}

func collectSum(t *testing.T, reader *metric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewOTelMetrics(t *testing.T) {
	setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v, want nil", err)
	}
	if m == nil {
		t.Fatal("NewOTelMetrics() returned nil metrics")
	}
}

func TestOTelMetrics_Record(t *testing.T) {
	_, reader := setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordLogin(ctx, "success", 2*time.Second)
	m.RecordLogin(ctx, "captcha_required", time.Second)
	m.RecordTokenRefresh(ctx, nil)
	m.RecordTokenRefresh(ctx, errors.New("denied"))
	m.RecordTokenRefresh(ctx, nil)
	m.RecordAuthRetry(ctx, "/openapi/v1/train_job/detail")

	if got := collectSum(t, reader, "qzcli.sso.logins"); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
	if got := collectSum(t, reader, "qzcli.token.refreshes"); got != 3 {
		t.Errorf("token refreshes = %d, want 3", got)
	}
	if got := collectSum(t, reader, "qzcli.auth.retries"); got != 1 {
		t.Errorf("auth retries = %d, want 1", got)
	}
}

func TestOTelMetrics_NilSafe(t *testing.T) {
	var m *OTelMetrics
	ctx := context.Background()
	m.RecordLogin(ctx, "success", time.Second)
	m.RecordTokenRefresh(ctx, nil)
	m.RecordAuthRetry(ctx, "/x")
}
