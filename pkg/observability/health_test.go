package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *HealthChecker)
		expected string
	}{
		{
			name:     "no checks",
			setup:    func(h *HealthChecker) {},
			expected: StatusHealthy,
		},
		{
			name: "all passing",
			setup: func(h *HealthChecker) {
				h.AddCheck("store", true, func(ctx context.Context) error { return nil })
				h.AddCheck("token", false, func(ctx context.Context) error { return nil })
			},
			expected: StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			setup: func(h *HealthChecker) {
				h.AddCheck("store", true, func(ctx context.Context) error { return nil })
				h.AddCheck("cookie", false, func(ctx context.Context) error { return errors.New("expired") })
			},
			expected: StatusDegraded,
		},
		{
			name: "critical failure is unhealthy",
			setup: func(h *HealthChecker) {
				h.AddCheck("cookie", false, func(ctx context.Context) error { return errors.New("expired") })
				h.AddCheck("store", true, func(ctx context.Context) error { return errors.New("disk full") })
			},
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker("1.2.3")
			tt.setup(checker)

			status := checker.Check(context.Background())
			if status.Status != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, status.Status)
			}
			if status.Version != "1.2.3" {
				t.Errorf("Expected version 1.2.3, got %s", status.Version)
			}
		})
	}
}

func TestHealthChecker_RedisCheck(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker("")
	checker.AddCheck("redis", true, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	if status := checker.Check(context.Background()); status.Status != StatusHealthy {
		t.Fatalf("Expected healthy, got %s", status.Status)
	}

	mr.Close()
	status := checker.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy after redis shutdown, got %s", status.Status)
	}
	if status.Dependencies["redis"].Message == "" {
		t.Error("Expected an error message for redis")
	}
}

func TestHealthChecker_Handlers(t *testing.T) {
	checker := NewHealthChecker("dev")
	checker.AddCheck("store", true, func(ctx context.Context) error { return errors.New("unavailable") })

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("readiness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if status.Dependencies["store"].Status != StatusUnhealthy {
			t.Errorf("Expected store unhealthy, got %+v", status.Dependencies["store"])
		}
	})

	if names := checker.Names(); len(names) != 1 || names[0] != "store" {
		t.Errorf("Unexpected names %v", names)
	}
}
