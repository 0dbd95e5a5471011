package auth

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/storage"
	"github.com/platinummonkey/qzcli/pkg/storage/storagetest"
)

func newTestExecutor(t *testing.T, fake *fakePlatform, metrics *observability.Metrics) *Executor {
	t.Helper()
	clock := storagetest.NewClock()
	ex, err := NewTokenExchanger(ExchangerConfig{
		BaseURL:     fake.URL(),
		Credentials: testCreds,
		Store:       storage.NewMemoryStorage(storage.WithClock(clock.Now)),
		Metrics:     metrics,
		Now:         clock.Now,
	})
	require.NoError(t, err)
	return NewExecutor(fake.URL(), nil, ex, metrics, nil)
}

func TestExecutor_Success(t *testing.T) {
	fake := newFakePlatform(t)
	x := newTestExecutor(t, fake, nil)

	env, err := x.Execute(context.Background(), detailPath, map[string]string{"job_id": "job-1"})
	require.NoError(t, err)

	var data map[string]string
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "job-1", data["job_id"])
	assert.Equal(t, "tok-1", data["token"])

	assert.Equal(t, []string{"Bearer tok-1"}, fake.seenAuthHeaders())
	ids := fake.seenRequestIDs()
	require.Len(t, ids, 1)
	assert.Len(t, ids[0], 36)
}

func TestExecutor_RetryBound(t *testing.T) {
	tests := []struct {
		name        string
		expireCalls int
		wantErr     bool
		apiCalls    int32
		tokenCalls  int32
	}{
		{
			name:        "no expiry",
			expireCalls: 0,
			apiCalls:    1,
			tokenCalls:  1,
		},
		{
			name:        "single expiry retries once",
			expireCalls: 1,
			apiCalls:    2,
			tokenCalls:  2,
		},
		{
			name:        "persistent expiry gives up after one retry",
			expireCalls: 100,
			wantErr:     true,
			apiCalls:    2,
			tokenCalls:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakePlatform(t)
			fake.set(func(f *fakePlatform) { f.expireCalls = tt.expireCalls })
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			x := newTestExecutor(t, fake, metrics)

			_, err := x.Execute(context.Background(), detailPath, map[string]string{"job_id": "j"})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAuthExpired)
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, CodeAuthExpired, apiErr.Code)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tt.apiCalls, fake.apiCalls.Load())
			assert.Equal(t, tt.tokenCalls, fake.tokenCalls.Load())
			assert.Equal(t, float64(tt.apiCalls-1), testutil.ToFloat64(metrics.AuthRetriesTotal))
		})
	}
}

func TestExecutor_RetryUsesFreshToken(t *testing.T) {
	fake := newFakePlatform(t)
	fake.set(func(f *fakePlatform) { f.expireCalls = 1 })
	x := newTestExecutor(t, fake, nil)

	_, err := x.Execute(context.Background(), detailPath, map[string]string{"job_id": "j"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, fake.seenAuthHeaders())
	ids := fake.seenRequestIDs()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestExecutor_Rejected(t *testing.T) {
	fake := newFakePlatform(t)
	fake.set(func(f *fakePlatform) { f.apiBody = `{"code":40001,"message":"job not found"}` })
	x := newTestExecutor(t, fake, nil)

	_, err := x.Execute(context.Background(), detailPath, map[string]string{"job_id": "missing"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40001, apiErr.Code)
	assert.Equal(t, "job not found", apiErr.Message)
	assert.NotErrorIs(t, err, ErrAuthExpired)
	assert.EqualValues(t, 1, fake.apiCalls.Load())
}

func TestExecutor_ConnectivityNotRetried(t *testing.T) {
	fake := newFakePlatform(t)
	fake.set(func(f *fakePlatform) { f.apiBody = `Bad Gateway` })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	x := newTestExecutor(t, fake, metrics)

	_, err := x.Execute(context.Background(), detailPath, map[string]string{"job_id": "j"})

	var connErr *ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "decode response", connErr.Op)
	assert.EqualValues(t, 1, fake.apiCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(detailPath, "connectivity_error")))
}

func TestExecutor_TokenFailureStopsCall(t *testing.T) {
	fake := newFakePlatform(t)
	ex, err := NewTokenExchanger(ExchangerConfig{BaseURL: fake.URL(), Store: storage.NewMemoryStorage()})
	require.NoError(t, err)
	x := NewExecutor(fake.URL(), nil, ex, nil, nil)

	_, err = x.Execute(context.Background(), detailPath, map[string]string{"job_id": "j"})
	assert.ErrorIs(t, err, ErrAuthConfigMissing)
	assert.EqualValues(t, 0, fake.apiCalls.Load())
	assert.Same(t, ex, x.Tokens())
}
