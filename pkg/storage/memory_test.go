package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/storage"
	"github.com/platinummonkey/qzcli/pkg/storage/storagetest"
)

func TestMemoryStorage_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.Store {
		return storage.NewMemoryStorage(storage.WithClock(clock.Now))
	})
}

func TestMemoryStorage_CloseDropsRecords(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	require.NoError(t, store.SaveToken(ctx, "tok", time.Hour))
	require.NoError(t, store.Close())

	_, err := store.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestInstrument(t *testing.T) {
	t.Run("nil metrics returns the store", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		assert.Same(t, store, storage.Instrument(store, "memory", nil))
	})

	t.Run("misses count as success", func(t *testing.T) {
		ctx := context.Background()
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		store := storage.Instrument(storage.NewMemoryStorage(), "memory", metrics)

		_, err := store.GetToken(ctx)
		assert.ErrorIs(t, err, storage.ErrCacheMiss)
		assert.Error(t, store.SaveToken(ctx, "", time.Hour))
		require.NoError(t, store.SaveToken(ctx, "tok", time.Hour))

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("get_token", "memory", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("save_token", "memory", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("save_token", "memory", "error")))
	})

	t.Run("contract holds through the wrapper", func(t *testing.T) {
		storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.Store {
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			return storage.Instrument(storage.NewMemoryStorage(storage.WithClock(clock.Now)), "memory", metrics)
		})
	})
}
