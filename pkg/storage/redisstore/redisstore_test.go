package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/storage"
	"github.com/platinummonkey/qzcli/pkg/storage/storagetest"
)

func setupRedisStoreTest(t *testing.T, clock *storagetest.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := storage.Config{
		RedisURL:        "redis://" + mr.Addr(),
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		RedisKeyPrefix:  "qzcli:",
	}

	store, err := New(context.Background(), cfg, storage.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestRedisStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.Store {
		store, _ := setupRedisStoreTest(t, clock)
		return store
	})
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), storage.Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(context.Background(), storage.Config{RedisURL: "redis://" + addr, RedisDB: -1})
	assert.Error(t, err)
}

func TestRedisStore_KeysAndExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStoreTest(t, storagetest.NewClock())

	require.NoError(t, store.SaveToken(ctx, "tok", time.Hour))
	require.NoError(t, store.SaveCookie(ctx, "session=abc", "ws"))

	assert.True(t, mr.Exists("qzcli:token"))
	assert.True(t, mr.Exists("qzcli:cookie"))
	assert.Equal(t, time.Hour, mr.TTL("qzcli:token"))
	assert.Equal(t, time.Duration(0), mr.TTL("qzcli:cookie"))

	mr.FastForward(time.Hour + time.Second)
	_, err := store.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	_, err = store.GetCookie(ctx)
	assert.NoError(t, err)
}

func TestRedisStore_CorruptRecordIsDropped(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStoreTest(t, storagetest.NewClock())

	require.NoError(t, mr.Set("qzcli:token", "{broken"))

	_, err := store.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
	assert.False(t, mr.Exists("qzcli:token"))
}

func TestRedisStore_SharedAcrossClients(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	first, mr := setupRedisStoreTest(t, clock)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	second := NewFromClient(client, "qzcli:", storage.WithClock(clock.Now))
	defer second.Close()

	require.NoError(t, first.SaveToken(ctx, "shared", time.Hour))

	token, err := second.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shared", token.Value)

	other := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "other:")
	defer other.Close()
	_, err = other.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestRedisStore_PingAfterShutdown(t *testing.T) {
	store, mr := setupRedisStoreTest(t, storagetest.NewClock())
	require.NoError(t, store.Ping(context.Background()))
	assert.NotNil(t, store.Client())

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
