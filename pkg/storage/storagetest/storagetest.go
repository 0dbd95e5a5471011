// Package storagetest holds the behaviour every storage.Store backend must
// share, so each backend package can run the same suite against itself.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/storage"
)

// Epoch is a whole-second start time so expiry arithmetic is exact.
var Epoch = time.Unix(1_700_000_000, 0)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at Epoch
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds a fresh, empty store that reads time from clock.
type Factory func(t *testing.T, clock *Clock) storage.Store

// Run exercises a backend against the shared store contract.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		store := factory(t, NewClock())

		_, err := store.GetToken(ctx)
		assert.ErrorIs(t, err, storage.ErrCacheMiss)

		_, err = store.GetCookie(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("token round trip", func(t *testing.T) {
		clock := NewClock()
		store := factory(t, clock)

		require.NoError(t, store.SaveToken(ctx, "tok-1", time.Hour))

		token, err := store.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token.Value)
		assert.Equal(t, float64(Epoch.Unix()+3600), token.ExpiresAt)
	})

	t.Run("grace period boundary", func(t *testing.T) {
		clock := NewClock()
		store := factory(t, clock)

		require.NoError(t, store.SaveToken(ctx, "tok-edge", 310*time.Second))

		clock.Advance(9 * time.Second)
		token, err := store.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-edge", token.Value)

		clock.Advance(time.Second)
		_, err = store.GetToken(ctx)
		assert.ErrorIs(t, err, storage.ErrCacheMiss)
	})

	t.Run("ttl inside grace period is never served", func(t *testing.T) {
		store := factory(t, NewClock())

		require.NoError(t, store.SaveToken(ctx, "short", storage.GracePeriod))
		_, err := store.GetToken(ctx)
		assert.ErrorIs(t, err, storage.ErrCacheMiss)
	})

	t.Run("save replaces previous token", func(t *testing.T) {
		store := factory(t, NewClock())

		require.NoError(t, store.SaveToken(ctx, "old", time.Hour))
		require.NoError(t, store.SaveToken(ctx, "new", 2*time.Hour))

		token, err := store.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "new", token.Value)
		assert.Equal(t, float64(Epoch.Unix()+7200), token.ExpiresAt)
	})

	t.Run("empty token is rejected", func(t *testing.T) {
		store := factory(t, NewClock())
		assert.Error(t, store.SaveToken(ctx, "", time.Hour))
	})

	t.Run("cookie round trip", func(t *testing.T) {
		clock := NewClock()
		store := factory(t, clock)

		require.NoError(t, store.SaveCookie(ctx, "session=abc; other=1", "ws-42"))

		record, err := store.GetCookie(ctx)
		require.NoError(t, err)
		assert.Equal(t, "session=abc; other=1", record.Cookie)
		assert.Equal(t, "ws-42", record.WorkspaceID)
		assert.Equal(t, float64(Epoch.Unix()), record.SavedAt)
		assert.True(t, record.HasSession())
	})

	t.Run("cookie without workspace", func(t *testing.T) {
		store := factory(t, NewClock())

		require.NoError(t, store.SaveCookie(ctx, "session=abc", ""))
		record, err := store.GetCookie(ctx)
		require.NoError(t, err)
		assert.Empty(t, record.WorkspaceID)
	})

	t.Run("clears are independent", func(t *testing.T) {
		store := factory(t, NewClock())

		require.NoError(t, store.SaveToken(ctx, "tok", time.Hour))
		require.NoError(t, store.SaveCookie(ctx, "session=abc", "ws"))

		require.NoError(t, store.ClearToken(ctx))
		_, err := store.GetToken(ctx)
		assert.ErrorIs(t, err, storage.ErrCacheMiss)
		_, err = store.GetCookie(ctx)
		assert.NoError(t, err)

		require.NoError(t, store.SaveToken(ctx, "tok", time.Hour))
		require.NoError(t, store.ClearCookie(ctx))
		_, err = store.GetCookie(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetToken(ctx)
		assert.NoError(t, err)
	})

	t.Run("clearing an empty store is not an error", func(t *testing.T) {
		store := factory(t, NewClock())
		assert.NoError(t, store.ClearToken(ctx))
		assert.NoError(t, store.ClearCookie(ctx))
	})

	t.Run("concurrent saves leave one complete record", func(t *testing.T) {
		store := factory(t, NewClock())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = store.SaveToken(ctx, "tok-"+string(rune('a'+i)), time.Hour)
			}(i)
		}
		wg.Wait()

		token, err := store.GetToken(ctx)
		require.NoError(t, err)
		assert.Len(t, token.Value, 5)
	})
}
