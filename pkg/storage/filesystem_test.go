package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/storage"
	"github.com/platinummonkey/qzcli/pkg/storage/storagetest"
)

func newFileStore(t *testing.T, clock *storagetest.Clock) *storage.FileSystemStorage {
	t.Helper()
	store, err := storage.NewFileSystemStorage(filepath.Join(t.TempDir(), "qzcli"), storage.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFileSystemStorage_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.Store {
		return newFileStore(t, clock)
	})
}

func TestNewFileSystemStorage(t *testing.T) {
	t.Run("creates private directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "qzcli")

		store, err := storage.NewFileSystemStorage(dir)
		require.NoError(t, err)
		defer store.Close()

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
		assert.Equal(t, dir, store.Dir())
	})

	t.Run("empty directory is rejected", func(t *testing.T) {
		_, err := storage.NewFileSystemStorage("")
		assert.Error(t, err)
	})
}

func TestFileSystemStorage_FileLayout(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	store := newFileStore(t, clock)

	require.NoError(t, store.SaveToken(ctx, "tok", time.Hour))
	require.NoError(t, store.SaveCookie(ctx, "session=abc", "ws-1"))

	for _, name := range []string{storage.TokenFileName, storage.CookieFileName} {
		info, err := os.Stat(filepath.Join(store.Dir(), name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), storage.TokenFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"tok","expires_at":1700003600}`, string(data))

	data, err = os.ReadFile(filepath.Join(store.Dir(), storage.CookieFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cookie":"session=abc","workspace_id":"ws-1","saved_at":1700000000}`, string(data))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file left behind")
	}
}

func TestFileSystemStorage_CorruptFilesAreMisses(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t, storagetest.NewClock())

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), storage.TokenFileName), []byte("{not json"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), storage.CookieFileName), []byte(""), 0600))

	_, err := store.GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	_, err = store.GetCookie(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A fresh save repairs the file.
	require.NoError(t, store.SaveToken(ctx, "fixed", time.Hour))
	token, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fixed", token.Value)
}

func TestFileSystemStorage_ReadsExistingRecords(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock()
	store := newFileStore(t, clock)

	// Records written by an earlier release use fractional seconds.
	content := `{"token": "legacy", "expires_at": 1700003600.25}`
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), storage.TokenFileName), []byte(content), 0600))

	token, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", token.Value)
	assert.Equal(t, time.Unix(1700003600, 250000000), token.Expiry())
}

func TestFileSystemStorage_SharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := storage.NewFileSystemStorage(dir)
	require.NoError(t, err)
	defer first.Close()
	second, err := storage.NewFileSystemStorage(dir)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.SaveCookie(ctx, "session=shared", "ws"))

	record, err := second.GetCookie(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session=shared", record.Cookie)

	require.NoError(t, second.ClearCookie(ctx))
	_, err = first.GetCookie(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileSystemStorage_Ping(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	store, err := storage.NewFileSystemStorage(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, store.Ping(context.Background()))
}
