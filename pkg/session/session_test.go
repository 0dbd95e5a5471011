package session_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/platform"
	"github.com/platinummonkey/qzcli/pkg/platformtest"
	"github.com/platinummonkey/qzcli/pkg/session"
	"github.com/platinummonkey/qzcli/pkg/sso"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

func newConfig(t *testing.T, p *platformtest.Platform) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ConfigDir = t.TempDir()
	cfg.APIBaseURL = p.TargetURL()
	cfg.Username = platformtest.Username
	cfg.Password = platformtest.Password
	cfg.SSO.BrokerHost = platformtest.BrokerHost
	cfg.SSO.ProviderHost = platformtest.ProviderHost
	cfg.Store.Type = "memory"
	require.NoError(t, cfg.Validate())
	return cfg
}

func openSession(t *testing.T, p *platformtest.Platform, cfg *config.Config) *session.Session {
	t.Helper()
	s, err := session.Open(context.Background(), cfg, session.Options{
		Transport: p.Transport(),
		SSOKey:    p.Key,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogin_SavesCookie(t *testing.T) {
	p := platformtest.New(t)
	p.AddTasks("ws-1", platformtest.Task("t-1", "pretrain", "llm", 8))
	s := openSession(t, p, newConfig(t, p))
	ctx := context.Background()

	record, err := s.Login(ctx, "", "", "ws-1")
	require.NoError(t, err)
	assert.True(t, record.HasSession())
	assert.Equal(t, "ws-1", record.WorkspaceID)

	stored, err := s.Cookie(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Cookie, stored.Cookie)
	assert.Equal(t, "ws-1", stored.WorkspaceID)

	// the fresh cookie opens the browser-only endpoint
	page, err := s.Platform().ListWorkspaceTasks(ctx, stored.Cookie, platform.TaskQuery{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, []string{platformtest.Password}, p.DecryptedPasswords())
}

func TestLogin_ExplicitCredentialsWin(t *testing.T) {
	p := platformtest.New(t)
	cfg := newConfig(t, p)
	cfg.Password = "stale"
	s := openSession(t, p, cfg)

	_, err := s.Login(context.Background(), platformtest.Username, platformtest.Password, "")
	require.NoError(t, err)
}

func TestLogin_FailureSavesNothing(t *testing.T) {
	p := platformtest.New(t)
	cfg := newConfig(t, p)
	cfg.Password = "wrong"
	s := openSession(t, p, cfg)
	ctx := context.Background()

	_, err := s.Login(ctx, "", "", "ws-1")
	assert.ErrorIs(t, err, sso.ErrBadCredentials)

	_, err = s.Cookie(ctx)
	assert.ErrorIs(t, err, session.ErrNoCookie)
}

func TestSaveCookie(t *testing.T) {
	p := platformtest.New(t)
	p.AddSession("sess-x")
	p.AddTasks("ws-1", platformtest.Task("t-1", "pretrain", "llm", 8))
	s := openSession(t, p, newConfig(t, p))
	ctx := context.Background()

	require.NoError(t, s.SaveCookie(ctx, "session=sess-x", "ws-1", true))
	assert.EqualValues(t, 1, p.TaskCalls.Load())

	err := s.SaveCookie(ctx, "session=bogus", "ws-1", true)
	assert.ErrorIs(t, err, platform.ErrCookieExpired)
	stored, err := s.Cookie(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session=sess-x", stored.Cookie, "a rejected cookie must not replace the saved one")

	require.NoError(t, s.SaveCookie(ctx, "session=bogus", "ws-1", false))
	require.NoError(t, s.SaveCookie(ctx, "session=other", "", true))
	assert.EqualValues(t, 2, p.TaskCalls.Load())

	assert.EqualError(t, s.SaveCookie(ctx, "", "ws-1", false), "cookie is required")
}

func TestWorkspace(t *testing.T) {
	p := platformtest.New(t)
	s := openSession(t, p, newConfig(t, p))

	ws, err := s.Workspace(&storage.CookieRecord{WorkspaceID: "saved"}, "flag")
	require.NoError(t, err)
	assert.Equal(t, "flag", ws)

	ws, err = s.Workspace(&storage.CookieRecord{WorkspaceID: "saved"}, "")
	require.NoError(t, err)
	assert.Equal(t, "saved", ws)

	_, err = s.Workspace(nil, "")
	assert.ErrorIs(t, err, session.ErrNoWorkspace)
}

func TestTokenCache_Persisted(t *testing.T) {
	p := platformtest.New(t)
	cfg := newConfig(t, p)
	cfg.Store.Type = "file"
	ctx := context.Background()

	first := openSession(t, p, cfg)
	token, err := first.Tokens().GetToken(ctx, false)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openSession(t, p, cfg)
	assert.True(t, second.TokenCacheEnabled())
	cached, err := second.CachedToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, cached.Value)

	again, err := second.Tokens().GetToken(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.EqualValues(t, 1, p.TokenCalls.Load())
}

func TestTokenCache_Disabled(t *testing.T) {
	p := platformtest.New(t)
	cfg := newConfig(t, p)
	cfg.Store.Type = "file"
	cfg.TokenCacheEnabled = false
	ctx := context.Background()

	first := openSession(t, p, cfg)
	assert.False(t, first.TokenCacheEnabled())
	_, err := first.Tokens().GetToken(ctx, false)
	require.NoError(t, err)

	_, err = first.Store().GetToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	second := openSession(t, p, cfg)
	_, err = second.Tokens().GetToken(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.TokenCalls.Load())
}

func TestLogout(t *testing.T) {
	p := platformtest.New(t)
	s := openSession(t, p, newConfig(t, p))
	ctx := context.Background()

	_, err := s.Login(ctx, "", "", "ws-1")
	require.NoError(t, err)
	_, err = s.Tokens().GetToken(ctx, false)
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))

	_, err = s.Cookie(ctx)
	assert.ErrorIs(t, err, session.ErrNoCookie)
	_, err = s.CachedToken(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	// logging out twice is fine
	require.NoError(t, s.Logout(ctx))
}

func TestOpen_Validation(t *testing.T) {
	_, err := session.Open(context.Background(), nil, session.Options{})
	assert.EqualError(t, err, "config is required")

	cfg := config.Default()
	cfg.Store.Type = "memory"
	cfg.APIBaseURL = "not a url"
	_, err = session.Open(context.Background(), cfg, session.Options{})
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     func(dir string) storage.Config
		wantErr string
	}{
		{name: "file", cfg: func(dir string) storage.Config { return storage.Config{Type: "file", Dir: dir} }},
		{name: "default is file", cfg: func(dir string) storage.Config { return storage.Config{Dir: dir} }},
		{name: "memory", cfg: func(string) storage.Config { return storage.Config{Type: "memory"} }},
		{name: "sqlite", cfg: func(dir string) storage.Config {
			return storage.Config{Type: "sqlite", SQLitePath: filepath.Join(dir, "qzcli.db")}
		}},
		{name: "redis", cfg: func(string) storage.Config {
			return storage.Config{Type: "redis", RedisURL: "redis://" + mr.Addr(), RedisDB: -1, RedisKeyPrefix: "test:"}
		}},
		{name: "sqlite without path", cfg: func(string) storage.Config { return storage.Config{Type: "sqlite"} }, wantErr: "sqlite_path is required"},
		{name: "bad redis url", cfg: func(string) storage.Config { return storage.Config{Type: "redis", RedisURL: "::"} }, wantErr: "failed to open redis store"},
		{name: "unknown", cfg: func(string) storage.Config { return storage.Config{Type: "etcd"} }, wantErr: "unknown store type: etcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			ctx := context.Background()

			store, err := session.OpenStore(ctx, tt.cfg(t.TempDir()), metrics)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Ping(ctx))
			require.NoError(t, store.SaveCookie(ctx, "session=s1", "ws-1"))
			record, err := store.GetCookie(ctx)
			require.NoError(t, err)
			assert.Equal(t, "session=s1", record.Cookie)

			assert.Greater(t, testutil.CollectAndCount(metrics.StorageOperationsTotal), 0)
		})
	}
}
