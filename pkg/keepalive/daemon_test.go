package keepalive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/platform"
	"github.com/platinummonkey/qzcli/pkg/platformtest"
	"github.com/platinummonkey/qzcli/pkg/session"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newDaemon points the config loader at the fake platform. mutate, when
// set, runs on every freshly loaded config.
func newDaemon(t *testing.T, p *platformtest.Platform, mutate func(*config.Config)) *Daemon {
	t.Helper()
	dir := t.TempDir()
	d := New(Options{
		ConfigDir: dir,
		Load: func(dir string) (*config.Config, error) {
			cfg := config.Default()
			cfg.ConfigDir = dir
			cfg.APIBaseURL = p.TargetURL()
			cfg.Username = platformtest.Username
			cfg.Password = platformtest.Password
			cfg.SSO.BrokerHost = platformtest.BrokerHost
			cfg.SSO.ProviderHost = platformtest.ProviderHost
			if mutate != nil {
				mutate(cfg)
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Session: session.Options{
			Transport: p.Transport(),
			SSOKey:    p.Key,
		},
		Version:   "test",
		Lifecycle: quietLogger(),
		Logger:    observability.NopLogger(),
	})
	t.Cleanup(func() { d.Stop(context.Background()) })
	return d
}

func runs(d *Daemon, job, status string) float64 {
	return testutil.ToFloat64(d.Metrics().KeepaliveRunsTotal.WithLabelValues(job, status))
}

func TestStart_RenewsToken(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)

	require.NoError(t, d.Start(context.Background()))

	token, err := d.Session().CachedToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)
	assert.Equal(t, float64(1), runs(d, JobToken, "success"))
	assert.Equal(t, float64(0), runs(d, JobCookie, "success")+runs(d, JobCookie, "error"))
}

func TestRunOnce_ReusesCachedToken(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	require.NoError(t, d.Start(context.Background()))

	first, err := d.Session().CachedToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.RunOnce(context.Background()))
	second, err := d.Session().CachedToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, float64(2), runs(d, JobToken, "success"))
}

func TestRunOnce_TokenFailure(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, func(cfg *config.Config) { cfg.Password = "wrong" })

	// a failed first run does not stop the daemon
	require.NoError(t, d.Start(context.Background()))

	err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobToken+":")
	assert.Equal(t, float64(2), runs(d, JobToken, "error"))
}

func TestRunOnce_NotStarted(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)

	assert.ErrorIs(t, d.RunOnce(context.Background()), ErrNotStarted)
}

func TestRunOnce_ProbeCookie(t *testing.T) {
	p := platformtest.New(t)
	p.AddSession("sess-x")
	p.AddTasks("ws-1", platformtest.Task("t-1", "pretrain", "llm", 8))
	d := newDaemon(t, p, func(cfg *config.Config) { cfg.Keepalive.ProbeCookie = true })
	require.NoError(t, d.Reload(context.Background()))

	require.NoError(t, d.Session().SaveCookie(context.Background(), "session=sess-x", "ws-1", false))

	require.NoError(t, d.RunOnce(context.Background()))
	assert.Equal(t, float64(1), runs(d, JobCookie, "success"))

	p.ExpireSessions()
	err := d.RunOnce(context.Background())
	assert.ErrorIs(t, err, platform.ErrCookieExpired)
	assert.Equal(t, float64(1), runs(d, JobCookie, "error"))
	assert.Equal(t, float64(2), runs(d, JobToken, "success"))
}

func TestRunOnce_ProbeWithoutCookie(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, func(cfg *config.Config) { cfg.Keepalive.ProbeCookie = true })
	require.NoError(t, d.Reload(context.Background()))

	err := d.RunOnce(context.Background())
	assert.ErrorIs(t, err, session.ErrNoCookie)
	assert.Equal(t, float64(1), runs(d, JobCookie, "error"))
}

func TestReload_KeepsSessionOnFailure(t *testing.T) {
	p := platformtest.New(t)
	var broken atomic.Bool
	d := newDaemon(t, p, func(cfg *config.Config) {
		if broken.Load() {
			cfg.Keepalive.Schedule = "not a schedule"
		}
	})
	require.NoError(t, d.Start(context.Background()))
	before := d.Session()

	broken.Store(true)
	err := d.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Same(t, before, d.Session())

	broken.Store(false)
	require.NoError(t, d.Reload(context.Background()))
	assert.NotSame(t, before, d.Session())
}

func TestReload_ReplacesSchedule(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Reload(context.Background()))
	require.NoError(t, d.Reload(context.Background()))

	assert.Len(t, d.cron.Entries(), 1)
}

// gatedTransport holds token requests until release is closed
type gatedTransport struct {
	base    http.RoundTripper
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, platformtest.TokenPath) {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}
	return g.base.RoundTrip(req)
}

func TestReload_WaitsForRunningJob(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, func(cfg *config.Config) { cfg.Store.Type = "memory" })
	gate := &gatedTransport{base: p.Transport(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	d.opts.Session.Transport = gate

	ctx := context.Background()
	require.NoError(t, d.Reload(ctx))
	old := d.Session()
	require.NoError(t, old.SaveCookie(ctx, "session=sess-x", "ws-1", false))

	done := make(chan error, 1)
	go func() { done <- d.RunOnce(ctx) }()
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("token request never started")
	}

	require.NoError(t, d.Reload(ctx))
	assert.NotSame(t, old, d.Session())

	// closing a memory store purges it, so the cookie shows the old
	// session is still open
	_, err := old.Cookie(ctx)
	require.NoError(t, err)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Eventually(t, func() bool {
		_, err := old.Cookie(ctx)
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStop(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Stop(context.Background()))
	assert.Nil(t, d.Session())
	require.NoError(t, d.Stop(context.Background()))
}

func TestHandler(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	h := d.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	notReady := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, notReady.Code)
	assert.Contains(t, notReady.Body.String(), ErrNotStarted.Error())

	require.NoError(t, d.Start(context.Background()))

	ready := get("/readyz")
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.Contains(t, ready.Body.String(), `"store"`)
	assert.Contains(t, ready.Body.String(), `"token"`)
	assert.NotEmpty(t, ready.Header().Get("X-Request-ID"))

	metrics := get("/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "qzcli_keepalive_runs_total")
	assert.Contains(t, metrics.Body.String(), "qzcli_http_requests_total")

	assert.Equal(t, http.StatusNotFound, get("/nope").Code)
}

func TestReadiness_TokenMissing(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	require.NoError(t, d.Reload(context.Background()))

	status := d.health.Check(context.Background())
	assert.Equal(t, observability.StatusUnhealthy, status.Status)
	assert.Equal(t, observability.StatusHealthy, status.Dependencies["store"].Status)
	assert.Equal(t, observability.StatusUnhealthy, status.Dependencies["token"].Status)
}

func TestWatch_ReloadsOnConfigWrite(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	require.NoError(t, d.Start(context.Background()))
	before := d.Session()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Watch(ctx) }()

	// rewrite until the watcher has been added and picked a change up
	require.Eventually(t, func() bool {
		if _, err := config.InitConfigIn(d.opts.ConfigDir, platformtest.Username, platformtest.Password, ""); err != nil {
			return false
		}
		return d.Session() != before
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	p := platformtest.New(t)
	d := newDaemon(t, p, nil)
	d.opts.ConfigDir = d.opts.ConfigDir + "/missing"

	err := d.Watch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch")
}
