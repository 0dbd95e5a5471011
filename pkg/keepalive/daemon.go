package keepalive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/qzcli/pkg/async"
	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/platform"
	"github.com/platinummonkey/qzcli/pkg/session"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

// Job names used in logs and in the keepalive_runs_total metric
const (
	JobToken  = "token"
	JobCookie = "cookie"
)

// ErrNotStarted is returned by readiness checks before the first session is open
var ErrNotStarted = errors.New("keep-alive session not open")

// Options configures a Daemon
type Options struct {
	// ConfigDir is watched for config.yaml changes
	ConfigDir string
	// Load reads the configuration; defaults to config.Load
	Load func(dir string) (*config.Config, error)

	Session  session.Options
	Registry *prometheus.Registry
	Version  string

	// Lifecycle receives start, reload, run and stop events
	Lifecycle *logrus.Logger
	// Logger is used for HTTP access logs and background task failures
	Logger *observability.Logger
}

// Daemon renews the cached bearer token on a cron schedule and optionally
// probes the saved cookie. The session is rebuilt whenever the config file
// changes.
type Daemon struct {
	opts     Options
	log      *logrus.Logger
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	health   *observability.HealthChecker
	cron     *cron.Cron

	mu  sync.RWMutex
	gen *generation
	// retiring counts replaced sessions waiting for their runs to finish
	retiring sync.WaitGroup
}

// generation is one loaded config and the session built from it. A
// replaced generation is closed once every run holding it returns.
type generation struct {
	sess  *session.Session
	cfg   *config.Config
	entry cron.EntryID
	runs  sync.WaitGroup
}

// New creates a daemon. Nothing runs until Start.
func New(opts Options) *Daemon {
	if opts.Load == nil {
		opts.Load = config.Load
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = logrus.StandardLogger()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.WarnLevel, nil)
	}

	metrics := observability.NewMetrics(opts.Registry)
	if opts.Session.Metrics == nil {
		opts.Session.Metrics = metrics
	}

	d := &Daemon{
		opts:     opts,
		log:      opts.Lifecycle,
		logger:   opts.Logger,
		registry: opts.Registry,
		metrics:  metrics,
		health:   observability.NewHealthChecker(opts.Version),
	}
	d.cron = cron.New(
		cron.WithLogger(cron.PrintfLogger(d.log)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(d.log))),
	)
	d.health.AddCheck("store", true, d.checkStore)
	d.health.AddCheck("token", true, d.checkToken)
	return d
}

// Start opens the session, runs the jobs once and starts the scheduler
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Reload(ctx); err != nil {
		return err
	}
	if err := d.RunOnce(ctx); err != nil {
		d.log.WithError(err).Warn("Initial keep-alive run failed")
	}
	d.cron.Start()
	d.log.WithField("schedule", d.Config().Keepalive.Schedule).Info("Keep-alive scheduler started")
	return nil
}

// Stop halts the scheduler and closes every session once the runs using
// it have returned, or ctx is done.
func (d *Daemon) Stop(ctx context.Context) error {
	select {
	case <-d.cron.Stop().Done():
	case <-ctx.Done():
		d.log.Warn("Timed out waiting for the running keep-alive job")
	}

	d.mu.Lock()
	g := d.gen
	d.gen = nil
	d.mu.Unlock()
	if g != nil {
		d.retire(g)
	}

	done := make(chan struct{})
	go func() {
		d.retiring.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still in use: %w", ctx.Err())
	}
}

// Reload reads the config, opens a new session and swaps it in together
// with the new schedule. On failure the previous session stays active.
func (d *Daemon) Reload(ctx context.Context) error {
	cfg, err := d.opts.Load(d.opts.ConfigDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sess, err := session.Open(d.withLogger(ctx), cfg, d.opts.Session)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	entry, err := d.cron.AddFunc(cfg.Keepalive.Schedule, d.tick)
	if err != nil {
		sess.Close()
		return fmt.Errorf("failed to schedule keep-alive: %w", err)
	}

	d.mu.Lock()
	old := d.gen
	d.gen = &generation{sess: sess, cfg: cfg, entry: entry}
	d.mu.Unlock()

	if old != nil {
		d.cron.Remove(old.entry)
		d.retire(old)
	}

	d.log.WithFields(logrus.Fields{
		"store":        cfg.Store.Type,
		"schedule":     cfg.Keepalive.Schedule,
		"probe_cookie": cfg.Keepalive.ProbeCookie,
	}).Info("Session loaded")
	return nil
}

// retire closes g in the background after its in-flight runs return
func (d *Daemon) retire(g *generation) {
	d.retiring.Add(1)
	go func() {
		defer d.retiring.Done()
		g.runs.Wait()
		if err := g.sess.Close(); err != nil {
			d.log.WithError(err).Warn("Failed to close previous session")
		}
	}()
}

// acquire pins the active generation until release is called. It returns
// nil before Start and after Stop.
func (d *Daemon) acquire() (g *generation, release func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.gen == nil {
		return nil, func() {}
	}
	d.gen.runs.Add(1)
	return d.gen, d.gen.runs.Done
}

func (d *Daemon) tick() {
	defer observability.RecoverPanic(d.logger, "keep-alive tick")
	if err := d.RunOnce(context.Background()); err != nil {
		d.log.WithError(err).Warn("Keep-alive run failed")
	}
}

// RunOnce renews the token and, when enabled, probes the cookie. Both jobs
// run concurrently and every outcome is counted.
func (d *Daemon) RunOnce(ctx context.Context) error {
	g, release := d.acquire()
	defer release()
	if g == nil {
		return ErrNotStarted
	}
	sess, cfg := g.sess, g.cfg
	ctx = d.withLogger(ctx)

	results := []<-chan async.Result{
		async.SafeGo(ctx, cfg.HTTPTimeout, JobToken, func(ctx context.Context) error {
			_, err := sess.Tokens().GetToken(ctx, false)
			return err
		}),
	}
	if cfg.Keepalive.ProbeCookie {
		results = append(results, async.SafeGo(ctx, cfg.HTTPTimeout, JobCookie, func(ctx context.Context) error {
			return probeCookie(ctx, sess)
		}))
	}

	var errs []error
	for _, ch := range results {
		r := <-ch
		d.metrics.RecordKeepaliveRun(r.Task, r.Err)
		entry := d.log.WithFields(logrus.Fields{"job": r.Task, "duration": r.Duration})
		switch {
		case errors.Is(r.Err, platform.ErrCookieExpired):
			entry.Warn("Cookie expired, run `qzcli login` to refresh it")
		case r.Err != nil:
			entry.WithError(r.Err).Warn("Keep-alive job failed")
		default:
			entry.Info("Keep-alive job succeeded")
		}
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Task, r.Err))
		}
	}
	return errors.Join(errs...)
}

func probeCookie(ctx context.Context, sess *session.Session) error {
	record, err := sess.Cookie(ctx)
	if err != nil {
		return err
	}
	ws, err := sess.Workspace(record, "")
	if err != nil {
		return err
	}
	return sess.Platform().ValidateCookie(ctx, record.Cookie, ws)
}

// Watch reloads the session when config.yaml (or the legacy config.json)
// is written in the config directory. It blocks until ctx is done.
func (d *Daemon) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory; editors replace the file on save
	if err := watcher.Add(d.opts.ConfigDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.opts.ConfigDir, err)
	}
	d.log.WithField("dir", d.opts.ConfigDir).Info("Watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigEvent(event) {
				continue
			}
			d.log.WithField("file", event.Name).Info("Config changed, reloading")
			if err := d.Reload(ctx); err != nil {
				d.log.WithError(err).Error("Reload failed, keeping previous session")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.WithError(err).Error("Watcher error")
		}
	}
}

func isConfigEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if name != config.FileName && name != config.LegacyFileName {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// Handler serves /metrics, /healthz and /readyz
func (d *Daemon) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", observability.MetricsHandler(d.registry)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", d.health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", d.health.Readiness).Methods(http.MethodGet)

	return httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(d.logger),
		httputil.LoggingMiddleware(d.logger),
		observability.HTTPMetricsMiddleware(d.metrics),
	)(r)
}

// Session returns the active session, nil before Start or after Stop
func (d *Daemon) Session() *session.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.gen == nil {
		return nil
	}
	return d.gen.sess
}

// Config returns the config the active session was built from
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.gen == nil {
		return nil
	}
	return d.gen.cfg
}

// Metrics returns the daemon's Prometheus collectors
func (d *Daemon) Metrics() *observability.Metrics { return d.metrics }

func (d *Daemon) withLogger(ctx context.Context) context.Context {
	return observability.WithLogger(ctx, d.logger)
}

func (d *Daemon) checkStore(ctx context.Context) error {
	g, release := d.acquire()
	defer release()
	if g == nil {
		return ErrNotStarted
	}
	return g.sess.Ping(ctx)
}

func (d *Daemon) checkToken(ctx context.Context) error {
	g, release := d.acquire()
	defer release()
	if g == nil {
		return ErrNotStarted
	}
	_, err := g.sess.CachedToken(ctx)
	if errors.Is(err, storage.ErrCacheMiss) {
		return fmt.Errorf("no valid token cached")
	}
	return err
}
