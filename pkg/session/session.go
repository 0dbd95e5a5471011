package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/qzcli/pkg/auth"
	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/legacyrsa"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/platform"
	"github.com/platinummonkey/qzcli/pkg/sso"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

// ErrNoCookie is returned when a cookie-only command runs before login
var ErrNoCookie = errors.New("no cookie saved, run `qzcli login` or `qzcli cookie <value>`")

// ErrNoWorkspace is returned when neither a flag nor the saved cookie names a workspace
var ErrNoWorkspace = errors.New("workspace is required, pass --workspace or save one with the cookie")

// Options replaces the pieces a Session would otherwise build from config
type Options struct {
	// Transport is the base round tripper under the otelhttp wrapper
	Transport http.RoundTripper
	// Store overrides the backend selected by the config
	Store storage.Store
	// SSOKey replaces the built-in CAS password key
	SSOKey      *legacyrsa.PublicKey
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Now         func() time.Time
}

// Session owns the HTTP client, the credential store and every client built
// on top of them for one configuration.
type Session struct {
	cfg        *config.Config
	store      storage.Store
	tokenStore storage.Store
	now        func() time.Time

	tokens   *auth.TokenExchanger
	executor *auth.Executor
	platform *platform.Client
	sso      *sso.Client
}

// Open wires a Session from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = OpenStore(ctx, cfg.StorageConfig(), opts.Metrics, storage.WithClock(opts.Now))
		if err != nil {
			return nil, err
		}
	}

	// with the token cache off, tokens live only as long as the process
	tokenStore := store
	if !cfg.TokenCacheEnabled {
		tokenStore = storage.NewMemoryStorage(storage.WithClock(opts.Now))
	}

	// NewClient adds the otelhttp layer; both clients get the bare transport
	httpClient := httputil.NewClient(cfg.HTTPTimeout, httputil.WithTransport(opts.Transport))

	tokens, err := auth.NewTokenExchanger(auth.ExchangerConfig{
		BaseURL:     cfg.APIBaseURL,
		Credentials: auth.Credentials{Username: cfg.Username, Password: cfg.Password},
		Client:      httpClient,
		Store:       tokenStore,
		Metrics:     opts.Metrics,
		OTelMetrics: opts.OTelMetrics,
		Now:         opts.Now,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	executor := auth.NewExecutor(cfg.APIBaseURL, httpClient, tokens, opts.Metrics, opts.OTelMetrics)

	platformOpts := []platform.Option{
		platform.WithHTTPClient(httpClient),
		platform.WithMetrics(opts.Metrics),
	}
	if cfg.SSO.UserAgent != "" {
		platformOpts = append(platformOpts, platform.WithUserAgent(cfg.SSO.UserAgent))
	}

	ssoClient, err := sso.NewClient(sso.Config{
		TargetURL:    cfg.APIBaseURL,
		BrokerHost:   cfg.SSO.BrokerHost,
		ProviderHost: cfg.SSO.ProviderHost,
		UserAgent:    cfg.SSO.UserAgent,
		SubmitLabel:  cfg.SSO.SubmitLabel,
		Timeout:      cfg.SSO.Timeout,
		Key:          opts.SSOKey,
		Transport:    opts.Transport,
		Metrics:      opts.Metrics,
		OTelMetrics:  opts.OTelMetrics,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Session{
		cfg:        cfg,
		store:      store,
		tokenStore: tokenStore,
		now:        opts.Now,
		tokens:     tokens,
		executor:   executor,
		platform:   platform.NewClient(cfg.APIBaseURL, executor, platformOpts...),
		sso:        ssoClient,
	}, nil
}

// Accessors for the wired clients.
func (s *Session) Config() *config.Config { return s.cfg }
func (s *Session) Store() storage.Store { return s.store }
func (s *Session) Tokens() *auth.TokenExchanger { return s.tokens }
func (s *Session) Executor() *auth.Executor { return s.executor }
func (s *Session) Platform() *platform.Client { return s.platform }
func (s *Session) SSO() *sso.Client { return s.sso }
func (s *Session) TokenCacheEnabled() bool { return s.tokenStore == s.store }

// Login runs the CAS login and saves the resulting cookie with workspaceID.
// Empty username or password fall back to the configured ones.
func (s *Session) Login(ctx context.Context, username, password, workspaceID string) (*storage.CookieRecord, error) {
	if username == "" {
		username = s.cfg.Username
	}
	if password == "" {
		password = s.cfg.Password
	}

	cookie, err := s.sso.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveCookie(ctx, cookie, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to save cookie: %w", err)
	}
	observability.FromContext(ctx).WithField("workspace_id", workspaceID).Info("Saved login cookie")
	return storage.NewCookieRecord(cookie, workspaceID, s.now()), nil
}

// SaveCookie stores a cookie obtained elsewhere. With validate set and a
// workspace given, the cookie must list that workspace's tasks first.
func (s *Session) SaveCookie(ctx context.Context, cookie, workspaceID string, validate bool) error {
	if cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	if validate && workspaceID != "" {
		if err := s.platform.ValidateCookie(ctx, cookie, workspaceID); err != nil {
			return fmt.Errorf("cookie validation failed: %w", err)
		}
	}
	if err := s.store.SaveCookie(ctx, cookie, workspaceID); err != nil {
		return fmt.Errorf("failed to save cookie: %w", err)
	}
	return nil
}

// Cookie returns the saved cookie record or ErrNoCookie
func (s *Session) Cookie(ctx context.Context) (*storage.CookieRecord, error) {
	record, err := s.store.GetCookie(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoCookie
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Workspace returns explicit, or the workspace saved with the cookie
func (s *Session) Workspace(record *storage.CookieRecord, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if record != nil && record.WorkspaceID != "" {
		return record.WorkspaceID, nil
	}
	return "", ErrNoWorkspace
}

// CachedToken returns the stored bearer token without touching the network.
// A missing or nearly expired token is storage.ErrCacheMiss.
func (s *Session) CachedToken(ctx context.Context) (*storage.Token, error) {
	return s.tokenStore.GetToken(ctx)
}

// Logout clears the cached token and the saved cookie
func (s *Session) Logout(ctx context.Context) error {
	var errs []error
	if err := s.tokenStore.ClearToken(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear token: %w", err))
	}
	if err := s.store.ClearCookie(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear cookie: %w", err))
	}
	return errors.Join(errs...)
}

// Ping checks the store is reachable
func (s *Session) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases the store
func (s *Session) Close() error {
	if s.tokenStore != s.store {
		s.tokenStore.Close()
	}
	return s.store.Close()
}
