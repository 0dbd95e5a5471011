package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

// TokenPath is the token endpoint relative to the API base URL
const TokenPath = "/auth/token"

// Credentials are the platform username and plaintext password
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether either field is missing
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// ExchangerConfig configures a TokenExchanger
type ExchangerConfig struct {
	BaseURL     string
	Credentials Credentials
	Client      *http.Client
	Store       storage.Store
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Now         func() time.Time
}

// TokenExchanger trades username/password for a bearer token and caches the
// result in memory and in the store. Concurrent fetches share one request.
type TokenExchanger struct {
	baseURL     string
	creds       Credentials
	client      *http.Client
	store       storage.Store
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	now         func() time.Time

	mu      sync.Mutex
	current *storage.Token

	group singleflight.Group
}

// NewTokenExchanger validates cfg and returns an exchanger
func NewTokenExchanger(cfg ExchangerConfig) (*TokenExchanger, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Client == nil {
		cfg.Client = httputil.NewClient(30 * time.Second)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenExchanger{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		creds:       cfg.Credentials,
		client:      cfg.Client,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		otelMetrics: cfg.OTelMetrics,
		now:         cfg.Now,
	}, nil
}

// GetToken returns a bearer token. Unless forceRefresh is set it prefers the
// in-memory copy, then the store, and only then the network.
func (e *TokenExchanger) GetToken(ctx context.Context, forceRefresh bool) (string, error) {
	token, err := e.Token(ctx, forceRefresh)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// Token is GetToken returning the full record with its expiry
func (e *TokenExchanger) Token(ctx context.Context, forceRefresh bool) (*storage.Token, error) {
	ctx = observability.WithUsername(ctx, e.creds.Username)
	logger := observability.FromContext(ctx)

	if !forceRefresh {
		if token := e.memory(); token != nil {
			e.metrics.RecordTokenLookup("memory")
			return token, nil
		}

		token, err := e.store.GetToken(ctx)
		switch {
		case err == nil:
			e.setMemory(token)
			e.metrics.RecordTokenLookup("store")
			return token, nil
		case !errors.Is(err, storage.ErrCacheMiss):
			logger.WithError(err).Warn("Token store read failed, fetching a new token")
		}
	}

	// The shared fetch must not die with whichever caller started it.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := e.group.Do("token", func() (interface{}, error) {
		return e.fetch(fetchCtx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("Joined in-flight token fetch")
	}
	e.metrics.RecordTokenLookup("network")
	return v.(*storage.Token), nil
}

// Invalidate drops stale from memory and the store. If a newer token has
// already replaced it, nothing is cleared.
func (e *TokenExchanger) Invalidate(ctx context.Context, stale string) error {
	e.mu.Lock()
	if e.current != nil && e.current.Value != stale {
		e.mu.Unlock()
		return nil
	}
	e.current = nil
	e.mu.Unlock()

	stored, err := e.store.GetToken(ctx)
	if err == nil && stored.Value != stale {
		return nil
	}
	if err := e.store.ClearToken(ctx); err != nil {
		return fmt.Errorf("failed to clear cached token: %w", err)
	}
	return nil
}

// TokenSource adapts the exchanger to oauth2.TokenSource. Each Token call
// goes through the same memory, store and network order as GetToken.
func (e *TokenExchanger) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, exchanger: e}
}

type tokenSource struct {
	ctx       context.Context
	exchanger *TokenExchanger
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.exchanger.Token(s.ctx, false)
	if err != nil {
		return nil, err
	}
	return OAuth2Token(token), nil
}

// OAuth2Token converts a stored record into a Bearer oauth2.Token
func OAuth2Token(token *storage.Token) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: token.Value,
		TokenType:   "Bearer",
		Expiry:      token.Expiry(),
	}
}

func (e *TokenExchanger) memory() *storage.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.ValidAt(e.now()) {
		return e.current
	}
	return nil
}

func (e *TokenExchanger) setMemory(token *storage.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = token
}

func (e *TokenExchanger) fetch(ctx context.Context) (*storage.Token, error) {
	value, ttl, err := e.exchange(ctx)
	e.metrics.RecordTokenExchange(err)
	e.otelMetrics.RecordTokenRefresh(ctx, err)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveToken(ctx, value, ttl); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to persist token, keeping it in memory only")
	}
	token := storage.NewToken(value, ttl, e.now())
	e.setMemory(token)
	return token, nil
}

func (e *TokenExchanger) exchange(ctx context.Context) (string, time.Duration, error) {
	if e.creds.Empty() {
		return "", 0, ErrAuthConfigMissing
	}

	url := e.baseURL + TokenPath
	req, err := httputil.NewJSONRequest(ctx, url, map[string]string{
		"username": e.creds.Username,
		"password": e.creds.Password,
	})
	if err != nil {
		return "", 0, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", 0, &ConnectivityError{Op: "token exchange", URL: url, Err: err}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return "", 0, &ConnectivityError{Op: "token exchange", URL: url, Err: err}
	}

	env, err := httputil.DecodeEnvelope(body)
	if err != nil {
		return "", 0, &ConnectivityError{Op: "token exchange", URL: url, Err: err}
	}
	if !env.OK() {
		return "", 0, &APIError{Code: env.Code, Message: env.Message}
	}

	// The token is either under data or flattened into the top level.
	var payload tokenPayload
	source := env.Raw
	if env.HasData() {
		source = env.Data
	}
	if err := json.Unmarshal(source, &payload); err != nil {
		return "", 0, &ConnectivityError{Op: "token exchange", URL: url, Err: fmt.Errorf("invalid token payload: %w", err)}
	}
	if payload.AccessToken == "" {
		return "", 0, ErrMissingAccessToken
	}

	ttl := storage.DefaultTokenTTL
	if payload.ExpiresIn != nil {
		ttl = time.Duration(float64(*payload.ExpiresIn) * float64(time.Second))
	}
	return payload.AccessToken, ttl, nil
}

type tokenPayload struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   *seconds `json:"expires_in"`
}

// seconds accepts 3600, 3600.5 or "3600"
type seconds float64

func (s *seconds) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid expires_in %s", string(data))
	}
	*s = seconds(v)
	return nil
}
