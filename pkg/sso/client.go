package sso

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/qzcli/pkg/auth"
	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/legacyrsa"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

const (
	DefaultBrokerHost   = "sso.sii.edu.cn"
	DefaultProviderHost = "cas.sii.edu.cn"
	DefaultSubmitLabel  = "登录"
	DefaultTimeout      = 30 * time.Second

	// maxHops bounds a flow; the longest legal path is five requests.
	maxHops = 8
)

var tracer = observability.Tracer("qzcli/sso")

// Config configures a Client. Only TargetURL is required.
type Config struct {
	// TargetURL is the platform root whose session cookie is wanted
	TargetURL    string
	BrokerHost   string
	ProviderHost string
	UserAgent    string
	SubmitLabel  string
	Timeout      time.Duration
	// Key encrypts the password; defaults to legacyrsa.DefaultKey()
	Key         *legacyrsa.PublicKey
	Scraper     PageScraper
	Classifiers []Classifier
	// Transport replaces http.DefaultTransport as the base round tripper
	Transport   http.RoundTripper
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
}

// Client drives the broker + CAS login and returns the target's cookies.
// Each Login runs in a fresh cookie jar.
type Client struct {
	cfg    Config
	target *url.URL
}

// NewClient validates cfg and fills defaults
func NewClient(cfg Config) (*Client, error) {
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("target URL is required")
	}
	target, err := url.Parse(cfg.TargetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q", cfg.TargetURL)
	}
	if target.Path == "" {
		target.Path = "/"
	}

	if cfg.BrokerHost == "" {
		cfg.BrokerHost = DefaultBrokerHost
	}
	if cfg.ProviderHost == "" {
		cfg.ProviderHost = DefaultProviderHost
	}
	cfg.BrokerHost = strings.ToLower(cfg.BrokerHost)
	cfg.ProviderHost = strings.ToLower(cfg.ProviderHost)
	if cfg.UserAgent == "" {
		cfg.UserAgent = httputil.DefaultUserAgent
	}
	if cfg.SubmitLabel == "" {
		cfg.SubmitLabel = DefaultSubmitLabel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Key == nil {
		cfg.Key = legacyrsa.DefaultKey()
	}
	if cfg.Scraper == nil {
		cfg.Scraper = NewRegexScraper()
	}
	if cfg.Classifiers == nil {
		cfg.Classifiers = DefaultClassifiers
	}

	return &Client{cfg: cfg, target: target}, nil
}

// Target returns the URL whose cookies Login collects
func (c *Client) Target() *url.URL {
	u := *c.target
	return &u
}

// Login signs in and returns a Cookie header holding the target-domain
// cookies, session included. Failures of the flow are *LoginError; transport
// failures are *auth.ConnectivityError.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", auth.ErrAuthConfigMissing
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "sso.login", trace.WithAttributes(
		attribute.String("sso.target", c.target.Host),
	))
	defer span.End()
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"username": username,
		"target":   c.target.Host,
	})

	jar, err := newTargetJar()
	if err != nil {
		return "", fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := httputil.NewClient(c.cfg.Timeout, httputil.WithJar(jar), httputil.WithTransport(c.cfg.Transport))

	f := &flow{
		target:       c.target,
		brokerHost:   c.cfg.BrokerHost,
		providerHost: c.cfg.ProviderHost,
		username:     username,
		cipher:       legacyrsa.Encrypt(password, c.cfg.Key),
		submitLabel:  c.cfg.SubmitLabel,
		scraper:      c.cfg.Scraper,
		classifiers:  c.cfg.Classifiers,
	}

	state, hop := f.begin()
	for hops := 0; hop != nil; hops++ {
		if hops == maxHops {
			state, hop = fail(KindUnknownLoginRejection, nil, "too many redirects between hosts")
			break
		}
		page, err := c.do(ctx, client, jar, state, hop)
		if err != nil {
			c.finish(ctx, span, "connectivity_error", start, err)
			return "", err
		}
		next, nextHop := f.advance(state, page)
		logger.WithFields(map[string]interface{}{
			"from":   state.Name(),
			"to":     next.Name(),
			"status": page.Status,
			"host":   page.URL.Host,
		}).Debug("SSO hop completed")
		state, hop = next, nextHop
	}

	switch s := state.(type) {
	case Success:
		c.finish(ctx, span, "success", start, nil)
		logger.WithField("cookies", len(s.Cookies)).Info("SSO login succeeded")
		return storage.FormatCookieHeader(s.Cookies), nil
	case Failed:
		c.finish(ctx, span, s.Err.Kind.String(), start, s.Err)
		logger.WithError(s.Err).Warn("SSO login failed")
		return "", s.Err
	default:
		err := fmt.Errorf("sso flow stopped in state %s", state.Name())
		c.finish(ctx, span, "error", start, err)
		return "", err
	}
}

func (c *Client) finish(ctx context.Context, span trace.Span, result string, start time.Time, err error) {
	c.cfg.Metrics.RecordSSOLogin(result)
	c.cfg.OTelMetrics.RecordLogin(ctx, result, time.Since(start))
	span.SetAttributes(attribute.String("sso.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
}

// do sends one hop, following redirects, and observes where it landed
func (c *Client) do(ctx context.Context, client *http.Client, jar *targetJar, from State, hop *Hop) (*Page, error) {
	ctx, span := tracer.Start(ctx, "sso.hop", trace.WithAttributes(
		attribute.String("sso.state", from.Name()),
		attribute.String("http.request.method", hop.Method),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		c.cfg.Metrics.RecordSSOHop(from.Name(), time.Since(start))
	}()

	var body io.Reader
	if hop.Form != nil {
		body = strings.NewReader(hop.Form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, hop.Method, hop.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", hop.Method, err)
	}
	httputil.ApplyHeaders(req, httputil.NavigationHeaders(c.cfg.UserAgent))
	httputil.ApplyHeaders(req, hop.Header)

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, &auth.ConnectivityError{Op: hop.Method, URL: hop.URL, Err: err}
	}
	data, err := httputil.ReadBody(resp)
	if err != nil {
		span.RecordError(err)
		return nil, &auth.ConnectivityError{Op: hop.Method, URL: hop.URL, Err: err}
	}

	final := resp.Request.URL
	span.SetAttributes(
		attribute.String("sso.final_host", final.Host),
		attribute.Int("http.response.status_code", resp.StatusCode),
	)
	return &Page{
		URL:           final,
		Status:        resp.StatusCode,
		Body:          string(data),
		TargetCookies: jar.targetCookies(c.target),
	}, nil
}
