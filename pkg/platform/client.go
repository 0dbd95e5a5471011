package platform

import (
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/qzcli/pkg/auth"
	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/observability"
)

// Client calls the platform: job operations through the bearer executor and
// workspace task listing through the cookie endpoint.
type Client struct {
	baseURL   string
	executor  *auth.Executor
	http      *http.Client
	userAgent string
	metrics   *observability.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for cookie-authenticated calls
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithUserAgent overrides the browser User-Agent of cookie calls
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMetrics records cookie-endpoint calls
func WithMetrics(m *observability.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// NewClient creates a platform client. executor may be nil when only the
// cookie endpoint is used.
func NewClient(baseURL string, executor *auth.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		executor:  executor,
		userAgent: httputil.DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httputil.NewClient(60 * time.Second)
	}
	return c
}

// BaseURL returns the platform root without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Executor returns the bearer executor, possibly nil
func (c *Client) Executor() *auth.Executor {
	return c.executor
}

func (c *Client) requireExecutor() (*auth.Executor, error) {
	if c.executor == nil {
		return nil, auth.ErrAuthConfigMissing
	}
	return c.executor, nil
}
