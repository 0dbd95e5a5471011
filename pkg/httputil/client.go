package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/qzcli/pkg/observability"
)

// MaxBodySize caps how much of any response body is read.
const MaxBodySize = 4 << 20

// ClientOption configures NewClient
type ClientOption func(*http.Client)

// WithJar sets the cookie jar
func WithJar(jar http.CookieJar) ClientOption {
	return func(c *http.Client) {
		c.Jar = jar
	}
}

// WithTransport replaces the base transport. It is still wrapped for tracing.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *http.Client) {
		c.Transport = rt
	}
}

// NewClient returns an http.Client with the given timeout whose transport
// emits an OpenTelemetry client span per request.
func NewClient(timeout time.Duration, opts ...ClientOption) *http.Client {
	client := &http.Client{Timeout: timeout}
	for _, opt := range opts {
		opt(client)
	}
	client.Transport = observability.InstrumentedTransport(client.Transport)
	return client
}

// ReadBody reads at most MaxBodySize bytes and closes the body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// NewJSONRequest builds a POST request with payload encoded as JSON.
func NewJSONRequest(ctx context.Context, url string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
