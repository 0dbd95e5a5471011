package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/qzcli/pkg/httputil"
	"github.com/platinummonkey/qzcli/pkg/observability"
)

// Executor sends bearer-authenticated JSON calls to the platform API. A call
// answered with CodeAuthExpired is retried exactly once with a fresh token.
type Executor struct {
	baseURL     string
	client      *http.Client
	tokens      *TokenExchanger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
}

// NewExecutor creates an executor. A nil client gets a 60s default.
func NewExecutor(baseURL string, client *http.Client, tokens *TokenExchanger, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) *Executor {
	if client == nil {
		client = httputil.NewClient(60 * time.Second)
	}
	return &Executor{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		tokens:      tokens,
		metrics:     metrics,
		otelMetrics: otelMetrics,
	}
}

// Tokens returns the exchanger backing this executor
func (x *Executor) Tokens() *TokenExchanger {
	return x.tokens
}

// Execute POSTs payload to endpoint and returns the decoded envelope when
// its code is 0. Non-zero codes come back as *APIError; a second
// auth-expired answer matches ErrAuthExpired.
func (x *Executor) Execute(ctx context.Context, endpoint string, payload interface{}) (*httputil.Envelope, error) {
	env, token, err := x.send(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	if env.Code == CodeAuthExpired {
		observability.FromContext(ctx).WithField("endpoint", endpoint).Info("Token expired, refreshing and retrying once")
		x.metrics.RecordAuthRetry()
		x.otelMetrics.RecordAuthRetry(ctx, endpoint)

		if err := x.tokens.Invalidate(ctx, token); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("Failed to invalidate expired token")
		}
		env, _, err = x.send(ctx, endpoint, payload)
		if err != nil {
			return nil, err
		}
	}

	if !env.OK() {
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}
	return env, nil
}

func (x *Executor) send(ctx context.Context, endpoint string, payload interface{}) (*httputil.Envelope, string, error) {
	token, err := x.tokens.GetToken(ctx, false)
	if err != nil {
		return nil, "", err
	}

	requestID := httputil.NewRequestID()
	ctx = observability.WithRequestID(ctx, requestID)
	logger := observability.FromContext(ctx).WithField("endpoint", endpoint)

	url := x.baseURL + endpoint
	req, err := httputil.NewJSONRequest(ctx, url, payload)
	if err != nil {
		return nil, token, err
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set(httputil.RequestIDHeader, requestID)

	start := time.Now()
	env, err := x.roundTrip(req, url)
	x.metrics.RecordAPIRequest(endpoint, requestStatus(env, err), time.Since(start))
	if err != nil {
		logger.WithError(err).Debug("API request failed")
		return nil, token, err
	}

	logger.WithField("code", env.Code).Debug("API request completed")
	return env, token, nil
}

func (x *Executor) roundTrip(req *http.Request, url string) (*httputil.Envelope, error) {
	resp, err := x.client.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: "POST", URL: url, Err: err}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, &ConnectivityError{Op: "POST", URL: url, Err: err}
	}
	env, err := httputil.DecodeEnvelope(body)
	if err != nil {
		return nil, &ConnectivityError{Op: "decode response", URL: url, Err: err}
	}
	return env, nil
}

func requestStatus(env *httputil.Envelope, err error) string {
	var connErr *ConnectivityError
	switch {
	case errors.As(err, &connErr):
		return "connectivity_error"
	case err != nil:
		return "error"
	case env.Code == CodeAuthExpired:
		return "auth_expired"
	case !env.OK():
		return "rejected"
	default:
		return "ok"
	}
}
