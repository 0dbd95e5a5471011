package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/qzcli/pkg/httputil"
)

const detailPath = "/openapi/v1/train_job/detail"

// fakePlatform serves /auth/token and one OpenAPI endpoint.
type fakePlatform struct {
	server *httptest.Server

	tokenCalls atomic.Int32
	apiCalls   atomic.Int32

	mu sync.Mutex
	// tokenBody, when set, replaces the default token response
	tokenBody string
	// tokenGate, when set, blocks token responses until closed
	tokenGate chan struct{}
	// expireCalls answers the first n API calls with code -1
	expireCalls int
	// apiBody, when set, replaces the default API response
	apiBody string

	authHeaders []string
	requestIDs  []string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	f := &fakePlatform{}

	r := mux.NewRouter()
	r.HandleFunc(TokenPath, f.handleToken).Methods(http.MethodPost)
	r.HandleFunc(detailPath, f.handleDetail).Methods(http.MethodPost)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePlatform) URL() string {
	return f.server.URL
}

func (f *fakePlatform) handleToken(w http.ResponseWriter, r *http.Request) {
	n := f.tokenCalls.Add(1)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &creds) {
		return
	}

	f.mu.Lock()
	gate, body := f.tokenGate, f.tokenBody
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
		return
	}
	if creds.Username != "alice" || creds.Password != "secret" {
		httputil.WriteEnvelope(w, 1001, "invalid username or password", nil)
		return
	}
	httputil.WriteEnvelope(w, 0, "", map[string]interface{}{
		"access_token": fmt.Sprintf("tok-%d", n),
		"expires_in":   3600,
	})
}

func (f *fakePlatform) handleDetail(w http.ResponseWriter, r *http.Request) {
	n := int(f.apiCalls.Add(1))

	f.mu.Lock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	f.requestIDs = append(f.requestIDs, r.Header.Get(httputil.RequestIDHeader))
	expire, body := f.expireCalls, f.apiBody
	f.mu.Unlock()

	if n <= expire {
		httputil.WriteEnvelope(w, CodeAuthExpired, "token expired", nil)
		return
	}
	if body != "" {
		fmt.Fprint(w, body)
		return
	}

	var req struct {
		JobID string `json:"job_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	httputil.WriteEnvelope(w, 0, "", map[string]string{
		"job_id": req.JobID,
		"token":  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	})
}

func (f *fakePlatform) set(fn func(f *fakePlatform)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePlatform) seenAuthHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authHeaders...)
}

func (f *fakePlatform) seenRequestIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requestIDs...)
}
