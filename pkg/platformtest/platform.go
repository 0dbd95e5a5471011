// Package platformtest is an in-process fake of the QZ platform and its
// single sign-on chain. Three virtual hosts (target, broker and CAS identity
// provider) are served by gorilla/mux routers behind one http.RoundTripper,
// so real redirects and cookie scoping happen without opening sockets.
//
//	p := platformtest.New(t)
//	client := &http.Client{Transport: p.Transport()}
//	resp, err := client.Get(p.TargetURL())
package platformtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/qzcli/pkg/legacyrsa"
)

const (
	TargetHost   = "qz.example.edu"
	BrokerHost   = "broker.example.edu"
	ProviderHost = "cas.example.edu"

	Username = "alice"
	Password = "secret"

	LT        = "LT-42-fake"
	Execution = "e1s1"

	// SharedCookie is set by the broker for the whole parent domain
	SharedCookie = "sso_shared"
)

// ErrHostDown is returned by the transport while the platform is down
var ErrHostDown = errors.New("platformtest: connection refused")

// Platform is the fake. Counters are safe to read at any time; knobs are
// set through methods.
type Platform struct {
	Key     *legacyrsa.PublicKey
	private *legacyrsa.PrivateKey

	TokenCalls   atomic.Int32
	APICalls     atomic.Int32
	TaskCalls    atomic.Int32
	LoginPosts   atomic.Int32
	TargetVisits atomic.Int32

	hosts map[string]http.Handler

	mu sync.Mutex
	// login chain
	rejection    string
	omitHidden   bool
	brokerBody   string
	brokerStops  bool
	sessionDelay int
	forms        []url.Values
	decrypted    []string
	tickets      map[string]string
	pending      map[string]int
	sessions     map[string]bool
	seq          int
	// API
	tokens      map[string]bool
	expireCalls int
	jobs        map[string]map[string]interface{}
	stopped     []string
	created     []json.RawMessage
	tasks       map[string][]map[string]interface{}
	taskStatus  int
	taskBody    string
	taskHeaders []http.Header
	down        bool
}

// New builds a platform with a fresh 1024-bit key. Login accepts
// Username/Password.
func New(t testing.TB) *Platform {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("platformtest: generate key: %v", err)
	}
	pub, err := legacyrsa.NewPublicKey(rsaKey.N, big.NewInt(int64(rsaKey.E)))
	if err != nil {
		t.Fatalf("platformtest: public key: %v", err)
	}
	priv, err := legacyrsa.NewPrivateKey(pub, rsaKey.D)
	if err != nil {
		t.Fatalf("platformtest: private key: %v", err)
	}

	p := &Platform{
		Key:      pub,
		private:  priv,
		tickets:  make(map[string]string),
		pending:  make(map[string]int),
		sessions: make(map[string]bool),
		tokens:   make(map[string]bool),
		jobs:     make(map[string]map[string]interface{}),
		tasks:    make(map[string][]map[string]interface{}),
	}
	p.hosts = map[string]http.Handler{
		TargetHost:   p.targetRouter(),
		BrokerHost:   p.brokerRouter(),
		ProviderHost: p.providerRouter(),
	}
	return p
}

// TargetURL is the platform root
func (p *Platform) TargetURL() string {
	return "https://" + TargetHost
}

// Transport routes requests to the virtual hosts
func (p *Platform) Transport() http.RoundTripper {
	return roundTripperFunc(p.roundTrip)
}

// Client returns a client that does not follow redirects or keep cookies
func (p *Platform) Client() *http.Client {
	return &http.Client{Transport: p.Transport()}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func (p *Platform) roundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	down := p.down
	p.mu.Unlock()
	if down {
		return nil, ErrHostDown
	}

	handler, ok := p.hosts[req.URL.Hostname()]
	if !ok {
		return nil, fmt.Errorf("platformtest: no such host %q", req.URL.Host)
	}

	sreq := req.Clone(req.Context())
	sreq.Host = req.URL.Host
	sreq.RequestURI = req.URL.RequestURI()
	sreq.RemoteAddr = "192.0.2.1:40000"
	if sreq.Body == nil {
		sreq.Body = http.NoBody
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, sreq)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func (p *Platform) next(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%d", prefix, p.seq)
}

// SetDown makes every request fail at the transport
func (p *Platform) SetDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func newRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
	})
	return r
}
