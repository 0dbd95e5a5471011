package sso

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/qzcli/pkg/storage"
)

// State is one step of the login flow. A state is entered with the page
// that reached it, does that page's work and names the request sent next.
// The concrete types form a closed set.
type State interface {
	// Name is the label used for spans, logs and hop metrics
	Name() string
	state()
}

// Start is the state before the first request to the target
type Start struct{}

// AtBroker means the target redirected to the broker. EntryURL, scraped
// from the broker page, is requested next.
type AtBroker struct {
	EntryURL string
}

// AtIdentityProvider means the provider's login page was reached. The form
// is posted to LoginURL next.
type AtIdentityProvider struct {
	LoginURL  string
	LT        string
	Execution string
}

// Submitted means the posted form was not rejected. The target is requested
// to confirm that it issued a session.
type Submitted struct {
	// Rechecked is set when the pending GET is the last one allowed
	Rechecked bool
}

// Success holds the target-domain cookies once a session cookie exists
type Success struct {
	Cookies []storage.CookiePair
}

// Failed is terminal
type Failed struct {
	Err *LoginError
}

func (Start) Name() string              { return "start" }
func (AtBroker) Name() string           { return "at_broker" }
func (AtIdentityProvider) Name() string { return "at_identity_provider" }
func (Submitted) Name() string          { return "submitted" }
func (Success) Name() string            { return "success" }
func (Failed) Name() string             { return "failed" }

func (Start) state()              {}
func (AtBroker) state()           {}
func (AtIdentityProvider) state() {}
func (Submitted) state()          {}
func (Success) state()            {}
func (Failed) state()             {}

// Terminal reports whether no further request follows s
func Terminal(s State) bool {
	switch s.(type) {
	case Success, Failed:
		return true
	}
	return false
}

// Page is what the flow observes after a hop: the final URL after redirects,
// the status, the body and the cookies the jar holds for the target domain.
type Page struct {
	URL           *url.URL
	Status        int
	Body          string
	TargetCookies []storage.CookiePair
}

// Hop is the next request to send
type Hop struct {
	Method string
	URL    string
	Form   url.Values
	Header http.Header
}

// flow carries the fixed inputs of one login. advance is a pure function of
// these inputs, the current state and the observed page.
type flow struct {
	target       *url.URL
	brokerHost   string
	providerHost string
	username     string
	cipher       string
	submitLabel  string
	scraper      PageScraper
	classifiers  []Classifier
}

func (f *flow) begin() (State, *Hop) {
	return Start{}, f.targetHop()
}

func (f *flow) targetHop() *Hop {
	return &Hop{Method: http.MethodGet, URL: f.target.String()}
}

func (f *flow) advance(s State, p *Page) (State, *Hop) {
	switch s := s.(type) {
	case Start:
		return f.landed(p)
	case AtBroker:
		return f.atIdentityProvider(p)
	case AtIdentityProvider:
		return f.submitted(p)
	case Submitted:
		return f.recheck(s, p)
	default:
		return s, nil
	}
}

// landed handles the first response from the target
func (f *flow) landed(p *Page) (State, *Hop) {
	host := hostOf(p.URL)
	switch {
	case host == hostOf(f.target) && hasSession(p.TargetCookies):
		return Success{Cookies: p.TargetCookies}, nil
	case host == f.brokerHost:
		return f.atBroker(p)
	default:
		return fail(KindUnexpectedLandingHost, p.URL, "host "+host)
	}
}

func (f *flow) atBroker(p *Page) (State, *Hop) {
	raw, ok := f.scraper.BrokerEntry(p.Body)
	if !ok {
		return fail(KindBrokerEntryNotFound, p.URL, "")
	}
	entry, err := resolveAgainstHost(p.URL, raw)
	if err != nil {
		return fail(KindBrokerEntryNotFound, p.URL, err.Error())
	}
	return AtBroker{EntryURL: entry}, &Hop{Method: http.MethodGet, URL: entry}
}

func (f *flow) atIdentityProvider(p *Page) (State, *Hop) {
	if hostOf(p.URL) != f.providerHost {
		return fail(KindSSOPageNotReached, p.URL, "")
	}
	loginURL := p.URL.String()
	lt, execution := f.scraper.HiddenFields(p.Body)

	form := url.Values{}
	form.Set("username", f.username)
	form.Set("password", f.cipher)
	form.Set("_eventId", "submit")
	form.Set("submit", f.submitLabel)
	form.Set("loginType", "1")
	form.Set("encrypted", "true")
	if lt != "" {
		form.Set("lt", lt)
	}
	if execution != "" {
		form.Set("execution", execution)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Origin", p.URL.Scheme+"://"+p.URL.Host)
	header.Set("Referer", loginURL)

	next := AtIdentityProvider{LoginURL: loginURL, LT: lt, Execution: execution}
	return next, &Hop{Method: http.MethodPost, URL: loginURL, Form: form, Header: header}
}

// submitted inspects the page the form post ended on
func (f *flow) submitted(p *Page) (State, *Hop) {
	host := hostOf(p.URL)
	if host == f.providerHost && strings.Contains(strings.ToLower(p.URL.String()), "login") {
		return fail(Classify(p.Body, f.classifiers), p.URL, "")
	}
	if host != hostOf(f.target) {
		return Submitted{}, f.targetHop()
	}
	if hasSession(p.TargetCookies) {
		return Success{Cookies: p.TargetCookies}, nil
	}
	return Submitted{Rechecked: true}, f.targetHop()
}

func (f *flow) recheck(s Submitted, p *Page) (State, *Hop) {
	if hasSession(p.TargetCookies) {
		return Success{Cookies: p.TargetCookies}, nil
	}
	if !s.Rechecked {
		return Submitted{Rechecked: true}, f.targetHop()
	}
	return fail(KindSessionNotEstablished, p.URL, "")
}

func fail(kind FailureKind, u *url.URL, detail string) (State, *Hop) {
	err := &LoginError{Kind: kind, Detail: detail}
	if u != nil {
		err.URL = u.String()
	}
	return Failed{Err: err}, nil
}

func hasSession(cookies []storage.CookiePair) bool {
	for _, c := range cookies {
		if c.Name == storage.SessionCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// resolveAgainstHost resolves ref against the scheme and host of base only
func resolveAgainstHost(base *url.URL, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	return root.ResolveReference(r).String(), nil
}
