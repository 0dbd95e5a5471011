package sso

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/platinummonkey/qzcli/pkg/storage"
)

// targetJar is a cookie jar that also remembers which domain each cookie
// was issued for. Cookies scoped to a parent domain are visible to every
// subdomain through a plain jar, but only cookies issued for the target host
// itself belong in the saved record.
type targetJar struct {
	*cookiejar.Jar

	mu sync.Mutex
	// issued maps domain and name to the value the jar accepted
	issued map[string]string
}

func newTargetJar() (*targetJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &targetJar{Jar: jar, issued: make(map[string]string)}, nil
}

// SetCookies records a cookie only once the jar holds it, so a cookie the
// jar rejects never marks a same-named parent-domain cookie as the target's.
func (j *targetJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)

	host := hostOf(u)
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		domain := cookieDomain(u, c)
		if domain != host && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		key := issuedKey(domain, c.Name)
		if c.MaxAge >= 0 && j.holds(u, domain, c) {
			j.issued[key] = c.Value
		} else {
			delete(j.issued, key)
		}
	}
}

// holds reports whether the jar would send c back to domain
func (j *targetJar) holds(u *url.URL, domain string, c *http.Cookie) bool {
	path := c.Path
	if !strings.HasPrefix(path, "/") {
		path = u.Path
	}
	if path == "" {
		path = "/"
	}
	for _, held := range j.Jar.Cookies(&url.URL{Scheme: "https", Host: domain, Path: path}) {
		if held.Name == c.Name && held.Value == c.Value {
			return true
		}
	}
	return false
}

// targetCookies returns the cookies the jar would send to target, keeping
// only those issued for target's host.
func (j *targetJar) targetCookies(target *url.URL) []storage.CookiePair {
	host := hostOf(target)

	j.mu.Lock()
	defer j.mu.Unlock()

	var pairs []storage.CookiePair
	seen := make(map[string]bool)
	for _, c := range j.Jar.Cookies(target) {
		value, ok := j.issued[issuedKey(host, c.Name)]
		if !ok || value != c.Value || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		pairs = append(pairs, storage.CookiePair{Name: c.Name, Value: c.Value})
	}
	return pairs
}

func cookieDomain(u *url.URL, c *http.Cookie) string {
	if c.Domain != "" {
		return strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	}
	return hostOf(u)
}

func issuedKey(domain, name string) string {
	return domain + "\x00" + name
}
