package httputil

import (
	"net/http"
	"net/url"
)

// DefaultUserAgent is sent on every browser-style request. The SSO servers
// and the cookie endpoint serve different pages to non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BrowserHeaders returns the header bundle a browser sends with an XHR from
// a page at referer on origin.
func BrowserHeaders(userAgent, origin, referer string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Content-Type", "application/json")
	if origin != "" {
		h.Set("Origin", origin)
	}
	if referer != "" {
		h.Set("Referer", referer)
	}
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	return h
}

// NavigationHeaders returns the headers of a top-level page load
func NavigationHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	return h
}

// ApplyHeaders copies h onto req, replacing existing values
func ApplyHeaders(req *http.Request, h http.Header) {
	for k, v := range h {
		req.Header[k] = append([]string(nil), v...)
	}
}

// Origin returns scheme://host of raw, or "" if raw does not parse
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
