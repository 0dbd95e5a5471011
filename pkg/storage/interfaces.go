package storage

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned by GetToken when no token is stored or the
	// stored one is inside the grace period.
	ErrCacheMiss = errors.New("storage: token cache miss")
	// ErrNotFound is returned by GetCookie when no cookie is stored.
	ErrNotFound = errors.New("storage: cookie not set")
)

// GracePeriod is subtracted from a token's expiry before it is served.
const GracePeriod = 300 * time.Second

// DefaultTokenTTL applies when the token endpoint omits expires_in.
const DefaultTokenTTL = 604800 * time.Second

// Store persists one bearer token and one cookie record. The two records are
// independent: clearing one never touches the other. Saves replace the
// previous record atomically.
type Store interface {
	GetToken(ctx context.Context) (*Token, error)
	SaveToken(ctx context.Context, value string, ttl time.Duration) error
	ClearToken(ctx context.Context) error

	GetCookie(ctx context.Context) (*CookieRecord, error)
	SaveCookie(ctx context.Context, cookie, workspaceID string) error
	ClearCookie(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// Token is the persisted bearer token record.
type Token struct {
	Value     string  `json:"token"`
	ExpiresAt float64 `json:"expires_at"`
}

// NewToken stamps a token that expires ttl after now.
func NewToken(value string, ttl time.Duration, now time.Time) *Token {
	return &Token{
		Value:     value,
		ExpiresAt: Timestamp(now) + ttl.Seconds(),
	}
}

// Expiry returns the absolute expiry time.
func (t *Token) Expiry() time.Time {
	sec, frac := math.Modf(t.ExpiresAt)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// ValidAt reports expires_at > now + GracePeriod.
func (t *Token) ValidAt(now time.Time) bool {
	return t != nil && t.Value != "" && t.ExpiresAt > Timestamp(now)+GracePeriod.Seconds()
}

// CookieRecord is the persisted cookie header plus the default workspace.
type CookieRecord struct {
	Cookie      string  `json:"cookie"`
	WorkspaceID string  `json:"workspace_id"`
	SavedAt     float64 `json:"saved_at"`
}

// CookiePair is one name=value entry of a cookie header.
type CookiePair struct {
	Name  string
	Value string
}

// SessionCookieName must be present for a cookie record to be usable.
const SessionCookieName = "session"

// NewCookieRecord stamps a cookie record saved at now.
func NewCookieRecord(cookie, workspaceID string, now time.Time) *CookieRecord {
	return &CookieRecord{
		Cookie:      cookie,
		WorkspaceID: workspaceID,
		SavedAt:     Timestamp(now),
	}
}

// Pairs parses the header into ordered pairs. Later duplicates replace the
// value of the first occurrence but keep its position.
func (c *CookieRecord) Pairs() []CookiePair {
	return ParseCookieHeader(c.Cookie)
}

// Get returns the value of the named cookie.
func (c *CookieRecord) Get(name string) (string, bool) {
	for _, p := range c.Pairs() {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// HasSession reports whether the record carries a session cookie.
func (c *CookieRecord) HasSession() bool {
	v, ok := c.Get(SessionCookieName)
	return ok && v != ""
}

// SavedTime returns SavedAt as a time.Time.
func (c *CookieRecord) SavedTime() time.Time {
	sec, frac := math.Modf(c.SavedAt)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// ParseCookieHeader splits "k1=v1; k2=v2" into ordered pairs.
func ParseCookieHeader(header string) []CookiePair {
	var pairs []CookiePair
	index := make(map[string]int)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if i, ok := index[name]; ok {
			pairs[i].Value = value
			continue
		}
		index[name] = len(pairs)
		pairs = append(pairs, CookiePair{Name: name, Value: value})
	}
	return pairs
}

// FormatCookieHeader joins pairs as "k1=v1; k2=v2".
func FormatCookieHeader(pairs []CookiePair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Name+"="+p.Value)
	}
	return strings.Join(parts, "; ")
}

// Options are shared by every backend.
type Options struct {
	Now func() time.Time
}

// Option configures a backend.
type Option func(*Options)

// WithClock overrides the time source used for expiry checks and stamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// ApplyOptions resolves options with defaults. Backends outside this
// package call it from their constructors.
func ApplyOptions(opts []Option) Options {
	o := Options{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Config selects and configures a backend.
type Config struct {
	Type string // "file", "memory", "redis", "sqlite"

	// File backend
	Dir string

	// Redis backend
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string

	// SQLite backend
	SQLitePath string
}

// DefaultConfig returns the file backend rooted at ~/.qzcli.
func DefaultConfig() Config {
	return Config{
		Type:           "file",
		Dir:            DefaultDir(),
		RedisDB:        -1,
		RedisKeyPrefix: "qzcli:",
	}
}

// Timestamp converts t to fractional seconds since the epoch, the unit every
// record uses on disk.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
