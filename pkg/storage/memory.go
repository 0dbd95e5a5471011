package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	memoryTokenKey  = "token"
	memoryCookieKey = "cookie"
)

// MemoryStorage keeps records in process memory. It backs tests and the
// keep-alive daemon's --store=memory mode; nothing survives a restart.
type MemoryStorage struct {
	opts  Options
	cache *lru.LRU[string, []byte]
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	return &MemoryStorage{
		opts: ApplyOptions(opts),
		// Expiry is decided by the stored expires_at, not by the cache.
		cache: lru.NewLRU[string, []byte](2, nil, 0),
	}
}

func (s *MemoryStorage) GetToken(ctx context.Context) (*Token, error) {
	data, ok := s.cache.Get(memoryTokenKey)
	if !ok {
		return nil, ErrCacheMiss
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil || !token.ValidAt(s.opts.Now()) {
		return nil, ErrCacheMiss
	}
	return &token, nil
}

func (s *MemoryStorage) SaveToken(ctx context.Context, value string, ttl time.Duration) error {
	if value == "" {
		return fmt.Errorf("token is required")
	}
	return s.put(memoryTokenKey, NewToken(value, ttl, s.opts.Now()))
}

func (s *MemoryStorage) ClearToken(ctx context.Context) error {
	s.cache.Remove(memoryTokenKey)
	return nil
}

func (s *MemoryStorage) GetCookie(ctx context.Context) (*CookieRecord, error) {
	data, ok := s.cache.Get(memoryCookieKey)
	if !ok {
		return nil, ErrNotFound
	}
	var record CookieRecord
	if err := json.Unmarshal(data, &record); err != nil || record.Cookie == "" {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *MemoryStorage) SaveCookie(ctx context.Context, cookie, workspaceID string) error {
	if cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	return s.put(memoryCookieKey, NewCookieRecord(cookie, workspaceID, s.opts.Now()))
}

func (s *MemoryStorage) ClearCookie(ctx context.Context) error {
	s.cache.Remove(memoryCookieKey)
	return nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	s.cache.Purge()
	return nil
}

func (s *MemoryStorage) put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	s.cache.Add(key, data)
	return nil
}
