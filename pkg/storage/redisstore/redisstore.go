// Package redisstore keeps the qzcli credentials in Redis so several
// keep-alive daemons, or a daemon and interactive shells on other hosts, can
// share one token and cookie.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/qzcli/pkg/storage"
)

const (
	tokenKey  = "token"
	cookieKey = "cookie"
)

// RedisStore implements storage.Store on a Redis server
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   storage.Options
}

// New connects using cfg.RedisURL and the pool overrides in cfg, then pings.
func New(ctx context.Context, cfg storage.Config, opts ...storage.Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		redisOpts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		redisOpts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		redisOpts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		redisOpts.PoolSize = cfg.RedisPoolSize
	}

	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second
	redisOpts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromClient(client, cfg.RedisKeyPrefix, opts...), nil
}

// NewFromClient wraps an existing client. Keys are prefix+"token" and
// prefix+"cookie".
func NewFromClient(client *redis.Client, prefix string, opts ...storage.Option) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   storage.ApplyOptions(opts),
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// GetToken implements storage.Store.GetToken
func (s *RedisStore) GetToken(ctx context.Context) (*storage.Token, error) {
	var token storage.Token
	ok, err := s.getJSON(ctx, tokenKey, &token)
	if err != nil {
		return nil, err
	}
	if !ok || !token.ValidAt(s.opts.Now()) {
		return nil, storage.ErrCacheMiss
	}
	return &token, nil
}

// SaveToken stores the record and lets Redis drop it once it has expired
func (s *RedisStore) SaveToken(ctx context.Context, value string, ttl time.Duration) error {
	if value == "" {
		return fmt.Errorf("token is required")
	}
	return s.setJSON(ctx, tokenKey, storage.NewToken(value, ttl, s.opts.Now()), ttl)
}

// ClearToken implements storage.Store.ClearToken
func (s *RedisStore) ClearToken(ctx context.Context) error {
	return s.del(ctx, tokenKey)
}

// GetCookie implements storage.Store.GetCookie
func (s *RedisStore) GetCookie(ctx context.Context) (*storage.CookieRecord, error) {
	var record storage.CookieRecord
	ok, err := s.getJSON(ctx, cookieKey, &record)
	if err != nil {
		return nil, err
	}
	if !ok || record.Cookie == "" {
		return nil, storage.ErrNotFound
	}
	return &record, nil
}

// SaveCookie stores the record with no expiry
func (s *RedisStore) SaveCookie(ctx context.Context, cookie, workspaceID string) error {
	if cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	return s.setJSON(ctx, cookieKey, storage.NewCookieRecord(cookie, workspaceID, s.opts.Now()), 0)
}

// ClearCookie implements storage.Store.ClearCookie
func (s *RedisStore) ClearCookie(ctx context.Context) error {
	return s.del(ctx, cookieKey)
}

// Ping checks Redis connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying client for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) getJSON(ctx context.Context, name string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Corrupt records are dropped and read as absent.
		s.client.Del(ctx, s.key(name))
		return false, nil
	}
	return true, nil
}

func (s *RedisStore) setJSON(ctx context.Context, name string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := s.client.Set(ctx, s.key(name), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) del(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
