// Package sqlitestore keeps the qzcli credentials in a single SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/qzcli/pkg/storage"
)

//go:embed schema.sql
var schemaSQL string

const (
	kindToken  = "token"
	kindCookie = "cookie"
)

// SQLiteStore implements storage.Store with one row per credential kind
type SQLiteStore struct {
	db   *sql.DB
	opts storage.Options
}

// New opens (or creates) the database at path and applies the schema.
func New(path string, opts ...storage.Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection avoids "database is locked" between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, opts: storage.ApplyOptions(opts)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}
	if version >= 1 {
		return nil
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetToken implements storage.Store.GetToken
func (s *SQLiteStore) GetToken(ctx context.Context) (*storage.Token, error) {
	var token storage.Token
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM credentials WHERE kind = ?`, kindToken,
	).Scan(&token.Value, &token.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	if !token.ValidAt(s.opts.Now()) {
		return nil, storage.ErrCacheMiss
	}
	return &token, nil
}

// SaveToken implements storage.Store.SaveToken
func (s *SQLiteStore) SaveToken(ctx context.Context, value string, ttl time.Duration) error {
	if value == "" {
		return fmt.Errorf("token is required")
	}
	now := s.opts.Now()
	token := storage.NewToken(value, ttl, now)
	return s.upsert(ctx, kindToken, token.Value, "", token.ExpiresAt, storage.Timestamp(now))
}

// ClearToken implements storage.Store.ClearToken
func (s *SQLiteStore) ClearToken(ctx context.Context) error {
	return s.delete(ctx, kindToken)
}

// GetCookie implements storage.Store.GetCookie
func (s *SQLiteStore) GetCookie(ctx context.Context) (*storage.CookieRecord, error) {
	var record storage.CookieRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT value, workspace_id, saved_at FROM credentials WHERE kind = ?`, kindCookie,
	).Scan(&record.Cookie, &record.WorkspaceID, &record.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cookie: %w", err)
	}
	return &record, nil
}

// SaveCookie implements storage.Store.SaveCookie
func (s *SQLiteStore) SaveCookie(ctx context.Context, cookie, workspaceID string) error {
	if cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	record := storage.NewCookieRecord(cookie, workspaceID, s.opts.Now())
	return s.upsert(ctx, kindCookie, record.Cookie, record.WorkspaceID, 0, record.SavedAt)
}

// ClearCookie implements storage.Store.ClearCookie
func (s *SQLiteStore) ClearCookie(ctx context.Context) error {
	return s.delete(ctx, kindCookie)
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) upsert(ctx context.Context, kind, value, workspaceID string, expiresAt, savedAt float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO credentials (kind, value, workspace_id, expires_at, saved_at)
		VALUES (?, ?, ?, ?, ?)
	`, kind, value, workspaceID, expiresAt, savedAt)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, kind string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("failed to clear %s: %w", kind, err)
	}
	return nil
}
