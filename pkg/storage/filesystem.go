package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// TokenFileName holds the token record inside the store directory
	TokenFileName = ".token_cache"
	// CookieFileName holds the cookie record inside the store directory
	CookieFileName = ".cookie"

	lockFileName = ".lock"
)

// DefaultDir returns ~/.qzcli, or .qzcli in the working directory when the
// home directory cannot be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qzcli"
	}
	return filepath.Join(home, ".qzcli")
}

// FileSystemStorage keeps each record in its own JSON file.
//
// Writes go to a temp file in the same directory and are renamed over the
// target, so readers only ever see a complete record. Writers from different
// processes serialise on an advisory lock file.
type FileSystemStorage struct {
	dir  string
	opts Options

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileSystemStorage creates the directory (0700) if needed.
func NewFileSystemStorage(dir string, opts ...Option) (*FileSystemStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileSystemStorage{
		dir:  dir,
		opts: ApplyOptions(opts),
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Dir returns the storage directory
func (s *FileSystemStorage) Dir() string {
	return s.dir
}

// GetToken implements Store.GetToken. Unreadable or corrupt files are a miss.
func (s *FileSystemStorage) GetToken(ctx context.Context) (*Token, error) {
	var token Token
	ok, err := s.readJSON(TokenFileName, &token)
	if err != nil {
		return nil, err
	}
	if !ok || !token.ValidAt(s.opts.Now()) {
		return nil, ErrCacheMiss
	}
	return &token, nil
}

// SaveToken implements Store.SaveToken
func (s *FileSystemStorage) SaveToken(ctx context.Context, value string, ttl time.Duration) error {
	if value == "" {
		return fmt.Errorf("token is required")
	}
	return s.writeJSON(TokenFileName, NewToken(value, ttl, s.opts.Now()))
}

// ClearToken implements Store.ClearToken
func (s *FileSystemStorage) ClearToken(ctx context.Context) error {
	return s.remove(TokenFileName)
}

// GetCookie implements Store.GetCookie
func (s *FileSystemStorage) GetCookie(ctx context.Context) (*CookieRecord, error) {
	var record CookieRecord
	ok, err := s.readJSON(CookieFileName, &record)
	if err != nil {
		return nil, err
	}
	if !ok || record.Cookie == "" {
		return nil, ErrNotFound
	}
	return &record, nil
}

// SaveCookie implements Store.SaveCookie
func (s *FileSystemStorage) SaveCookie(ctx context.Context, cookie, workspaceID string) error {
	if cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	return s.writeJSON(CookieFileName, NewCookieRecord(cookie, workspaceID, s.opts.Now()))
}

// ClearCookie implements Store.ClearCookie
func (s *FileSystemStorage) ClearCookie(ctx context.Context) error {
	return s.remove(CookieFileName)
}

// Ping checks that the directory is still there and is a directory
func (s *FileSystemStorage) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("storage directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", s.dir)
	}
	return nil
}

// Close releases the lock file handle
func (s *FileSystemStorage) Close() error {
	return s.lock.Close()
}

// readJSON reports ok=false for missing or corrupt files.
func (s *FileSystemStorage) readJSON(name string, dest interface{}) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *FileSystemStorage) writeJSON(name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	return s.withLock(func() error {
		tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		tmpName := tmp.Name()
		defer os.Remove(tmpName)

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to sync %s: %w", name, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		if err := os.Chmod(tmpName, 0600); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", name, err)
		}
		if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("failed to replace %s: %w", name, err)
		}
		return nil
	})
}

func (s *FileSystemStorage) remove(name string) error {
	return s.withLock(func() error {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
		return nil
	})
}

func (s *FileSystemStorage) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock storage directory: %w", err)
	}
	defer s.lock.Unlock()

	return fn()
}
