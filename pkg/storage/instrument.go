package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/qzcli/pkg/observability"
)

// instrumentedStore records every call against the storage metrics. Misses
// are normal results and are counted as successes.
type instrumentedStore struct {
	next    Store
	backend string
	metrics *observability.Metrics
}

// Instrument wraps store so each call is timed and counted. A nil metrics
// returns store unchanged.
func Instrument(store Store, backend string, metrics *observability.Metrics) Store {
	if metrics == nil {
		return store
	}
	return &instrumentedStore{next: store, backend: backend, metrics: metrics}
}

func (s *instrumentedStore) record(op string, start time.Time, err error) {
	if errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.metrics.RecordStorageOperation(op, s.backend, err, time.Since(start))
}

func (s *instrumentedStore) GetToken(ctx context.Context) (*Token, error) {
	start := time.Now()
	token, err := s.next.GetToken(ctx)
	s.record("get_token", start, err)
	return token, err
}

func (s *instrumentedStore) SaveToken(ctx context.Context, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.next.SaveToken(ctx, value, ttl)
	s.record("save_token", start, err)
	return err
}

func (s *instrumentedStore) ClearToken(ctx context.Context) error {
	start := time.Now()
	err := s.next.ClearToken(ctx)
	s.record("clear_token", start, err)
	return err
}

func (s *instrumentedStore) GetCookie(ctx context.Context) (*CookieRecord, error) {
	start := time.Now()
	record, err := s.next.GetCookie(ctx)
	s.record("get_cookie", start, err)
	return record, err
}

func (s *instrumentedStore) SaveCookie(ctx context.Context, cookie, workspaceID string) error {
	start := time.Now()
	err := s.next.SaveCookie(ctx, cookie, workspaceID)
	s.record("save_cookie", start, err)
	return err
}

func (s *instrumentedStore) ClearCookie(ctx context.Context) error {
	start := time.Now()
	err := s.next.ClearCookie(ctx)
	s.record("clear_cookie", start, err)
	return err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.record("ping", start, err)
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
