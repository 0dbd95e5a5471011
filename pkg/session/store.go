package session

import (
	"context"
	"fmt"

	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/storage"
	"github.com/platinummonkey/qzcli/pkg/storage/redisstore"
	"github.com/platinummonkey/qzcli/pkg/storage/sqlitestore"
)

// OpenStore builds the backend cfg.Type names and wraps it with storage
// metrics when metrics is non-nil.
func OpenStore(ctx context.Context, cfg storage.Config, metrics *observability.Metrics, opts ...storage.Option) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)

	switch cfg.Type {
	case "", "file":
		cfg.Type = "file"
		dir := cfg.Dir
		if dir == "" {
			dir = storage.DefaultDir()
		}
		store, err = storage.NewFileSystemStorage(dir, opts...)
	case "memory":
		store = storage.NewMemoryStorage(opts...)
	case "redis":
		store, err = redisstore.New(ctx, cfg, opts...)
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite_path is required for sqlite store")
		}
		store, err = sqlitestore.New(cfg.SQLitePath, opts...)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
	}

	observability.FromContext(ctx).WithField("backend", cfg.Type).Debug("Opened credential store")
	return storage.Instrument(store, cfg.Type, metrics), nil
}
