// Package storage persists the two credentials qzcli keeps between runs: the
// platform bearer token and the browser session cookie.
//
// # Records
//
// A Token is stored with an absolute expires_at (seconds since the epoch). It
// is only served while expires_at is more than GracePeriod in the future, so
// callers never hold a token that is about to lapse mid-request:
//
//	token, err := store.GetToken(ctx)
//	if errors.Is(err, storage.ErrCacheMiss) {
//		// fetch a new one
//	}
//
// A CookieRecord holds the raw "k=v; k2=v2" header, the default workspace id
// and the time it was saved. Cookies have no expiry of their own; the
// platform answers 401 once they are stale.
//
// Token and cookie are independent. Clearing one never touches the other.
//
// # Backends
//
// FileSystemStorage writes .token_cache and .cookie under ~/.qzcli with mode
// 0600. Each save goes through a temp file and a rename, and concurrent
// writers from other processes serialise on a flock(2) lock file.
//
//	store, err := storage.NewFileSystemStorage(storage.DefaultDir())
//
// MemoryStorage keeps both records in process memory.
//
// The redisstore and sqlitestore subpackages provide shared backends for the
// keep-alive daemon. Backends are selected by Config.Type in pkg/session.
//
// # Metrics
//
// Instrument wraps any Store and reports per-operation counts and latency to
// the qzcli_storage_* Prometheus series.
package storage
