// Package keepalive runs the qz-keepalive daemon: a cron scheduler that
// keeps the cached bearer token fresh, an optional cookie probe, a config
// watcher that rebuilds the session on change, and the /metrics, /healthz
// and /readyz endpoints.
package keepalive
