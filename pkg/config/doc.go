// Package config loads qzcli configuration.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. built-in defaults
//  2. $QZCLI_CONFIG_DIR/config.yaml (default ~/.qzcli/config.yaml); an older
//     config.json in the same directory is read when no YAML file exists
//  3. QZCLI_* environment variables
//
// # File Layout
//
//	api_base_url: https://qz.sii.edu.cn
//	username: alice
//	password: secret
//	token_cache_enabled: true
//	http_timeout: 60s
//	sso:
//	  broker_host: sso.sii.edu.cn
//	  provider_host: cas.sii.edu.cn
//	  timeout: 30s
//	store:
//	  type: file   # file, memory, redis, sqlite
//	  redis_url: redis://localhost:6379/0
//	observability:
//	  log_level: warn
//	  metrics_addr: ":9464"
//	  otel_enabled: false
//	keepalive:
//	  schedule: "@every 1h"
//	  probe_cookie: false
//
// # Environment
//
//	QZCLI_API_URL, QZCLI_USERNAME, QZCLI_PASSWORD, QZCLI_TOKEN_CACHE_ENABLED
//	QZCLI_HTTP_TIMEOUT
//	QZCLI_SSO_BROKER_HOST, QZCLI_SSO_PROVIDER_HOST, QZCLI_SSO_USER_AGENT,
//	QZCLI_SSO_SUBMIT_LABEL, QZCLI_SSO_TIMEOUT
//	QZCLI_STORE_TYPE, QZCLI_STORE_REDIS_URL, QZCLI_STORE_REDIS_PASSWORD,
//	QZCLI_STORE_REDIS_DB, QZCLI_STORE_REDIS_KEY_PREFIX, QZCLI_STORE_SQLITE_PATH
//	QZCLI_LOG_LEVEL, QZCLI_METRICS_ADDR, QZCLI_OTEL_ENABLED, QZCLI_OTEL_ENDPOINT,
//	QZCLI_OTEL_SERVICE_NAME, QZCLI_OTEL_SERVICE_VERSION, QZCLI_OTEL_INSECURE
//	QZCLI_KEEPALIVE_SCHEDULE, QZCLI_KEEPALIVE_PROBE_COOKIE
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := cfg.StorageConfig()
//
// InitConfig writes credentials back to config.yaml with mode 0600, keeping
// any other keys the file already has.
package config
