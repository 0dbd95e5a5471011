package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

const (
	// FileName is the config file inside the config directory
	FileName = "config.yaml"
	// LegacyFileName is read when FileName does not exist
	LegacyFileName = "config.json"

	DefaultAPIBaseURL = "https://qz.sii.edu.cn"
)

// Config holds all qzcli configuration
type Config struct {
	APIBaseURL        string        `yaml:"api_base_url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	TokenCacheEnabled bool          `yaml:"token_cache_enabled"`
	ConfigDir         string        `yaml:"config_dir"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`

	SSO           SSOConfig           `yaml:"sso"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Keepalive     KeepaliveConfig     `yaml:"keepalive"`

	// path of the file that was loaded, empty when none existed
	path string
}

// SSOConfig overrides the hosts and form details of the CAS login chain
type SSOConfig struct {
	BrokerHost   string        `yaml:"broker_host"`
	ProviderHost string        `yaml:"provider_host"`
	UserAgent    string        `yaml:"user_agent"`
	SubmitLabel  string        `yaml:"submit_label"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig selects the credential cache backend
type StoreConfig struct {
	Type           string `yaml:"type"` // file, memory, redis, sqlite
	RedisURL       string `yaml:"redis_url"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
	SQLitePath     string `yaml:"sqlite_path"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// KeepaliveConfig drives qz-keepalive
type KeepaliveConfig struct {
	Schedule    string `yaml:"schedule"`
	ProbeCookie bool   `yaml:"probe_cookie"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		APIBaseURL:        DefaultAPIBaseURL,
		TokenCacheEnabled: true,
		ConfigDir:         storage.DefaultDir(),
		HTTPTimeout:       60 * time.Second,
		SSO: SSOConfig{
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Type:           "file",
			RedisDB:        -1,
			RedisKeyPrefix: "qzcli:",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "warn",
			MetricsAddr:        ":9464",
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "qzcli",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
		Keepalive: KeepaliveConfig{
			Schedule: "@every 1h",
		},
	}
}

// Dir returns the config directory: QZCLI_CONFIG_DIR or ~/.qzcli
func Dir() string {
	return getEnv("QZCLI_CONFIG_DIR", storage.DefaultDir())
}

// LoadConfig loads configuration from Dir()
func LoadConfig() (*Config, error) {
	return Load(Dir())
}

// Load merges defaults, the config file in dir and the environment, then
// validates the result.
func Load(dir string) (*Config, error) {
	cfg := Default()
	cfg.ConfigDir = dir

	if err := cfg.loadFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	// the file may not move the directory it was read from
	cfg.ConfigDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was read from, or where InitConfig
// would write it.
func (c *Config) Path() string {
	if c.path != "" {
		return c.path
	}
	return filepath.Join(c.ConfigDir, FileName)
}

func (c *Config) loadFile(dir string) error {
	for _, name := range []string{FileName, LegacyFileName} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// JSON is a subset of YAML, so the old config.json decodes the same way
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		c.path = path
		return nil
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("QZCLI_API_URL", c.APIBaseURL)
	c.Username = getEnv("QZCLI_USERNAME", c.Username)
	c.Password = getEnv("QZCLI_PASSWORD", c.Password)
	c.TokenCacheEnabled = getEnvBool("QZCLI_TOKEN_CACHE_ENABLED", c.TokenCacheEnabled)
	c.HTTPTimeout = getEnvDuration("QZCLI_HTTP_TIMEOUT", c.HTTPTimeout)

	c.SSO.BrokerHost = getEnv("QZCLI_SSO_BROKER_HOST", c.SSO.BrokerHost)
	c.SSO.ProviderHost = getEnv("QZCLI_SSO_PROVIDER_HOST", c.SSO.ProviderHost)
	c.SSO.UserAgent = getEnv("QZCLI_SSO_USER_AGENT", c.SSO.UserAgent)
	c.SSO.SubmitLabel = getEnv("QZCLI_SSO_SUBMIT_LABEL", c.SSO.SubmitLabel)
	c.SSO.Timeout = getEnvDuration("QZCLI_SSO_TIMEOUT", c.SSO.Timeout)

	c.Store.Type = getEnv("QZCLI_STORE_TYPE", c.Store.Type)
	c.Store.RedisURL = getEnv("QZCLI_STORE_REDIS_URL", c.Store.RedisURL)
	c.Store.RedisPassword = getEnv("QZCLI_STORE_REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = getEnvInt("QZCLI_STORE_REDIS_DB", c.Store.RedisDB)
	c.Store.RedisKeyPrefix = getEnv("QZCLI_STORE_REDIS_KEY_PREFIX", c.Store.RedisKeyPrefix)
	c.Store.SQLitePath = getEnv("QZCLI_STORE_SQLITE_PATH", c.Store.SQLitePath)

	c.Observability.LogLevel = getEnv("QZCLI_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsAddr = getEnv("QZCLI_METRICS_ADDR", c.Observability.MetricsAddr)
	c.Observability.OTelEnabled = getEnvBool("QZCLI_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("QZCLI_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("QZCLI_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("QZCLI_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("QZCLI_OTEL_INSECURE", c.Observability.OTelInsecure)

	c.Keepalive.Schedule = getEnv("QZCLI_KEEPALIVE_SCHEDULE", c.Keepalive.Schedule)
	c.Keepalive.ProbeCookie = getEnvBool("QZCLI_KEEPALIVE_PROBE_COOKIE", c.Keepalive.ProbeCookie)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api_base_url: %s", c.APIBaseURL)
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")

	if c.ConfigDir == "" {
		return fmt.Errorf("config_dir is required")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.SSO.Timeout < 0 {
		return fmt.Errorf("sso timeout must not be negative")
	}

	switch c.Store.Type {
	case "file", "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis_url is required for redis store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = filepath.Join(c.ConfigDir, "qzcli.db")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be file, memory, redis, or sqlite)", c.Store.Type)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Keepalive.Schedule != "" {
		if _, err := cron.ParseStandard(c.Keepalive.Schedule); err != nil {
			return fmt.Errorf("invalid keepalive schedule %q: %w", c.Keepalive.Schedule, err)
		}
	}
	return nil
}

// HasCredentials reports whether both username and password are set
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// LogLevel returns the parsed observability log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// StorageConfig maps the store section onto storage.Config
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type:           c.Store.Type,
		Dir:            c.ConfigDir,
		RedisURL:       c.Store.RedisURL,
		RedisPassword:  c.Store.RedisPassword,
		RedisDB:        c.Store.RedisDB,
		RedisKeyPrefix: c.Store.RedisKeyPrefix,
		SQLitePath:     c.Store.SQLitePath,
	}
}

// OTelConfig maps the observability section onto observability.OTelConfig
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// InitConfig stores credentials in the config file under Dir()
func InitConfig(username, password, apiURL string) (string, error) {
	return InitConfigIn(Dir(), username, password, apiURL)
}

// InitConfigIn writes username, password and apiURL into dir/config.yaml.
// Empty arguments leave the existing value alone, and keys the file already
// holds are preserved. The file is replaced atomically with mode 0600.
func InitConfigIn(dir, username, password, apiURL string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("config_dir is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := make(map[string]interface{})
	for _, name := range []string{FileName, LegacyFileName} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return "", fmt.Errorf("failed to parse existing config: %w", err)
		}
		break
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}

	if username != "" {
		doc["username"] = username
	}
	if password != "" {
		doc["password"] = password
	}
	if apiURL != "" {
		doc["api_base_url"] = strings.TrimRight(apiURL, "/")
	}
	if _, ok := doc["token_cache_enabled"]; !ok {
		doc["token_cache_enabled"] = true
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
