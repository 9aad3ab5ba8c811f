package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	Denylist  DenylistConfig  `yaml:"denylist"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Cookies   CookiesConfig   `yaml:"cookies"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

type ServerConfig struct {
	HTTP ServerHTTPConfig `yaml:"http"`
}

type ServerHTTPConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxRequestBody  string `yaml:"max_request_body"` // e.g. "64KiB"

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// MaxRequestBodyBytes returns the parsed request body limit.
func (c ServerHTTPConfig) MaxRequestBodyBytes() int64 {
	n, err := humanize.ParseBytes(c.MaxRequestBody)
	if err != nil || n == 0 {
		return 64 << 10
	}
	return int64(n)
}

// RateLimitConfig limits API requests per client address. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxClients        int     `yaml:"max_clients"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"`
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	Keys       []string `yaml:"keys"`
	KeysFile   string   `yaml:"keys_file"`
	HeaderName string   `yaml:"header_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig points at the embedded database holding the whitelists.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// AuditConfig enables a JSON Lines journal of whitelist changes and
// webhook delivery of the same changes.
type AuditConfig struct {
	Output   string              `yaml:"output"`
	Rotation AuditRotationConfig `yaml:"rotation"`
	Webhooks []WebhookConfig     `yaml:"webhooks"`
}

type WebhookConfig struct {
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Method   string            `yaml:"method"`
	Headers  map[string]string `yaml:"headers"`
	Template string            `yaml:"template"`
	// Lists restricts delivery to these whitelists; empty means all.
	Lists []string `yaml:"lists"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

type AuditRotationConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

// DenylistConfig configures the host denylist. An empty Path selects the
// bundled asset.
type DenylistConfig struct {
	Path     string        `yaml:"path"`
	Format   string        `yaml:"format"` // "domain-list" or "hostfile"
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// WhitelistConfig lists the whitelist tables served by the API and CLI.
type WhitelistConfig struct {
	Lists []string `yaml:"lists"`
}

// CookiesConfig configures the cookie decision for URLs matching neither
// the whitelist nor the denylist.
type CookiesConfig struct {
	Default         string `yaml:"default"` // "allow" or "block"
	BlockThirdParty bool   `yaml:"block_third_party"`
	BlockDenylisted *bool  `yaml:"block_denylisted"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

// ErrNotFound is returned by Load when the config file does not exist.
var ErrNotFound = errors.New("config file not found")

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists, with
// environment overrides applied.
func Default() (*Config, error) {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8380"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "5s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		cfg.Server.HTTP.WriteTimeout = "10s"
	}
	if cfg.Server.HTTP.ShutdownTimeout == "" {
		cfg.Server.HTTP.ShutdownTimeout = "5s"
	}
	if cfg.Server.HTTP.MaxRequestBody == "" {
		cfg.Server.HTTP.MaxRequestBody = "64KiB"
	}
	if cfg.Server.HTTP.RateLimit.RequestsPerSecond > 0 {
		if cfg.Server.HTTP.RateLimit.Burst <= 0 {
			cfg.Server.HTTP.RateLimit.Burst = int(cfg.Server.HTTP.RateLimit.RequestsPerSecond*2) + 1
		}
		if cfg.Server.HTTP.RateLimit.MaxClients <= 0 {
			cfg.Server.HTTP.RateLimit.MaxClients = 1024
		}
	}
	if cfg.Audit.Output != "" {
		if cfg.Audit.Rotation.MaxSizeMB <= 0 {
			cfg.Audit.Rotation.MaxSizeMB = 10
		}
		if cfg.Audit.Rotation.MaxBackups <= 0 {
			cfg.Audit.Rotation.MaxBackups = 3
		}
	}
	for i := range cfg.Audit.Webhooks {
		if cfg.Audit.Webhooks[i].Name == "" {
			cfg.Audit.Webhooks[i].Name = fmt.Sprintf("webhook-%d", i)
		}
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "/var/lib/cookieguard/records.db"
	}
	if cfg.Denylist.Format == "" {
		cfg.Denylist.Format = "domain-list"
	}
	if cfg.Denylist.Debounce <= 0 {
		cfg.Denylist.Debounce = 200 * time.Millisecond
	}
	if len(cfg.Whitelist.Lists) == 0 {
		cfg.Whitelist.Lists = []string{"cookie"}
	}
	if cfg.Cookies.Default == "" {
		cfg.Cookies.Default = "allow"
	}
	// block denylisted hosts unless explicitly disabled
	if cfg.Cookies.BlockDenylisted == nil {
		t := true
		cfg.Cookies.BlockDenylisted = &t
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COOKIEGUARD_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("COOKIEGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COOKIEGUARD_DENYLIST"); v != "" {
		cfg.Denylist.Path = v
	}
	if v := os.Getenv("COOKIEGUARD_DATA_DIR"); v != "" {
		cfg.Storage.SQLitePath = filepath.Join(v, "records.db")
	}
}

func validateConfig(cfg *Config) error {
	for name, v := range map[string]string{
		"server.http.read_timeout":     cfg.Server.HTTP.ReadTimeout,
		"server.http.write_timeout":    cfg.Server.HTTP.WriteTimeout,
		"server.http.shutdown_timeout": cfg.Server.HTTP.ShutdownTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if n, err := humanize.ParseBytes(cfg.Server.HTTP.MaxRequestBody); err != nil {
		return fmt.Errorf("parse server.http.max_request_body: %w", err)
	} else if n == 0 {
		return fmt.Errorf("server.http.max_request_body must be > 0")
	}
	if cfg.Server.HTTP.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("server.http.rate_limit.requests_per_second must be >= 0")
	}
	for _, wh := range cfg.Audit.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("audit.webhooks[%s]: url is required", wh.Name)
		}
		if wh.RetryCount < 0 {
			return fmt.Errorf("audit.webhooks[%s]: retry_count must be >= 0", wh.Name)
		}
	}
	switch strings.ToLower(cfg.Auth.Type) {
	case "none":
	case "api_key":
		if len(cfg.Auth.APIKey.Keys) == 0 && cfg.Auth.APIKey.KeysFile == "" {
			return fmt.Errorf("auth.type=api_key requires auth.api_key.keys or auth.api_key.keys_file")
		}
	default:
		return fmt.Errorf("invalid auth.type %q", cfg.Auth.Type)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	switch strings.ToLower(cfg.Denylist.Format) {
	case "domain-list", "hostfile":
	default:
		return fmt.Errorf("invalid denylist.format %q", cfg.Denylist.Format)
	}
	if cfg.Denylist.Watch && cfg.Denylist.Path == "" {
		return fmt.Errorf("denylist.watch requires denylist.path")
	}
	seen := make(map[string]struct{}, len(cfg.Whitelist.Lists))
	for _, l := range cfg.Whitelist.Lists {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("whitelist.lists contains an empty name")
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("whitelist.lists contains %q twice", l)
		}
		seen[l] = struct{}{}
	}
	switch cfg.Cookies.Default {
	case "allow", "block":
	default:
		return fmt.Errorf("invalid cookies.default %q", cfg.Cookies.Default)
	}
	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must not be empty")
	}
	return nil
}
