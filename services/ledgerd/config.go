package ledgerd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"subledger/storage/journal"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the ledger daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	Environment     string          `yaml:"env"`
	LedgerConfig    string          `yaml:"ledger_config"`
	DataDir         string          `yaml:"data_dir"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	Journal         JournalConfig   `yaml:"journal"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Log             LogConfig       `yaml:"log"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

// JournalConfig selects the notification journal backend.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig controls bearer token verification on the API.
type AuthConfig struct {
	Disabled       bool     `yaml:"disabled"`
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
	TrustProxyHeaders bool    `yaml:"trust_proxy_headers"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Traces   bool   `yaml:"traces"`
	Metrics  bool   `yaml:"metrics"`

	// SampleRatio keeps this fraction of root traces; zero keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = "services/ledgerd/ledger.toml"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./subledger-data"
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = journal.DriverSQLite
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == journal.DriverSQLite && cfg.Journal.DSN == "" {
		cfg.Journal.DSN = strings.TrimRight(cfg.DataDir, "/") + "/journal.db"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
}

func (a *AuthConfig) normalise() error {
	if a.Disabled {
		return nil
	}
	if strings.TrimSpace(a.HMACSecret) == "" && strings.TrimSpace(a.HMACSecretFile) != "" {
		raw, err := os.ReadFile(strings.TrimSpace(a.HMACSecretFile))
		if err != nil {
			return fmt.Errorf("read hmac secret: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(raw))
	}
	if a.HMACSecret == "" {
		return fmt.Errorf("hmac secret must be configured unless auth is disabled")
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch cfg.Journal.Driver {
	case journal.DriverSQLite:
	case journal.DriverPostgres:
		if strings.TrimSpace(cfg.Journal.DSN) == "" {
			return fmt.Errorf("journal dsn must be configured for postgres")
		}
	default:
		return fmt.Errorf("unknown journal driver %q", cfg.Journal.Driver)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}
