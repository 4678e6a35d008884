package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	ProtocolPath  string          `yaml:"protocol"`
	LogLevel      string          `yaml:"log_level"`
	LogFile       string          `yaml:"log_file"`
	Storage       StorageConfig   `yaml:"storage"`
	Identity      IdentityConfig  `yaml:"identity"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Indexer       IndexerConfig   `yaml:"indexer"`
	Keeper        KeeperConfig    `yaml:"keeper"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the state backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// IdentityConfig points at the World ID verifier.
type IdentityConfig struct {
	BaseURL string        `yaml:"base_url"`
	AppID   string        `yaml:"app_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures bearer tokens for users and signed admin requests.
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTSecretEnv      string        `yaml:"jwt_secret_env"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	ClockSkew         time.Duration `yaml:"clock_skew"`
	AdminSignatureTTL time.Duration `yaml:"admin_signature_ttl"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// IndexerConfig configures the portfolio read model database.
type IndexerConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	ExportDir string `yaml:"export_dir"`
}

// KeeperConfig schedules permissionless maintenance calls.
type KeeperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the JWT signing secret, preferring the environment
// variable when one is named.
func (cfg AuthConfig) Secret() string {
	if cfg.JWTSecretEnv != "" {
		if v := strings.TrimSpace(os.Getenv(cfg.JWTSecretEnv)); v != "" {
			return v
		}
	}
	return cfg.JWTSecret
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.ProtocolPath = strings.TrimSpace(cfg.ProtocolPath)
	if cfg.ProtocolPath == "" {
		cfg.ProtocolPath = "protocol.toml"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Identity.BaseURL = strings.TrimSpace(cfg.Identity.BaseURL)
	cfg.Identity.AppID = strings.TrimSpace(cfg.Identity.AppID)
	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)
	cfg.Auth.JWTSecretEnv = strings.TrimSpace(cfg.Auth.JWTSecretEnv)
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = time.Minute
	}
	if cfg.Auth.AdminSignatureTTL <= 0 {
		cfg.Auth.AdminSignatureTTL = 5 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	if cfg.Indexer.Driver == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	if cfg.Indexer.DSN == "" && cfg.Indexer.Driver == "sqlite" {
		cfg.Indexer.DSN = "file:lendingd-index?mode=memory&cache=shared"
	}
	cfg.Indexer.ExportDir = strings.TrimSpace(cfg.Indexer.ExportDir)
	if cfg.Indexer.ExportDir == "" {
		cfg.Indexer.ExportDir = "exports"
	}
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	if cfg.Keeper.Interval <= 0 {
		cfg.Keeper.Interval = time.Minute
	}
}

func (cfg *Config) validate() error {
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Identity.AppID == "" {
		return fmt.Errorf("identity: app_id required")
	}
	if cfg.Auth.Secret() == "" {
		return fmt.Errorf("auth: jwt_secret or jwt_secret_env required")
	}
	switch cfg.Indexer.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unknown driver %q", cfg.Indexer.Driver)
	}
	if cfg.Indexer.DSN == "" {
		return fmt.Errorf("indexer: dsn required")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}
