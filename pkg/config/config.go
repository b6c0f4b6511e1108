// Package config loads CodeWatch's process configuration from a YAML file,
// environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort       = errors.New("invalid server port")
	ErrInvalidBatchLimit = errors.New("analysis batch token limit must be positive")
	ErrMissingDBPath     = errors.New("storage database path must not be empty")
	ErrMissingReposRoot  = errors.New("repository checkout root must not be empty")
)

// Default configuration values.
const (
	defaultPort         = 8088
	defaultHost         = "0.0.0.0"
	defaultBatchTokens  = 150_000
	defaultOwnershipTTL = 15 * time.Minute
	maxPort             = 65535
)

// Config holds every section of CodeWatch's runtime configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds the HTTP listener's settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StorageConfig points at the SQLite database file.
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// RepositoryConfig controls the repository checkout root and clone
// behavior.
type RepositoryConfig struct {
	Root         string        `mapstructure:"root"`
	CloneTimeout time.Duration `mapstructure:"clone_timeout"`
}

// AnalysisConfig controls Phase 4's batching and the LLM gateway's pacing.
type AnalysisConfig struct {
	BatchTokenLimit   int           `mapstructure:"batch_token_limit"`
	GatewayRatePerSec float64       `mapstructure:"gateway_rate_per_sec"`
	GatewayBurst      int           `mapstructure:"gateway_burst"`
	OwnershipCacheTTL time.Duration `mapstructure:"ownership_cache_ttl"`
}

// GitHubConfig holds the GitHub App credentials used by internal/githubclient.
type GitHubConfig struct {
	AppID          int64  `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus scrape endpoint. Empty Addr leaves
// metrics export on the OTLP push path instead.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from configPath (if non-empty), otherwise from
// the first of ./config.yaml, ./config/config.yaml, /etc/codewatch/config.yaml
// that exists. CODEWATCH_-prefixed environment variables override file
// values, and the defaults below fill in anything still unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/codewatch")
	}

	v.SetEnvPrefix("CODEWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.idle_timeout", "2m")

	v.SetDefault("storage.database_path", "./codewatch.db")

	v.SetDefault("repository.root", "./repos")
	v.SetDefault("repository.clone_timeout", "10m")

	v.SetDefault("analysis.batch_token_limit", defaultBatchTokens)
	v.SetDefault("analysis.gateway_rate_per_sec", 2.0)
	v.SetDefault("analysis.gateway_burst", 4)
	v.SetDefault("analysis.ownership_cache_ttl", defaultOwnershipTTL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Server.Port)
	}

	if cfg.Analysis.BatchTokenLimit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchLimit, cfg.Analysis.BatchTokenLimit)
	}

	if cfg.Storage.DatabasePath == "" {
		return ErrMissingDBPath
	}

	if cfg.Repository.Root == "" {
		return ErrMissingReposRoot
	}

	return nil
}
