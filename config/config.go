package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// DataPaths holds data directory and file path configuration.
// Each path can be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (REDTRACE_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (REDTRACE_SQLITE_PATH, default: ${DataDir}/redtrace.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// MitreBundlePath is the ATT&CK taxonomy seed file (REDTRACE_MITRE_BUNDLE_PATH, default: ${DataDir}/mitre.json)
	MitreBundlePath string `mapstructure:"mitre_bundle_path"`
}

// Config holds all configuration for the redtrace service
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled    bool          `mapstructure:"enabled"`
		JWTSecret  string        `mapstructure:"jwt_secret"`
		JWTExpiry  time.Duration `mapstructure:"jwt_expiry"`
		BcryptCost int           `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	Logging struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"logging"`
}

// LoadConfig reads configuration from config.yaml (if present) and the
// REDTRACE_ environment, applying defaults for everything unset.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("REDTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyPathDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "")
	v.SetDefault("data_paths.mitre_bundle_path", "")
	v.SetDefault("api.cert_file", "")
	v.SetDefault("api.key_file", "")

	v.SetDefault("api.port", 8081)
	v.SetDefault("api.tls", false)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit.requests_per_second", 50)
	v.SetDefault("api.rate_limit.burst", 100)

	v.SetDefault("auth.enabled", true)
	// Registered empty so the env-only REDTRACE_AUTH_JWT_SECRET binding is
	// picked up by Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", 12*time.Hour)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// applyPathDefaults derives unset file paths from DataDir
func (c *Config) applyPathDefaults() {
	if c.DataPaths.DataDir == "" {
		c.DataPaths.DataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(c.DataPaths.DataDir, "redtrace.db")
	}
	if c.DataPaths.MitreBundlePath == "" {
		c.DataPaths.MitreBundlePath = filepath.Join(c.DataPaths.DataDir, "mitre.json")
	}
}

// Validate checks the configuration for values that would fail at runtime
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.API.TLS {
		if c.API.CertFile == "" || c.API.KeyFile == "" {
			return fmt.Errorf("api.cert_file and api.key_file are required when api.tls is enabled")
		}
		if _, err := os.Stat(c.API.CertFile); err != nil {
			return fmt.Errorf("api.cert_file not readable: %w", err)
		}
		if _, err := os.Stat(c.API.KeyFile); err != nil {
			return fmt.Errorf("api.key_file not readable: %w", err)
		}
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters when auth is enabled")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.API.RateLimit.RequestsPerSecond < 1 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataPaths.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", c.DataPaths.DataDir, err)
	}
	return nil
}
