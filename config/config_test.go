package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDTRACE_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, "./data", cfg.DataPaths.DataDir)
	assert.Equal(t, filepath.Join("./data", "redtrace.db"), cfg.DataPaths.SQLitePath)
	assert.Equal(t, filepath.Join("./data", "mitre.json"), cfg.DataPaths.MitreBundlePath)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 12*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("REDTRACE_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("REDTRACE_API_PORT", "9090")
	t.Setenv("REDTRACE_DATA_PATHS_DATA_DIR", "/tmp/redtrace-test")
	t.Setenv("REDTRACE_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "/tmp/redtrace-test", cfg.DataPaths.DataDir)
	assert.Equal(t, filepath.Join("/tmp/redtrace-test", "redtrace.db"), cfg.DataPaths.SQLitePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("REDTRACE_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.API.Port = 0
	assert.Error(t, cfg.Validate())
	cfg.API.Port = 8081

	cfg.Auth.JWTSecret = "short"
	assert.Error(t, cfg.Validate())
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"

	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
	cfg.Logging.Level = "warn"

	cfg.API.TLS = true
	assert.Error(t, cfg.Validate(), "TLS without cert paths must fail")
	cfg.API.TLS = false

	assert.NoError(t, cfg.Validate())
}
