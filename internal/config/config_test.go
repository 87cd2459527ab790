package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "crop-advisor.db", cfg.Store.SQLitePath)
	assert.Equal(t, 5, cfg.Source.MinYears)
	assert.Equal(t, 3, cfg.Source.RetryAttempts)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	assert.Equal(t, 500, cfg.Training.Iterations)
	assert.InDelta(t, 0.5, cfg.Training.LearningRate, 1e-9)
	assert.Equal(t, "models", cfg.Training.SaveDir)
	assert.Equal(t, 3, cfg.Training.PreviewTopK)
	assert.Equal(t, "models", cfg.Serving.ModelDir)
	assert.Equal(t, 30, cfg.Serving.RequestTimeoutSecs)
	assert.Equal(t, 300, cfg.Cache.TTLSecs)
	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/runs
source:
  min_years: 3
serving:
  cors_origins:
    - https://app.example.com
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/runs", cfg.Store.DatabaseURL)
	assert.Equal(t, 3, cfg.Source.MinYears)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Serving.CORSOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Source.RetryAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CROPADVISOR_STORE_DRIVER", "postgres")
	t.Setenv("CROPADVISOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CROPADVISOR_SERVER_PORT", "3000")
	t.Setenv("CROPADVISOR_SOURCE_DATABASE_URL", "postgres://localhost/crops")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/crops", cfg.Source.DatabaseURL)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "runs.db"
	cfg.Source.MinYears = 5
	cfg.Source.RetryAttempts = 3
	cfg.Training.Iterations = 500
	cfg.Training.LearningRate = 0.5
	cfg.Training.SaveDir = "models"
	cfg.Serving.ModelDir = "models"
	cfg.Serving.RequestTimeoutSecs = 30
	cfg.Cache.TTLSecs = 300
	cfg.Server.Port = 5001
	return cfg
}

func TestValidate_DefaultsPassEveryMode(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"train", "serve", "recommend", "store"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateTrain_CollectsErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.MinYears = 1
	cfg.Training.Iterations = 0
	cfg.Training.LearningRate = 0
	cfg.Training.SaveDir = ""

	err := cfg.Validate("train")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.min_years must be >= 2")
	assert.Contains(t, err.Error(), "training.iterations must be >= 1")
	assert.Contains(t, err.Error(), "training.learning_rate must be > 0")
	assert.Contains(t, err.Error(), "training.save_dir is required")
}

func TestValidateStore_Drivers(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/runs"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	// recommend runs offline and ignores the port
	assert.NoError(t, cfg.Validate("recommend"))
}

func TestValidateServe_CacheTTL(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.RedisURL = "redis://localhost:6379/0"
	cfg.Cache.TTLSecs = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.ttl_secs")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
