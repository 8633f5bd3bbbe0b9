package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	// Change to temp dir so no stray config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "profiles.db", cfg.Store.DatabaseURL)
	assert.InDelta(t, 0.7, cfg.Profile.AcceptThreshold, 0.001)
	assert.Equal(t, 300, cfg.Profile.CacheTTLSecs)
	assert.Equal(t, 10, cfg.Profile.LockTimeoutSecs)
	assert.InDelta(t, 0.4, cfg.Suggest.WeightSimilarity, 0.001)
	assert.InDelta(t, 0.3, cfg.Suggest.WeightConfidence, 0.001)
	assert.InDelta(t, 0.2, cfg.Suggest.WeightRecency, 0.001)
	assert.InDelta(t, 0.1, cfg.Suggest.WeightSourceCount, 0.001)
	assert.InDelta(t, 30, cfg.Suggest.HalfLifeDays, 0.001)
	assert.Equal(t, 5, cfg.Suggest.MaxResults)
	assert.Equal(t, 4, cfg.Ingest.MaxConcurrentFiles)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 20, cfg.Server.SuggestRatePerSec, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/profiles
profile:
  accept_threshold: 0.85
  cache_ttl_secs: 60
suggest:
  max_results: 10
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/profiles", cfg.Store.DatabaseURL)
	assert.InDelta(t, 0.85, cfg.Profile.AcceptThreshold, 0.001)
	assert.Equal(t, 60, cfg.Profile.CacheTTLSecs)
	assert.Equal(t, 10, cfg.Suggest.MaxResults)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Unset keys keep their defaults.
	assert.InDelta(t, 0.4, cfg.Suggest.WeightSimilarity, 0.001)
}

func TestLoadFromEnvironment(t *testing.T) {
	chtemp(t)
	t.Setenv("PROFILE_STORE_DRIVER", "postgres")
	t.Setenv("PROFILE_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	chtemp(t)
	require.NoError(t, os.WriteFile("config.yaml", []byte("store: [not: a: map"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := ProfileConfig{CacheTTLSecs: 90, LockTimeoutSecs: 3}
	assert.Equal(t, "1m30s", cfg.CacheTTL().String())
	assert.Equal(t, "3s", cfg.LockTimeout().String())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
