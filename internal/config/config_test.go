package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.WSPort)
	assert.Equal(t, 10000, cfg.MaxEventsPerRun)
	assert.Equal(t, 1800*time.Second, cfg.CleanupInterval)
	assert.False(t, cfg.RequireAuth)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runstream.yaml")
	content := "ws_port: 9000\nmax_events_per_run: 20\nrequire_auth: true\napi_key: from-file\ncleanup_interval: 5m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("API_KEY", "from-env")
	t.Setenv("EVENT_LOG_SWEEP_INTERVAL_S", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.WSPort)
	assert.Equal(t, 20, cfg.MaxEventsPerRun)
	assert.True(t, cfg.RequireAuth)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("WS_PORT", "not-a-number")
	t.Setenv("REQUIRE_AUTH", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.WSPort)
	assert.False(t, cfg.RequireAuth)
}
