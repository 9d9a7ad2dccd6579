package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"VISUALRANGE_DATA_DIR", "VISUALRANGE_FEED_URL", "VISUALRANGE_FEED_TOKEN",
		"VISUALRANGE_DIAG_PORT", "LOG_LEVEL", "DEV_MODE",
		"VISUALRANGE_MARKER_SWEEP_INTERVAL", "VISUALRANGE_REFCOUNT_WARN_THRESHOLD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8090/feed", cfg.FeedURL)
	assert.Equal(t, 8091, cfg.DiagnosticsPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "@every 30s", cfg.MarkerSweepInterval)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VISUALRANGE_FEED_URL", "wss://feed.example.com/v2")
	t.Setenv("VISUALRANGE_DIAG_PORT", "9100")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "wss://feed.example.com/v2", cfg.FeedURL)
	assert.Equal(t, 9100, cfg.DiagnosticsPort)
	assert.True(t, cfg.DevMode)
}

func TestLoadDataDirOverrideTakesPriorityOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VISUALRANGE_DATA_DIR", "/tmp/should-not-be-used")
	override := t.TempDir()

	cfg, err := Load(override)
	require.NoError(t, err)
	assert.Equal(t, override, cfg.DataDir)
}

func TestValidateRejectsEmptyFeedURL(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestLoadCreatesDataDirectoryIfMissing(t *testing.T) {
	clearEnv(t)
	base := t.TempDir()
	nested := base + "/nested/data"

	_, err := Load(nested)
	require.NoError(t, err)

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
