// Package config loads process-level configuration from environment
// variables (.env file, then actual env), in that order, with
// settings-database precedence dropped — this engine persists nothing
// but the optional candle cache, so there is no settings DB to defer to.
//
// Grounded on the teacher's internal/config package: godotenv.Load()
// first, then getEnv/getEnvAsInt/getEnvAsBool helpers reading with
// defaults, absolute-path resolution + directory creation for the data
// directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide configuration for cmd/server.
type Config struct {
	// DataDir is where the M1 candle cache's sqlite file lives.
	DataDir string
	// FeedURL is the upstream tick/snapshot websocket endpoint.
	FeedURL string
	// FeedToken authenticates the AUTH frame on connect.
	FeedToken string
	// DiagnosticsPort is the internal-only HTTP surface's port.
	DiagnosticsPort int
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string
	// DevMode disables the diagnostics server's response compression.
	// It does not change the log level; LogLevel alone sets that.
	DevMode bool
	// MarkerSweepInterval is the housekeeping cron expression for the
	// marker-expiry sweep job, e.g. "@every 30s".
	MarkerSweepInterval string
	// RefcountWarnThreshold is the active-symbol-count ceiling above
	// which the refcount sweep job logs a leak warning.
	RefcountWarnThreshold int
}

// Load reads configuration from the environment. dataDirOverride, if
// non-empty, takes priority over VISUALRANGE_DATA_DIR (mirroring the
// teacher's CLI-flag-beats-env-var precedence).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("VISUALRANGE_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:               absDataDir,
		FeedURL:               getEnv("VISUALRANGE_FEED_URL", "ws://localhost:8090/feed"),
		FeedToken:             getEnv("VISUALRANGE_FEED_TOKEN", ""),
		DiagnosticsPort:       getEnvAsInt("VISUALRANGE_DIAG_PORT", 8091),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DevMode:               getEnvAsBool("DEV_MODE", false),
		MarkerSweepInterval:   getEnv("VISUALRANGE_MARKER_SWEEP_INTERVAL", "@every 30s"),
		RefcountWarnThreshold: getEnvAsInt("VISUALRANGE_REFCOUNT_WARN_THRESHOLD", 256),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the few fields that must be non-empty for the
// process to start meaningfully.
func (c *Config) Validate() error {
	if c.FeedURL == "" {
		return fmt.Errorf("config: VISUALRANGE_FEED_URL must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
