// Package config loads process settings from BASIL_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elisa-tech/BASIL-sub001/internal/artifacts"
)

const (
	defaultDBDSN        = "basil.db"
	defaultPresetsPath  = "testrun_plugin_presets.yaml"
	defaultWorkDirRoot  = "/var/tmp/tmt"
	defaultPlanDir      = "."
	defaultUserFilesDir = "user-files"
	defaultExamplesDir  = "examples"
	defaultPollInterval = 60 * time.Second

	envDBDSN          = "BASIL_DB_DSN"
	envLogLevel       = "BASIL_LOG_LEVEL"
	envPresetsPath    = "BASIL_PRESETS_PATH"
	envWorkDirRoot    = "BASIL_TMT_WORKDIR_ROOT"
	envLegacyWorkDir  = "TMT_WORKDIR_ROOT"
	envPlanDir        = "BASIL_TMT_PLAN_DIR"
	envUserFilesDir   = "BASIL_USER_FILES_DIR"
	envExamplesDir    = "BASIL_EXAMPLES_DIR"
	envPollInterval   = "BASIL_POLL_INTERVAL"
	envTimeout        = "BASIL_TESTRUN_TIMEOUT"
	envMonitorAddr    = "BASIL_MONITOR_ADDR"
	envAppURL         = "BASIL_APP_URL"
	envArtifactsHost  = "BASIL_ARTIFACTS_ENDPOINT"
	envArtifactsKey   = "BASIL_ARTIFACTS_ACCESS_KEY"
	envArtifactsSec   = "BASIL_ARTIFACTS_SECRET_KEY"
	envArtifactsBkt   = "BASIL_ARTIFACTS_BUCKET"
	envArtifactsReg   = "BASIL_ARTIFACTS_REGION"
	envArtifactsSSL   = "BASIL_ARTIFACTS_USE_SSL"
	defaultArtifactBk = "basil-artifacts"
)

// Config holds the runner's settings.
type Config struct {
	DBDSN        string
	LogLevel     slog.Level
	PresetsPath  string
	WorkDirRoot  string
	PlanDir      string
	UserFilesDir string
	ExamplesDir  string
	PollInterval time.Duration
	// Timeout bounds a whole run; zero means no deadline.
	Timeout     time.Duration
	MonitorAddr string
	AppURL      string
	Artifacts   artifacts.Config
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		DBDSN:        str(envDBDSN, defaultDBDSN),
		LogLevel:     slog.LevelInfo,
		PresetsPath:  str(envPresetsPath, defaultPresetsPath),
		WorkDirRoot:  str(envWorkDirRoot, str(envLegacyWorkDir, defaultWorkDirRoot)),
		PlanDir:      str(envPlanDir, defaultPlanDir),
		UserFilesDir: str(envUserFilesDir, defaultUserFilesDir),
		ExamplesDir:  str(envExamplesDir, defaultExamplesDir),
		MonitorAddr:  os.Getenv(envMonitorAddr),
		AppURL:       os.Getenv(envAppURL),
		Artifacts: artifacts.Config{
			Endpoint:  os.Getenv(envArtifactsHost),
			AccessKey: os.Getenv(envArtifactsKey),
			SecretKey: os.Getenv(envArtifactsSec),
			Bucket:    str(envArtifactsBkt, defaultArtifactBk),
			Region:    os.Getenv(envArtifactsReg),
		},
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	var err error
	if cfg.PollInterval, err = duration(envPollInterval, defaultPollInterval); err != nil {
		return cfg, err
	}
	if cfg.PollInterval <= 0 {
		return cfg, fmt.Errorf("%s must be positive", envPollInterval)
	}
	if cfg.Timeout, err = duration(envTimeout, 0); err != nil {
		return cfg, err
	}
	if cfg.Artifacts.UseSSL, err = boolean(envArtifactsSSL, true); err != nil {
		return cfg, err
	}
	if err := cfg.Artifacts.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// duration accepts Go durations and bare seconds.
func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func boolean(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
