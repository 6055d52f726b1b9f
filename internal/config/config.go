/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabaseSQLite   DatabaseBackend = "sqlite"
	DatabasePostgres DatabaseBackend = "postgres"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g. http://192.168.1.20:4533)

	DBBackend DatabaseBackend
	DBDSN     string

	// Library configuration
	MusicDirs    []string // Directories scanned for audio files
	ArtCacheDir  string   // Extracted cover art lands here
	ScanWorkers  int      // Parallel tag-extraction workers
	WatchEnabled bool     // Rescan on filesystem changes
	WatchDebounce time.Duration

	// Playback configuration
	AnalyzerTick    time.Duration // Frequency polling interval
	AutoplayRetry   time.Duration // Delay before the single blocked-play retry
	StatePushPeriod time.Duration // Websocket snapshot interval

	MetricsBind string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("BASSLINE_ENV", "development"),
		HTTPBind:    getEnv("BASSLINE_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("BASSLINE_HTTP_PORT", 4533),
		BaseURL:     getEnv("BASSLINE_BASE_URL", ""),

		DBBackend: DatabaseBackend(getEnv("BASSLINE_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("BASSLINE_DB_DSN", "./bassline.db"),

		MusicDirs:     splitList(getEnv("BASSLINE_MUSIC_DIRS", "./music")),
		ArtCacheDir:   getEnv("BASSLINE_ART_CACHE_DIR", "./art-cache"),
		ScanWorkers:   getEnvInt("BASSLINE_SCAN_WORKERS", 4),
		WatchEnabled:  getEnvBool("BASSLINE_WATCH_ENABLED", true),
		WatchDebounce: time.Duration(getEnvInt("BASSLINE_WATCH_DEBOUNCE_MS", 2000)) * time.Millisecond,

		AnalyzerTick:    time.Duration(getEnvInt("BASSLINE_ANALYZER_TICK_MS", 16)) * time.Millisecond,
		AutoplayRetry:   time.Duration(getEnvInt("BASSLINE_AUTOPLAY_RETRY_MS", 750)) * time.Millisecond,
		StatePushPeriod: time.Duration(getEnvInt("BASSLINE_STATE_PUSH_MS", 250)) * time.Millisecond,

		MetricsBind: getEnv("BASSLINE_METRICS_BIND", "127.0.0.1:9100"),
	}

	if cfg.DBBackend != DatabaseSQLite && cfg.DBBackend != DatabasePostgres {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("BASSLINE_DB_DSN must be provided")
	}

	if len(cfg.MusicDirs) == 0 {
		return nil, fmt.Errorf("BASSLINE_MUSIC_DIRS must name at least one directory")
	}

	if cfg.ScanWorkers < 1 {
		cfg.ScanWorkers = 1
	}

	if cfg.AnalyzerTick <= 0 {
		cfg.AnalyzerTick = 16 * time.Millisecond
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"MUSIC_DIRS":  "use BASSLINE_MUSIC_DIRS",
		"HTTP_PORT":   "use BASSLINE_HTTP_PORT",
		"ENVIRONMENT": "use BASSLINE_ENV",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func splitList(raw string) []string {
	parts := strings.Split(raw, string(os.PathListSeparator))
	if len(parts) == 1 && strings.Contains(raw, ",") {
		parts = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}
