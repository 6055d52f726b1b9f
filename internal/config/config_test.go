package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 4533 {
		t.Fatalf("unexpected default http port: %d", cfg.HTTPPort)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected default db backend: %q", cfg.DBBackend)
	}
	if cfg.AnalyzerTick != 16*time.Millisecond {
		t.Fatalf("unexpected analyzer tick: %v", cfg.AnalyzerTick)
	}
}

func TestLoadSplitsMusicDirs(t *testing.T) {
	t.Setenv("BASSLINE_MUSIC_DIRS", "/srv/music,/home/me/flac")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.MusicDirs) != 2 {
		t.Fatalf("expected 2 music dirs, got %v", cfg.MusicDirs)
	}
	if cfg.MusicDirs[1] != "/home/me/flac" {
		t.Fatalf("unexpected second dir: %q", cfg.MusicDirs[1])
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BASSLINE_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for unknown backend")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("MUSIC_DIRS", "/srv/music")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
