package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("database.type = %q, want sqlite", cfg.Database.Type)
	}
	if cfg.Update.Mode != "manual" {
		t.Errorf("update.mode = %q, want manual", cfg.Update.Mode)
	}
	if cfg.Update.IntervalSeconds != 3600 {
		t.Errorf("update.interval_seconds = %d, want 3600", cfg.Update.IntervalSeconds)
	}
	if cfg.Update.StaleHours != 24 {
		t.Errorf("update.stale_hours = %d, want 24", cfg.Update.StaleHours)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should be enabled by default")
	}
	if cfg.Filters.MaxResults != 5000 {
		t.Errorf("filters.max_results = %d, want 5000", cfg.Filters.MaxResults)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  type: libsql
  url: http://localhost:8080
update:
  mode: continuous
  interval_seconds: 120
filters:
  min_length: 300
  group_shows: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Type != "libsql" || cfg.Database.URL != "http://localhost:8080" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Update.Mode != "continuous" || cfg.Update.IntervalSeconds != 120 {
		t.Errorf("update = %+v", cfg.Update)
	}
	if cfg.Filters.MinLength != 300 || !cfg.Filters.GroupShows {
		t.Errorf("filters = %+v", cfg.Filters)
	}
	// untouched keys keep their defaults
	if cfg.Update.BackoffSeconds != 60 {
		t.Errorf("update.backoff_seconds = %d, want 60", cfg.Update.BackoffSeconds)
	}
}

func TestLoadRejectsBrokenConfig(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing explicit config file must fail")
	}

	write := func(content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		return path
	}

	if _, err := Load(write("database:\n  type: oracle\n")); err == nil {
		t.Error("unknown backend type must fail validation")
	}
	if _, err := Load(write("database:\n  type: libsql\n")); err == nil {
		t.Error("libsql without url must fail validation")
	}
	if _, err := Load(write("update:\n  mode: sometimes\n")); err == nil {
		t.Error("unknown update mode must fail validation")
	}
}
