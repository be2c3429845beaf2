package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerURL != "https://api.treetop.app" {
		t.Errorf("Wrong default server URL: %s", cfg.ServerURL)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("Wrong default request timeout: %v", cfg.RequestTimeout)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("Wrong default sync interval: %v", cfg.SyncInterval)
	}
	if cfg.MaxCacheAgeDays != 30 || cfg.MaxCacheSizeMB != 200 {
		t.Errorf("Wrong maintenance defaults: %d days, %d MB", cfg.MaxCacheAgeDays, cfg.MaxCacheSizeMB)
	}
	if cfg.DashboardPort != 8080 {
		t.Errorf("Wrong default dashboard port: %d", cfg.DashboardPort)
	}
	if cfg.CacheDir == "" {
		t.Error("Cache dir must default to a real path")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `server_url: https://treetop.example.com
auth_token: secret
cache_dir: /tmp/tt-cache
sync_interval: 30s
dashboard_port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "https://treetop.example.com" {
		t.Errorf("Server URL not read: %s", cfg.ServerURL)
	}
	if cfg.AuthToken != "secret" {
		t.Errorf("Auth token not read: %s", cfg.AuthToken)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("Sync interval not parsed: %v", cfg.SyncInterval)
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("Dashboard port not read: %d", cfg.DashboardPort)
	}
	// Unset keys fall back to defaults.
	if cfg.MaxCacheAgeDays != 30 {
		t.Errorf("Default lost for unset key: %d", cfg.MaxCacheAgeDays)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for an explicit missing config file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TT_SERVER_URL", "https://env.example.com")
	t.Setenv("TT_DASHBOARD_PORT", "7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "https://env.example.com" {
		t.Errorf("Environment override ignored: %s", cfg.ServerURL)
	}
	if cfg.DashboardPort != 7777 {
		t.Errorf("Environment port override ignored: %d", cfg.DashboardPort)
	}
}

func TestQueuePath(t *testing.T) {
	cfg := &Config{CacheDir: "/data/tt"}
	if got := cfg.QueuePath(); got != filepath.Join("/data/tt", "queue.jsonl") {
		t.Errorf("Wrong queue path: %s", got)
	}
}
