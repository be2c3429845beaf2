// Package config loads treetop client configuration.
//
// Settings come from, in increasing precedence: built-in defaults, the
// config file (~/.treetop/config.yaml by default), and TT_* environment
// variables (e.g. TT_SERVER_URL).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the client engine.
type Config struct {
	// ServerURL is the treetop API root.
	ServerURL string `mapstructure:"server_url"`

	// AuthToken is the bearer token for API calls.
	AuthToken string `mapstructure:"auth_token"`

	// CacheDir holds the snapshot database and queue log.
	CacheDir string `mapstructure:"cache_dir"`

	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// SyncInterval is the daemon's periodic full-sync cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// MaxCacheAgeDays and MaxCacheSizeMB bound cache maintenance.
	MaxCacheAgeDays int `mapstructure:"max_cache_age_days"`
	MaxCacheSizeMB  int `mapstructure:"max_cache_size_mb"`

	// DashboardPort is where `tt dashboard` listens.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives daemon logs (rotated). Empty means stderr.
	LogFile string `mapstructure:"log_file"`

	// OwnerID identifies this install in cache metadata.
	OwnerID string `mapstructure:"owner_id"`
}

// DefaultDir returns the default treetop home directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".treetop"
	}
	return filepath.Join(home, ".treetop")
}

// Load reads configuration. An empty path uses the default location; a
// missing config file is not an error, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	dir := DefaultDir()
	v.SetDefault("server_url", "https://api.treetop.app")
	v.SetDefault("auth_token", "")
	v.SetDefault("cache_dir", filepath.Join(dir, "cache"))
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("probe_interval", 3*time.Second)
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("max_cache_age_days", 30)
	v.SetDefault("max_cache_size_mb", 200)
	v.SetDefault("dashboard_port", 8080)
	v.SetDefault("log_file", "")
	v.SetDefault("owner_id", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("TT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The default location is allowed to be absent; an explicit
		// path is not, and surfaces as a path error here.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// QueuePath returns the operation queue's log file location. It lives
// inside the cache directory so cache maintenance can protect it.
func (c *Config) QueuePath() string {
	return filepath.Join(c.CacheDir, "queue.jsonl")
}
