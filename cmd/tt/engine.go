package main

import (
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/treetopapp/treetop/internal/cache"
	"github.com/treetopapp/treetop/internal/config"
	"github.com/treetopapp/treetop/internal/netmon"
	"github.com/treetopapp/treetop/internal/queue"
	"github.com/treetopapp/treetop/internal/remote"
	syncengine "github.com/treetopapp/treetop/internal/sync"
)

// components bundles the wired engine and its collaborators so
// commands can tear them down in one place.
type components struct {
	cfg     *config.Config
	cache   *cache.Store
	queue   *queue.Queue
	monitor *netmon.Prober
	engine  *syncengine.Engine
}

// openComponents wires the engine from configuration or exits.
func openComponents(cfg *config.Config, logger *log.Logger) *components {
	store, err := cache.Open(cfg.CacheDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	store.MaxAgeDays = cfg.MaxCacheAgeDays
	store.MaxSizeMB = cfg.MaxCacheSizeMB
	store.AutoMaintenanceBytes = int64(cfg.MaxCacheSizeMB) * 1024 * 1024

	q, err := queue.Open(cfg.QueuePath(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening queue: %v\n", err)
		os.Exit(1)
	}

	client := remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.ServerURL,
		Token:   cfg.AuthToken,
		Timeout: cfg.RequestTimeout,
	})

	monitor := netmon.NewProber(netmon.ProberConfig{
		Addr:     probeAddr(cfg.ServerURL),
		Interval: cfg.ProbeInterval,
		Logger:   logger,
	})

	engine := syncengine.New(client, q, store, monitor, syncengine.Options{
		Logger:  logger,
		OwnerID: cfg.OwnerID,
	})

	return &components{
		cfg:     cfg,
		cache:   store,
		queue:   q,
		monitor: monitor,
		engine:  engine,
	}
}

func (c *components) close() {
	if err := c.cache.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close cache: %v\n", err)
	}
}

// probeAddr derives the host:port the connectivity prober dials.
func probeAddr(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "api.treetop.app:443"
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Host + ":80"
	}
	return u.Host + ":443"
}
