// Package daemon runs the sync engine in the background.
//
// The daemon:
// 1. Starts the connectivity monitor and subscribes the engine to it
// 2. Watches the cache directory so a snapshot written by another
//    process of the same app triggers an in-memory reload
// 3. Periodically performs a full reconciling sync
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/treetopapp/treetop/internal/cache"
	"github.com/treetopapp/treetop/internal/netmon"
	syncengine "github.com/treetopapp/treetop/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a full reconciling sync
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before reacting to cache
	// file changes, batching rapid writes together
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the monitor, the engine and the cache watcher.
type Daemon struct {
	engine   *syncengine.Engine
	monitor  *netmon.Prober
	cacheDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon over an engine, its monitor, and the cache
// directory to watch.
func New(engine *syncengine.Engine, monitor *netmon.Prober, cacheDir string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cacheDir == "" {
		return nil, fmt.Errorf("cacheDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      engine,
		monitor:     monitor,
		cacheDir:    cacheDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.monitor != nil {
		d.monitor.Start(d.ctx)
	}
	d.engine.Start(d.ctx)

	// Prime the collection from the cache, then reconcile.
	if err := d.engine.LoadFromCache(d.ctx); err != nil {
		d.config.Logger.Printf("Warning: cache load failed: %v", err)
	}
	if _, err := d.engine.SyncAllData(d.ctx); err != nil && err != syncengine.ErrNoCachedData {
		d.config.Logger.Printf("Warning: initial sync failed: %v", err)
	}

	if err := d.watcher.Add(d.cacheDir); err != nil {
		return fmt.Errorf("failed to watch cache directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.cacheDir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.engine.Stop()
	if d.monitor != nil {
		d.monitor.Stop()
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents queues cache file changes for debounced processing.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !d.relevant(event) {
				continue
			}
			d.changeQueueMu.Lock()
			d.changeQueue[event.Name] = time.Now()
			d.changeQueueMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// relevant filters watcher events down to snapshot writes. The engine's
// own saves also land here; the debounce plus reload being idempotent
// makes the extra reload harmless.
func (d *Daemon) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	return name == cache.DBFileName || strings.HasPrefix(name, cache.DBFileName+"-")
}

// processChangeQueue drains debounced changes into an engine reload.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.changeQueueMu.Lock()
			ready := false
			cutoff := time.Now().Add(-d.config.DebounceInterval)
			for path, ts := range d.changeQueue {
				if ts.Before(cutoff) {
					delete(d.changeQueue, path)
					ready = true
				}
			}
			d.changeQueueMu.Unlock()

			if !ready {
				continue
			}
			if err := d.engine.LoadFromCache(d.ctx); err != nil {
				d.config.Logger.Printf("Warning: reload after cache change failed: %v", err)
			}
		}
	}
}

// periodicSync runs a full reconciling sync on the configured interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	if d.config.SyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.engine.SyncPendingOperations(d.ctx); err != nil {
				d.config.Logger.Printf("Warning: periodic sync failed: %v", err)
			}
		}
	}
}
