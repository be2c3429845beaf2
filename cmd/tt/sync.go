package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/treetopapp/treetop/internal/netmon"
	syncengine "github.com/treetopapp/treetop/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending changes and pull the full tree",
	Long: `Sync the local tree with the treetop server.

This drains the offline operation queue in dependency order (creates,
updates, task toggles, deletions), rewrites temporary ids to server
ids, then pulls the complete tree and reconciles it with local state.

When the server is unreachable the cached snapshot is used and the
queue stays intact for the next run.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := openComponents(cfg, nil)
		defer c.close()

		ctx := context.Background()

		// Assume reachable and let call failures route offline; the
		// prober would need a full interval to say the same thing.
		c.monitor.SetState(true, netmon.ClassUnknown)

		if err := c.engine.LoadFromCache(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache load failed: %v\n", err)
		}

		pending := c.queue.Len()
		fmt.Printf("Syncing with %s...\n", cfg.ServerURL)
		if pending > 0 {
			fmt.Printf("   Pending: %s\n", c.queue.Summary())
		}
		start := time.Now()

		if err := c.engine.SyncPendingOperations(ctx); err != nil {
			if errors.Is(err, syncengine.ErrNoCachedData) {
				fmt.Fprintln(os.Stderr, "Server unreachable and no cached data available yet.")
				fmt.Fprintln(os.Stderr, "Connect once to seed the cache, then 'tt sync' works offline.")
			} else {
				fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			}
			os.Exit(1)
		}

		elapsed := time.Since(start)
		nodes := c.engine.Snapshot()

		if advisory := c.engine.Advisory(); advisory != "" {
			fmt.Printf("   Note: %s\n", advisory)
		}
		fmt.Printf("Sync complete in %v\n", elapsed.Round(time.Millisecond))
		fmt.Printf("   Nodes: %d\n", len(nodes))
		fmt.Printf("   Remaining queue: %s\n", c.queue.Summary())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine and cache status",
	Long: `Display the current status of the local treetop state.

Shows:
  - Whether the server is reachable right now
  - Cache location, size and node count
  - Pending offline operations
  - Last sync time`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := openComponents(cfg, nil)
		defer c.close()

		ctx := context.Background()

		size, err := c.cache.Size()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot measure cache: %v\n", err)
		}

		meta, err := c.cache.LoadMetadata(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot read cache metadata: %v\n", err)
		}

		if c.monitor.CheckNow(ctx) {
			fmt.Printf("Server: %s (reachable)\n", cfg.ServerURL)
		} else {
			fmt.Printf("Server: %s (unreachable)\n", cfg.ServerURL)
		}
		fmt.Printf("Cache: %s (%.1f KB)\n", cfg.CacheDir, float64(size)/1024)
		if meta == nil {
			fmt.Println("   No snapshot cached yet; run 'tt sync'")
		} else {
			fmt.Printf("   Nodes: %d\n", meta.NodeCount)
			fmt.Printf("   Tags: %d\n", meta.TagCount)
			if !meta.LastSyncAt.IsZero() {
				fmt.Printf("   Last sync: %s\n", meta.LastSyncAt.Format(time.RFC3339))
			}
		}
		fmt.Printf("Queue: %s\n", c.queue.Summary())
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending offline operations",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := openComponents(cfg, nil)
		defer c.close()

		fmt.Println(c.queue.Summary())
		for _, op := range c.queue.Pending() {
			title := op.Meta["title"]
			if title == "" {
				title = op.NodeID
			}
			fmt.Printf("   %-12s %-30q %s\n", op.Type, title, op.EnqueuedAt.Format(time.RFC3339))
		}
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run cache maintenance (age and size eviction)",
	Long: `Evict stale and oversized cache artifacts.

Age-based cleanup runs first, then oldest-first eviction until the
cache fits the configured size budget. The nodes snapshot, its WAL
sidecars and the operation queue log are never evicted.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		c := openComponents(cfg, nil)
		defer c.close()

		before, _ := c.cache.Size()
		result := c.cache.PerformMaintenance(cfg.MaxCacheAgeDays, cfg.MaxCacheSizeMB)
		after, _ := c.cache.Size()

		fmt.Printf("Maintenance complete\n")
		fmt.Printf("   Files removed: %d\n", result.FilesRemoved)
		fmt.Printf("   Cache size: %.1f KB -> %.1f KB\n", float64(before)/1024, float64(after)/1024)
	},
}
