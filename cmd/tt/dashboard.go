package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treetopapp/treetop/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start a real-time WebSocket dashboard for the sync engine",
	Long: `Start a WebSocket dashboard server that broadcasts engine activity.

Connected clients receive live messages as the engine works:
- node_update: the tree changed (local mutation or server reconcile)
- queue_update: pending offline operations changed
- sync_started / sync_complete: full sync lifecycle
- connectivity: network came up or went down
- advisory: user-facing engine notices
- stats: node counts, task completion, queue depth

Example usage:
  tt dashboard                   # Start on default port 8080
  tt dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.DashboardPort
		}

		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)

		c := openComponents(cfg, logger)
		defer c.close()

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Run the engine alongside the server so there is something to
		// broadcast: prime from cache, then let the monitor drive syncs.
		c.monitor.Start(ctx)
		c.engine.Start(ctx)
		if err := c.engine.LoadFromCache(ctx); err != nil {
			logger.Printf("Warning: cache load failed: %v", err)
		}

		handler := dashboard.NewHandler(server, c.engine, logger)
		go handler.Run(ctx)

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		c.engine.Stop()
		c.monitor.Stop()
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
}
