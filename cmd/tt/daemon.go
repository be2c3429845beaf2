package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/treetopapp/treetop/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the treetop sync daemon in the foreground.

The daemon watches connectivity and the cache directory:
- when the network comes back, pending offline operations are replayed
- when another process rewrites the snapshot, local state is reloaded
- a full reconciling sync runs on a fixed interval

With --log-file (or log_file in the config) daemon output goes to a
size-rotated log instead of stderr.

Example usage:
  tt daemon                        # log to stderr
  tt daemon --log-file tt.log      # rotate at 10 MB, keep 3 files`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		logFile, _ := cmd.Flags().GetString("log-file")
		if logFile == "" {
			logFile = cfg.LogFile
		}

		var out io.Writer = os.Stderr
		if logFile != "" {
			out = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
		}
		logger := log.New(out, "[daemon] ", log.LstdFlags)

		c := openComponents(cfg, logger)
		defer c.close()

		dcfg := daemon.DefaultConfig()
		dcfg.Logger = logger
		if cfg.SyncInterval > 0 {
			dcfg.SyncInterval = cfg.SyncInterval
		}

		d, err := daemon.New(c.engine, c.monitor, cfg.CacheDir, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Treetop daemon started (server %s, cache %s)\n", cfg.ServerURL, cfg.CacheDir)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start blocks and shuts down on its own when ctx is cancelled.
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: daemon failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().String("log-file", "", "write daemon logs to a rotated file")
}
