package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rollcall/rollcall/internal/config"
	"github.com/rollcall/rollcall/internal/connectivity"
	"github.com/rollcall/rollcall/internal/daemon"
	"github.com/rollcall/rollcall/internal/dashboard"
	"github.com/rollcall/rollcall/internal/ui"
)

var (
	daemonInterval  time.Duration
	daemonDashboard bool
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon syncs at startup, on a fixed interval, and whenever the
attendance service becomes reachable again after an outage. Edits to
the config file's sync_interval take effect without a restart.

With --dashboard (or dashboard_port in the config) a local status
server streams sync events over WebSocket for UI widgets.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(true)
		defer e.Close()

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if e.cfg.LogFile != "" {
			logger = log.New(&lumberjack.Logger{
				Filename:   e.cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}, "[daemon] ", log.LstdFlags)
		}

		monitor := connectivity.NewMonitor(e.cfg.ServerURL+"/health", e.cfg.ProbeInterval, logger)

		dcfg := &daemon.Config{
			SyncInterval: e.cfg.SyncInterval,
			ConfigPath:   configFilePath(),
			Logger:       logger,
		}
		if daemonInterval > 0 {
			dcfg.SyncInterval = daemonInterval
		}
		if daemonDashboard || e.cfg.DashboardPort > 0 {
			port := e.cfg.DashboardPort
			if port == 0 {
				port = 8377
			}
			dcfg.Dashboard = dashboard.NewServer(port, e.engine, logger)
		}

		d, err := daemon.New(e.engine, monitor, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		monitor.Start(ctx)
		defer monitor.Stop()

		fmt.Printf("%s Starting sync daemon (interval: %v)\n", ui.RenderAccent("🚀"), dcfg.SyncInterval)
		if dcfg.Dashboard != nil {
			fmt.Printf("   Dashboard: http://%s\n", dcfg.Dashboard.Addr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

// configFilePath returns the config file the daemon should watch.
func configFilePath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

func init() {
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0,
		"override the sync interval for this run")
	daemonCmd.Flags().BoolVar(&daemonDashboard, "dashboard", false,
		"serve the local status dashboard")
	rootCmd.AddCommand(daemonCmd)
}
