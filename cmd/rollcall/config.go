package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/config"
	"github.com/rollcall/rollcall/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the rollcall config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteStarter(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("  Edit server_url, then run `rollcall login <identity-id>`\n")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		fmt.Printf("\n%s Configuration\n\n", ui.RenderAccent("⚙"))
		fmt.Printf("server_url:       %s\n", cfg.ServerURL)
		fmt.Printf("data_dir:         %s\n", cfg.DataDir)
		fmt.Printf("identity_id:      %s\n", cfg.IdentityID)
		fmt.Printf("sync_interval:    %v\n", cfg.SyncInterval)
		fmt.Printf("staleness_window: %v\n", cfg.StalenessWindow)
		fmt.Printf("probe_interval:   %v\n", cfg.ProbeInterval)
		fmt.Printf("bulk_threshold:   %d\n", cfg.BulkThreshold)
		if cfg.DashboardPort > 0 {
			fmt.Printf("dashboard_port:   %d\n", cfg.DashboardPort)
		}
		if cfg.LogFile != "" {
			fmt.Printf("log_file:         %s\n", cfg.LogFile)
		}
		fmt.Println()
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
