package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/syncer"
	"github.com/rollcall/rollcall/internal/ui"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync pending attendance with the service",
	Long: `Run one sync attempt now.

Pulls fresh reference data (assignments, classes, rosters, subjects)
when the local mirror is stale, then pushes every pending attendance
record. Use --force to refresh reference data even when it is fresh.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(true)
		defer e.Close()

		var (
			result *syncer.Result
			err    error
		)
		if syncForce {
			result, err = e.engine.ForceSync(cmd.Context())
		} else {
			result, err = e.engine.TrySync(cmd.Context(), syncer.TriggerManual)
		}

		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			fmt.Printf("%s Another sync is already running\n", ui.RenderWarn("⚠"))
			return
		case err != nil:
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}

		fmt.Printf("%s %s\n", ui.RenderPass("✓"), result.Summary())
		if result.Push != nil {
			for _, rowErr := range result.Push.Errors {
				fmt.Printf("  %s %s/%s: %s\n", ui.RenderFail("✗"), rowErr.Table, rowErr.ID, rowErr.Msg)
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show pending records and last sync outcome",
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(false)
		defer e.Close()

		status, err := e.engine.Status(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📋"))
		if status.Syncing {
			fmt.Printf("State: %s\n", ui.RenderAccent("syncing now"))
		} else {
			fmt.Printf("State: idle\n")
		}
		fmt.Printf("Pending: %d record(s) (%d teacher, %d student)\n",
			status.Pending.Total, status.Pending.Teacher, status.Pending.Student)

		for _, entry := range status.Ledger {
			line := fmt.Sprintf("%-10s", entry.TableGroup)
			if entry.LastSyncedAt != nil {
				line += fmt.Sprintf(" last synced %s", entry.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
			} else {
				line += " never synced"
			}
			if entry.LastError != "" {
				line += fmt.Sprintf("  %s %s", ui.RenderFail("✗"), entry.LastError)
			}
			fmt.Printf("  %s\n", line)
		}

		fmt.Printf("Last attempt: %s\n\n", status.LastResult.Summary())
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"refresh reference data even if pulled within the staleness window")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
