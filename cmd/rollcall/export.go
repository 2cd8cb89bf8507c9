package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/backup"
	"github.com/rollcall/rollcall/internal/ui"
)

var exportStdout bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the local mirror as JSONL",
	Long: `Write every mirrored row as one JSON line, parent tables first.

The same snapshot format is written automatically before a sign-in
discards another identity's local data.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv(false)
		defer e.Close()
		ctx := cmd.Context()

		if exportStdout {
			stats, err := backup.Export(ctx, e.store.RawDB(), os.Stdout)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d row(s)\n", ui.RenderPass("✓"), stats.Rows)
			return
		}

		path, stats, err := backup.ExportFile(ctx, e.store.RawDB(), e.cfg.BackupDir())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Exported %d row(s) to %s\n", ui.RenderPass("✓"), stats.Rows, path)
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportStdout, "stdout", false, "write to stdout instead of the backup directory")
	rootCmd.AddCommand(exportCmd)
}
