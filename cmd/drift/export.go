package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/offlinehq/driftsync/internal/export"
	"github.com/offlinehq/driftsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a JSONL snapshot of all local data",
	Long: `Export every local record and setting to a JSONL file.

The snapshot is self-contained and can be restored on another device with
'drift import'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := export.SnapshotFile(context.Background(), st, args[0])
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("%s Exported %d records and %d settings to %s\n",
			ui.RenderPass("✓"), result.Records, result.Settings, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore a JSONL snapshot into the local store",
	Long: `Merge a snapshot produced by 'drift export' into the local store.

Restored records are not queued for sync; they recreate local state without
replaying mutations against the remote.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := export.RestoreFile(context.Background(), st, args[0])
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("%s Imported %d records and %d settings\n",
			ui.RenderPass("✓"), result.Records, result.Settings)
		for _, skipped := range result.Skipped {
			fmt.Printf("   %s %s\n", ui.RenderWarn("skipped:"), skipped)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
