package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/offlinehq/driftsync/internal/ui"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all local data",
	Long: `Delete every local record, queued action, and setting.

Remote data is untouched; a later sync with a bound user re-downloads it.
Queued-but-unpushed local changes are lost permanently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Wipe all local data?").
					Description("Unpushed local changes will be lost permanently.").
					Affirmative("Wipe").
					Negative("Cancel").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Printf("%s Reset cancelled\n", ui.RenderMuted("·"))
				return nil
			}
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ClearAll(context.Background()); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}

		fmt.Printf("%s Local data wiped\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
