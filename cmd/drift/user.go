package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/offlinehq/driftsync/internal/store"
	"github.com/offlinehq/driftsync/internal/ui"
)

var userCmd = &cobra.Command{
	Use:   "user [id]",
	Short: "Show or set the active user",
	Long: `Bind pull queries to one owner id.

Without arguments the current binding is printed. 'drift user --clear'
unbinds, which turns the pull phase into a no-op.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		clear, _ := cmd.Flags().GetBool("clear")

		switch {
		case clear:
			if err := st.DeleteSetting(ctx, store.SettingActiveUser); err != nil {
				return err
			}
			fmt.Printf("%s Active user cleared\n", ui.RenderPass("✓"))

		case len(args) == 1:
			if err := st.SetSetting(ctx, store.SettingActiveUser, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Active user set to %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]))

		default:
			user, err := st.GetSetting(ctx, store.SettingActiveUser)
			if err != nil {
				return err
			}
			if user == "" {
				fmt.Printf("%s No active user bound (pull is disabled)\n", ui.RenderWarn("⚠"))
				return nil
			}
			fmt.Printf("Active user: %s\n", ui.RenderAccent(user))
		}
		return nil
	},
}

func init() {
	userCmd.Flags().Bool("clear", false, "unbind the active user")
	rootCmd.AddCommand(userCmd)
}
