package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szagi3891/notatki-panel/internal/ui"
)

var enableCmd = &cobra.Command{
	Use:     "enable",
	GroupID: "sync",
	Short:   "Re-enable a sync loop that gave up",
	Long: `Ask the running loop to resume syncing after it disabled itself.

Resolve the divergence between the branch and its remote-tracking branch
first, otherwise the next cycle will disable syncing again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newAPIClient(cfg.HTTP.Address)
		if err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && ui.IsTerminal(os.Stdin) {
			ok, err := ui.Confirm("Resume syncing?", "Make sure the branch divergence has been resolved.")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
		}

		resp, err := client.Enable(cmd.Context())
		if err != nil {
			return err
		}
		if !resp.Requested {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Sync is already enabled\n", ui.RenderPass("✓"))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Re-enable requested; the loop applies it on its next tick\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	enableCmd.Flags().BoolP("yes", "y", false, "skip confirmation")
	rootCmd.AddCommand(enableCmd)
}
