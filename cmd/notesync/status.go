package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/szagi3891/notatki-panel/internal/dashboard"
	"github.com/szagi3891/notatki-panel/internal/engine"
	"github.com/szagi3891/notatki-panel/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "inspect",
	Short:   "Show the state of a running sync loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newAPIClient(cfg.HTTP.Address)
		if err != nil {
			return err
		}

		st, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStatus(cmd.OutOrStdout(), st, time.Now())
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print raw JSON")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(w io.Writer, st *dashboard.StatusResponse, now time.Time) {
	e := st.Engine

	state := ui.RenderPass("enabled")
	if !e.Enabled {
		state = ui.RenderFail("disabled")
		if e.EnableRequested {
			state += ui.RenderMuted(" (re-enable pending)")
		}
	}
	fmt.Fprintf(w, "%s %s\n", ui.RenderLabel("Sync"), state)
	fmt.Fprintf(w, "%s %s\n", ui.RenderLabel("Phase"), e.Phase)
	fmt.Fprintf(w, "%s %s every %s\n", ui.RenderLabel("Remote"), e.Remote, e.Interval)
	if !e.LastSyncAt.IsZero() {
		fmt.Fprintf(w, "%s %s ago\n", ui.RenderLabel("Last attempt"), now.Sub(e.LastSyncAt).Round(time.Second))
	}
	fmt.Fprintf(w, "%s %d\n", ui.RenderLabel("Queued"), e.QueueLength)

	if c := e.LastCycle; c != nil {
		fmt.Fprintf(w, "%s %s on %s\n", ui.RenderLabel("Last cycle"), renderOutcome(c.Outcome), ui.RenderAccent(c.Branch))
		if c.Tracking != "" || c.Local != "" {
			fmt.Fprintf(w, "%s tracking %s, local %s\n", ui.RenderLabel("Commits"), c.Tracking.Short(), c.Local.Short())
		}
		if c.Error != "" {
			fmt.Fprintf(w, "%s %s\n", ui.RenderLabel("Error"), ui.RenderFail(c.Error))
		}
	}

	if st.Loop != nil {
		fmt.Fprintf(w, "%s %d ticks, %d failed\n", ui.RenderLabel("Loop"), st.Loop.Ticks, st.Loop.Failures)
	}

	if !e.Enabled && !e.EnableRequested {
		fmt.Fprintf(w, "\n%s Resolve the divergence, then run 'notesync enable'\n", ui.RenderWarn("⚠"))
	}
}

func renderOutcome(o engine.Outcome) string {
	switch o {
	case engine.OutcomeInSync, engine.OutcomePulled, engine.OutcomeRebased:
		return ui.RenderPass(string(o))
	case engine.OutcomeDisabled, engine.OutcomeFailed:
		return ui.RenderFail(string(o))
	default:
		return string(o)
	}
}
