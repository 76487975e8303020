package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/szagi3891/notatki-panel/internal/engine"
	"github.com/szagi3891/notatki-panel/internal/history"
	"github.com/szagi3891/notatki-panel/internal/ui"
	"github.com/szagi3891/notatki-panel/internal/vcs/git"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "inspect",
	Short:   "List past reconciliation cycles",
	Long: `List reconciliation cycles recorded by 'notesync run', newest first.

--since accepts a duration ("2h"), a timestamp ("2026-03-01T10:00:00Z") or
plain English ("yesterday", "3 days ago", "last monday").

--stages lists the git steps of every cycle. A per-outcome total over the
whole retained history follows the list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Path == "" {
			return fmt.Errorf("history.path is empty; history is disabled")
		}

		sinceText, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		outcome, _ := cmd.Flags().GetString("outcome")
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")
		withStages, _ := cmd.Flags().GetBool("stages")

		filter := history.Filter{Limit: limit, Outcome: engine.Outcome(outcome)}
		if sinceText != "" {
			since, err := parseSince(sinceText, time.Now())
			if err != nil {
				return err
			}
			filter.Since = since
		}
		if !all {
			// Cycles are recorded under the repository root
			filter.Repo = cfg.Repo
			if repo, err := git.New(cmd.Context(), cfg.Repo, git.WithBinary(cfg.GitBinary)); err == nil {
				filter.Repo = repo.Root()
			}
		}

		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		cycles, err := store.ListCycles(cmd.Context(), filter)
		if err != nil {
			return err
		}

		var stages map[string][]history.StageRecord
		if withStages {
			stages = make(map[string][]history.StageRecord, len(cycles))
			for _, c := range cycles {
				if stages[c.ID], err = store.Stages(cmd.Context(), c.ID); err != nil {
					return err
				}
			}
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if !withStages {
				return enc.Encode(cycles)
			}
			out := make([]cycleWithStages, 0, len(cycles))
			for _, c := range cycles {
				out = append(out, cycleWithStages{Cycle: c, Stages: stages[c.ID]})
			}
			return enc.Encode(out)
		}

		counts, err := store.CountByOutcome(cmd.Context(), filter.Repo)
		if err != nil {
			return err
		}
		printCycles(cmd.OutOrStdout(), cycles, stages)
		printOutcomeCounts(cmd.OutOrStdout(), counts)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("since", "", "only cycles started after this time")
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of cycles (0 = all)")
	historyCmd.Flags().String("outcome", "", "only cycles with this outcome (in_sync, pulled, rebased, disabled, failed)")
	historyCmd.Flags().Bool("all", false, "include every repository")
	historyCmd.Flags().Bool("json", false, "print JSON")
	historyCmd.Flags().Bool("stages", false, "show the git steps of each cycle")
	rootCmd.AddCommand(historyCmd)
}

// parseSince resolves text relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)

	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, text, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

type cycleWithStages struct {
	history.Cycle
	Stages []history.StageRecord `json:"stages"`
}

// printCycles lists cycles; stages, when non-nil, are indented below each.
func printCycles(w io.Writer, cycles []history.Cycle, stages map[string][]history.StageRecord) {
	if len(cycles) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No cycles recorded"))
		return
	}
	for _, c := range cycles {
		line := fmt.Sprintf("%s  %-9s %-10s %s..%s  %s",
			c.StartedAt.Local().Format("2006-01-02 15:04:05"),
			c.Branch,
			renderOutcome(c.Outcome),
			c.Tracking.Short(),
			c.Local.Short(),
			ui.RenderMuted(c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond).String()),
		)
		if c.Error != "" {
			line += "  " + ui.RenderFail(c.Error)
		}
		fmt.Fprintln(w, line)

		for _, st := range stages[c.ID] {
			printStage(w, st)
		}
	}
}

func printStage(w io.Writer, st history.StageRecord) {
	line := fmt.Sprintf("    %-8s", st.Stage)
	if st.Command != "" {
		line += " " + st.Command
		status := ui.RenderPass(fmt.Sprintf("exit %d", st.ExitCode))
		if st.ExitCode != 0 {
			status = ui.RenderWarn(fmt.Sprintf("exit %d", st.ExitCode))
		}
		line += "  " + status
	}
	if st.Duration > 0 {
		line += "  " + ui.RenderMuted(st.Duration.String())
	}
	if st.Error != "" {
		line += "  " + ui.RenderFail(st.Error)
	}
	fmt.Fprintln(w, line)
}

// printOutcomeCounts writes one summary line in a fixed outcome order.
func printOutcomeCounts(w io.Writer, counts map[engine.Outcome]int) {
	total := 0
	var parts []string
	for _, o := range []engine.Outcome{
		engine.OutcomeInSync,
		engine.OutcomePulled,
		engine.OutcomeRebased,
		engine.OutcomeDisabled,
		engine.OutcomeFailed,
	} {
		if n := counts[o]; n > 0 {
			total += n
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	if total == 0 {
		return
	}
	fmt.Fprintf(w, "%s %d cycles: %s\n", ui.RenderLabel("Total"), total, strings.Join(parts, ", "))
}
