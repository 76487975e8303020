package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szagi3891/notatki-panel/internal/ui"
	"github.com/szagi3891/notatki-panel/internal/vcs"
	"github.com/szagi3891/notatki-panel/internal/vcs/git"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "inspect",
	Short:   "Verify the repository can be synced",
	Long: `Run the checks 'notesync run' performs before starting: git is installed
and recent enough, the path is inside a working copy and the remote exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		repo, err := git.New(cmd.Context(), cfg.Repo,
			git.WithBinary(cfg.GitBinary),
			git.WithExecutor(vcs.NewExecutor(cfg.Sync.CommandTimeout)),
		)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", ui.RenderFail("✗"), err)
			printHint(out, err)
			return err
		}

		report, err := repo.Preflight(cmd.Context(), cfg.Remote)
		printPreflight(out, report)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", ui.RenderFail("✗"), err)
			printHint(out, err)
			return err
		}

		fmt.Fprintf(out, "%s Ready to sync\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// preflightHint suggests a fix for setup errors that retrying cannot cure.
func preflightHint(err error) string {
	switch {
	case errors.Is(err, vcs.ErrNoRemote):
		return "add it with 'git remote add' or pick another with --remote"
	case !vcs.IsFatal(err):
		return ""
	case errors.Is(err, vcs.ErrVCSNotAvailable):
		return "install git or set git_binary to its path"
	case errors.Is(err, vcs.ErrUnsupportedVersion):
		return "upgrade git to " + strings.TrimPrefix(git.MinVersion, "v") + " or newer"
	case errors.Is(err, vcs.ErrNotInVCS):
		return "point --repo at a git working copy"
	}
	return ""
}

func printHint(w io.Writer, err error) {
	if hint := preflightHint(err); hint != "" {
		fmt.Fprintf(w, "%s %s\n", ui.RenderMuted("hint:"), hint)
	}
}
