// Command notesync keeps a git working copy in sync with its remote.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szagi3891/notatki-panel/internal/config"
	"github.com/szagi3891/notatki-panel/internal/ui"
)

var (
	v          = config.NewViper()
	configFile string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "notesync",
	Short: "Background git sync for a notes working copy",
	Long: `notesync keeps the current branch of a git working copy equal to its
remote-tracking branch.

Every few seconds it fetches, and when the branch and origin/<branch> differ
it tries a pull, then a rebase and push. When neither makes them equal it
stops syncing and waits for an operator to resolve the divergence and run
'notesync enable'.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	flags.String("repo", ".", "path inside the git working copy")
	flags.String("remote", "origin", "remote to sync with")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("http", config.DefaultHTTPAddress, "dashboard address; empty disables it")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	mustBind("repo", "repo")
	mustBind("remote", "remote")
	mustBind("log.level", "log-level")
	mustBind("http.address", "http")
}

func mustBind(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(v, configFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
