package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/szagi3891/notatki-panel/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "inspect",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
NOTESYNC_* environment variables and flags. The output can be saved and
passed back with --config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		return renderConfig(cmd.OutOrStdout(), cfg, format)
	},
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "yaml", "output format: yaml, toml or json")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func renderConfig(w io.Writer, cfg *config.Config, format string) error {
	m := cfg.AsMap()
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(m)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	default:
		return fmt.Errorf("unknown format %q (want yaml, toml or json)", format)
	}
}
