// Package config loads notesync settings from defaults, an optional config
// file, NOTESYNC_* environment variables and command-line flags, in that
// order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// NOTESYNC_SYNC_INTERVAL for sync.interval.
const EnvPrefix = "NOTESYNC"

// Config is the complete runtime configuration.
type Config struct {
	Repo      string        `mapstructure:"repo"`
	Remote    string        `mapstructure:"remote"`
	GitBinary string        `mapstructure:"git_binary"`
	Sync      SyncConfig    `mapstructure:"sync"`
	Watch     WatchConfig   `mapstructure:"watch"`
	HTTP      HTTPConfig    `mapstructure:"http"`
	History   HistoryConfig `mapstructure:"history"`
	Lock      LockConfig    `mapstructure:"lock"`
	Log       LogConfig     `mapstructure:"log"`
}

// SyncConfig controls the engine and its loop.
type SyncConfig struct {
	// Interval is the minimum spacing between reconciliation attempts
	Interval time.Duration `mapstructure:"interval"`

	// Tick is the pause between loop iterations
	Tick time.Duration `mapstructure:"tick"`

	// CommandTimeout bounds every git invocation; zero disables the bound
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// WatchConfig controls the working-copy auto-commit watcher.
type WatchConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Debounce      time.Duration `mapstructure:"debounce"`
	CommitMessage string        `mapstructure:"commit_message"`
}

// HTTPConfig controls the dashboard server. An empty address disables it.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

// HistoryConfig controls the cycle history store. An empty path disables it.
type HistoryConfig struct {
	Path string `mapstructure:"path"`

	// Retention is how long cycles are kept; zero keeps them forever
	Retention time.Duration `mapstructure:"retention"`
}

// LockConfig controls the single-instance lock.
type LockConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultHTTPAddress is where the dashboard listens by default.
const DefaultHTTPAddress = "127.0.0.1:7420"

// DefaultHistoryPath returns the default history database location.
func DefaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "notesync", "history.db")
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("repo", ".")
	v.SetDefault("remote", "origin")
	v.SetDefault("git_binary", "git")

	v.SetDefault("sync.interval", 5*time.Second)
	v.SetDefault("sync.tick", 100*time.Millisecond)
	v.SetDefault("sync.command_timeout", 30*time.Second)

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("watch.commit_message", "notesync: auto-commit local changes")

	v.SetDefault("http.address", DefaultHTTPAddress)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention", 7*24*time.Hour)
	v.SetDefault("lock.dir", os.TempDir())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Repo != "" {
		abs, err := filepath.Abs(cfg.Repo)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve repo path: %w", err)
		}
		cfg.Repo = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Repo == "" {
		errs = append(errs, errors.New("repo is required"))
	}
	if strings.TrimSpace(c.Remote) == "" || strings.ContainsAny(c.Remote, " \t/") {
		errs = append(errs, fmt.Errorf("remote %q is not a valid remote name", c.Remote))
	}
	if c.GitBinary == "" {
		errs = append(errs, errors.New("git_binary is required"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.Tick <= 0 {
		errs = append(errs, fmt.Errorf("sync.tick must be positive, got %s", c.Sync.Tick))
	}
	if c.Sync.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("sync.command_timeout must not be negative, got %s", c.Sync.CommandTimeout))
	}
	if c.Watch.Enabled {
		if c.Watch.Debounce <= 0 {
			errs = append(errs, fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce))
		}
		if strings.TrimSpace(c.Watch.CommitMessage) == "" {
			errs = append(errs, errors.New("watch.commit_message is required when watch is enabled"))
		}
	}
	if c.History.Retention < 0 {
		errs = append(errs, fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// AsMap renders the configuration for display, with durations as strings.
func (c *Config) AsMap() map[string]any {
	return map[string]any{
		"repo":       c.Repo,
		"remote":     c.Remote,
		"git_binary": c.GitBinary,
		"sync": map[string]any{
			"interval":        c.Sync.Interval.String(),
			"tick":            c.Sync.Tick.String(),
			"command_timeout": c.Sync.CommandTimeout.String(),
		},
		"watch": map[string]any{
			"enabled":        c.Watch.Enabled,
			"debounce":       c.Watch.Debounce.String(),
			"commit_message": c.Watch.CommitMessage,
		},
		"http":    map[string]any{"address": c.HTTP.Address},
		"history": map[string]any{
			"path":      c.History.Path,
			"retention": c.History.Retention.String(),
		},
		"lock":    map[string]any{"dir": c.Lock.Dir},
		"log": map[string]any{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
}
