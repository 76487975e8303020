package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/szagi3891/notatki-panel/internal/config"
	"github.com/szagi3891/notatki-panel/internal/daemon"
	"github.com/szagi3891/notatki-panel/internal/dashboard"
	"github.com/szagi3891/notatki-panel/internal/engine"
	"github.com/szagi3891/notatki-panel/internal/history"
	"github.com/szagi3891/notatki-panel/internal/lock"
	"github.com/szagi3891/notatki-panel/internal/logging"
	"github.com/szagi3891/notatki-panel/internal/metrics"
	"github.com/szagi3891/notatki-panel/internal/queue"
	"github.com/szagi3891/notatki-panel/internal/ui"
	"github.com/szagi3891/notatki-panel/internal/vcs"
	"github.com/szagi3891/notatki-panel/internal/vcs/git"
	"github.com/szagi3891/notatki-panel/internal/watch"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync loop in the foreground",
	Long: `Run the sync loop until interrupted.

The loop wakes every tick (100ms by default), runs any queued actions and,
at most once per interval (5s by default), reconciles the current branch
with <remote>/<branch>:

  1. fetch
  2. compare; done when equal
  3. pull, then merge --abort; done when equal
  4. rebase, then rebase --abort, then push; done when equal
  5. otherwise disable syncing until 'notesync enable'

With --watch, edits in the working copy are committed automatically after
a quiet period and pushed by the next cycle.

Cycles are recorded in the history database and pruned once they are older
than --retention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
		defer stop()

		return runSync(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().Bool("watch", false, "auto-commit working copy changes")
	runCmd.Flags().Duration("interval", engine.DefaultInterval, "minimum time between reconciliation attempts")
	runCmd.Flags().String("history", "", "history database path (default in the user cache dir)")
	runCmd.Flags().Duration("retention", history.DefaultRetention, "how long to keep history (0 keeps everything)")

	for key, flag := range map[string]string{
		"watch.enabled":     "watch",
		"sync.interval":     "interval",
		"history.path":      "history",
		"history.retention": "retention",
	} {
		if err := v.BindPFlag(key, runCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(runCmd)
}

// runSync wires every component and blocks until ctx is done.
func runSync(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	repo, err := git.New(ctx, cfg.Repo,
		git.WithBinary(cfg.GitBinary),
		git.WithExecutor(vcs.NewExecutor(cfg.Sync.CommandTimeout)),
	)
	if err != nil {
		printHint(out, err)
		return err
	}

	lk, err := lock.Acquire(cfg.Lock.Dir, repo.Root())
	if err != nil {
		return err
	}
	defer lk.Release()

	report, err := repo.Preflight(ctx, cfg.Remote)
	if err != nil {
		printHint(out, err)
		return err
	}
	printPreflight(out, report)

	// Watcher and history share the engine's queue, so their actions run on
	// the loop goroutine between cycles.
	actions := queue.New()
	defer actions.Close()

	reporters := engine.NewMultiReporter(engine.NewLogReporter(logging.Component(logger, "engine")))
	collector := metrics.New()
	reporters.Add(collector)

	if cfg.History.Path != "" {
		rec, closeHistory, err := startHistory(ctx, cfg, repo.Root(), actions, history.DefaultPruneInterval, logging.Component(logger, "history"))
		if err != nil {
			return err
		}
		defer closeHistory()
		reporters.Add(rec)
	}

	eng, err := engine.New(repo,
		engine.WithQueue(actions),
		engine.WithRemote(cfg.Remote),
		engine.WithInterval(cfg.Sync.Interval),
		engine.WithReporter(reporters),
		engine.WithLogger(logging.Component(logger, "engine")),
	)
	if err != nil {
		return err
	}

	loop, err := daemon.NewWithConfig(eng, &daemon.Config{
		TickInterval: cfg.Sync.Tick,
		Logger:       logging.Component(logger, "daemon"),
	})
	if err != nil {
		return err
	}

	if cfg.HTTP.Address != "" {
		srv, err := dashboard.NewServer(dashboard.Config{
			Address:   cfg.HTTP.Address,
			Logger:    logging.Component(logger, "dashboard"),
			Metrics:   collector.Handler(),
			LoopStats: loop.Stats,
		}, eng)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
		reporters.Add(srv)
		fmt.Fprintf(out, "%s Dashboard on http://%s\n", ui.RenderAccent("•"), srv.Addr())
	}

	if cfg.Watch.Enabled {
		stopWatch, err := startWatcher(ctx, cfg, repo, actions, logging.Component(logger, "watch"))
		if err != nil {
			return err
		}
		defer stopWatch()
		fmt.Fprintf(out, "%s Auto-commit after %s of quiet\n", ui.RenderAccent("•"), cfg.Watch.Debounce)
	}

	fmt.Fprintf(out, "%s Syncing %s every %s, press Ctrl+C to stop\n",
		ui.RenderPass("✓"), ui.RenderAccent(repo.Root()), cfg.Sync.Interval)

	return loop.Start(ctx)
}

// startHistory opens the history store, prunes it once and keeps pruning
// through enq every pruneEvery. The returned func flushes pending writes and
// closes the store.
func startHistory(ctx context.Context, cfg *config.Config, root string, enq history.Enqueuer, pruneEvery time.Duration, logger *slog.Logger) (*history.Recorder, func(), error) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}

	if cfg.History.Retention > 0 {
		pruner, err := history.NewPruner(store, cfg.History.Retention, logger)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		if _, err := pruner.Prune(ctx); err != nil {
			logger.Warn("Failed to prune history", "error", err)
		}
		go pruner.Run(ctx, enq, pruneEvery)
	}

	rec := history.NewRecorder(store, root, logger)
	rec.Start()

	return rec, func() {
		rec.Close()
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close history", "error", err)
		}
	}, nil
}

func startWatcher(ctx context.Context, cfg *config.Config, repo *git.Repo, enq watch.Enqueuer, logger *slog.Logger) (func(), error) {
	fw, err := watch.NewFileWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Start(repo.Root()); err != nil {
		return nil, err
	}

	ac, err := watch.NewAutoCommitter(fw.Events(), enq, repo, cfg.Watch.CommitMessage, cfg.Watch.Debounce, logger)
	if err != nil {
		_ = fw.Stop()
		return nil, err
	}

	go ac.Run(ctx)
	go func() {
		for err := range fw.Errors() {
			logger.Warn("Watcher error", "error", err)
		}
	}()

	return func() {
		if err := fw.Stop(); err != nil {
			logger.Warn("Failed to stop watcher", "error", err)
		}
	}, nil
}

func printPreflight(w io.Writer, r *git.PreflightReport) {
	fmt.Fprintf(w, "%s %s\n", ui.RenderLabel("Repository"), r.Root)
	fmt.Fprintf(w, "%s %s\n", ui.RenderLabel("Git"), r.GitVersion)
	head := r.Head
	if head == "" {
		head = ui.RenderWarn("detached")
	}
	fmt.Fprintf(w, "%s %s\n", ui.RenderLabel("Branch"), head)
	fmt.Fprintf(w, "%s %s %s\n", ui.RenderLabel("Remote"), r.Remote, ui.RenderMuted(strings.Join(r.RemoteURLs, ", ")))
	if r.InProgress != git.OpNone {
		fmt.Fprintf(w, "%s %s in progress", ui.RenderWarn("⚠"), r.InProgress)
		if len(r.Conflicts) > 0 {
			fmt.Fprintf(w, ", unmerged: %s", strings.Join(r.Conflicts, ", "))
		}
		fmt.Fprintln(w)
	}
}
