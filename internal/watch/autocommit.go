package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/szagi3891/notatki-panel/internal/queue"
)

// DefaultDebounce is the quiet period before a burst of edits is committed.
const DefaultDebounce = 2 * time.Second

// ActionName names queued auto-commit actions.
const ActionName = "auto-commit"

// Enqueuer accepts deferred actions. *engine.Engine implements it.
type Enqueuer interface {
	Enqueue(name string, fn queue.Func) (uint64, error)
}

// Committer commits the whole working tree. *git.Repo implements it.
type Committer interface {
	CommitAll(ctx context.Context, message string) (bool, error)
}

// AutoCommitter enqueues one commit per burst of file changes.
type AutoCommitter struct {
	events    <-chan FileEvent
	enqueuer  Enqueuer
	committer Committer
	message   string
	debounce  time.Duration
	logger    *slog.Logger

	// pending is set while a commit action sits in the queue
	pending atomic.Bool

	commits atomic.Uint64
}

// NewAutoCommitter returns an AutoCommitter reading events. A non-positive
// debounce selects DefaultDebounce.
func NewAutoCommitter(events <-chan FileEvent, enqueuer Enqueuer, committer Committer, message string, debounce time.Duration, logger *slog.Logger) (*AutoCommitter, error) {
	if events == nil || enqueuer == nil || committer == nil {
		return nil, errors.New("events, enqueuer and committer are required")
	}
	if message == "" {
		return nil, errors.New("commit message is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoCommitter{
		events:    events,
		enqueuer:  enqueuer,
		committer: committer,
		message:   message,
		debounce:  debounce,
		logger:    logger,
	}, nil
}

// Commits returns how many commits the queued actions have made.
func (a *AutoCommitter) Commits() uint64 {
	return a.commits.Load()
}

// Run consumes events until ctx is done or the event channel closes.
func (a *AutoCommitter) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-a.events:
			if !ok {
				return
			}
			a.logger.Debug("Working copy changed", "path", ev.Path, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(a.debounce)
			} else {
				timer.Reset(a.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			a.schedule()
		}
	}
}

// schedule enqueues a commit unless one is already waiting.
func (a *AutoCommitter) schedule() {
	if !a.pending.CompareAndSwap(false, true) {
		return
	}

	id, err := a.enqueuer.Enqueue(ActionName, a.commit)
	if err != nil {
		a.pending.Store(false)
		a.logger.Warn("Failed to enqueue auto-commit", "error", err)
		return
	}
	a.logger.Debug("Auto-commit queued", "action", id)
}

// commit runs on the sync loop.
func (a *AutoCommitter) commit(ctx context.Context) error {
	// Edits made while this runs schedule a fresh action
	a.pending.Store(false)

	committed, err := a.committer.CommitAll(ctx, a.message)
	if err != nil {
		return err
	}
	if committed {
		a.commits.Add(1)
		a.logger.Info("Committed local changes")
	}
	return nil
}
