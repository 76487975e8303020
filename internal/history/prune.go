package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/szagi3891/notatki-panel/internal/queue"
)

const (
	// DefaultRetention is how long cycles are kept.
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultPruneInterval is how often a running loop prunes.
	DefaultPruneInterval = time.Hour

	// PruneActionName names the queued prune action.
	PruneActionName = "history-prune"
)

// Enqueuer submits actions to the sync loop.
type Enqueuer interface {
	Enqueue(name string, fn queue.Func) (uint64, error)
}

// Pruner deletes cycles older than its retention window.
type Pruner struct {
	store     *Store
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner returns a Pruner for store. Retention must be positive.
func NewPruner(store *Store, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{store: store, retention: retention, logger: logger, now: time.Now}, nil
}

// Prune deletes every cycle that started before now minus the retention.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("Pruned history", "cycles", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Run enqueues a prune every interval until ctx is done, so deletes run on
// the loop goroutine between cycles.
func (p *Pruner) Run(ctx context.Context, enq Enqueuer, every time.Duration) {
	if every <= 0 {
		every = DefaultPruneInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := enq.Enqueue(PruneActionName, func(ctx context.Context) error {
				_, err := p.Prune(ctx)
				return err
			})
			if err != nil && !errors.Is(err, queue.ErrClosed) {
				p.logger.Warn("Failed to schedule history prune", "error", err)
			}
		}
	}
}
