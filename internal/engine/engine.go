// Package engine implements the sync state machine for one working copy.
//
// An Engine owns three pieces of state: whether reconciliation is enabled,
// when the last reconciliation attempt started, and the queue of deferred
// actions submitted by other components. Each call to Tick drains the
// queue and, when enabled and the interval has elapsed, runs one
// reconciliation cycle against the repository:
//
//	branch -> fetch -> compare
//	       -> pull, merge --abort -> compare
//	       -> rebase, rebase --abort, push -> compare
//	       -> disable
//
// Only Tick mutates engine state, and Tick is meant to be called from a
// single loop goroutine. Status may be read from anywhere.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/szagi3891/notatki-panel/internal/queue"
	"github.com/szagi3891/notatki-panel/internal/vcs"
	"github.com/szagi3891/notatki-panel/internal/vcs/git"
)

// DefaultInterval is the minimum spacing between reconciliation attempts.
const DefaultInterval = 5 * time.Second

// Phase is the externally visible engine state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseReconciling Phase = "reconciling"
	PhaseDisabled    Phase = "disabled"
)

// Outcome is the result of one reconciliation cycle.
type Outcome string

const (
	// OutcomeInSync means the branch already matched its remote-tracking ref.
	OutcomeInSync Outcome = "in_sync"

	// OutcomePulled means a pull made the refs equal.
	OutcomePulled Outcome = "pulled"

	// OutcomeRebased means rebase and push made the refs equal.
	OutcomeRebased Outcome = "rebased"

	// OutcomeDisabled means every strategy failed and sync was disabled.
	OutcomeDisabled Outcome = "disabled"

	// OutcomeFailed means a query failed and the cycle was abandoned.
	OutcomeFailed Outcome = "failed"
)

// Stage names a step of the reconciliation protocol.
type Stage string

const (
	StageBranch             Stage = "branch"
	StageFetch              Stage = "fetch"
	StageCompare            Stage = "compare"
	StagePull               Stage = "pull"
	StageMergeAbort         Stage = "merge_abort"
	StageCompareAfterPull   Stage = "compare_after_pull"
	StageRebase             Stage = "rebase"
	StageRebaseAbort        Stage = "rebase_abort"
	StagePush               Stage = "push"
	StageCompareAfterRebase Stage = "compare_after_rebase"
)

// Repository is the subset of git operations the engine drives.
// *git.Repo implements it.
type Repository interface {
	CurrentBranch(ctx context.Context) (string, error)
	CommitsEqual(ctx context.Context, remote, branch string) (git.CommitPair, error)
	Fetch(ctx context.Context, remote, branch string) (*vcs.CommandResult, error)
	Pull(ctx context.Context, remote, branch string) (*vcs.CommandResult, error)
	MergeAbort(ctx context.Context) *vcs.CommandResult
	Rebase(ctx context.Context, remote, branch string) (*vcs.CommandResult, error)
	RebaseAbort(ctx context.Context) *vcs.CommandResult
	Push(ctx context.Context, remote, branch string) (*vcs.CommandResult, error)
}

// CycleSummary records one reconciliation cycle.
type CycleSummary struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Branch     string         `json:"branch"`
	Tracking   vcs.CommitHash `json:"tracking,omitempty"`
	Local      vcs.CommitHash `json:"local,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Error      string         `json:"error,omitempty"`
}

// Status is a point-in-time copy of engine state.
type Status struct {
	Enabled         bool          `json:"enabled"`
	Phase           Phase         `json:"phase"`
	Remote          string        `json:"remote"`
	Interval        time.Duration `json:"interval"`
	LastSyncAt      time.Time     `json:"last_sync_at"`
	QueueLength     int           `json:"queue_length"`
	EnableRequested bool          `json:"enable_requested"`
	LastCycle       *CycleSummary `json:"last_cycle,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithRemote sets the remote name (default "origin").
func WithRemote(remote string) Option {
	return func(e *Engine) {
		if remote != "" {
			e.remote = remote
		}
	}
}

// WithInterval sets the minimum spacing between reconciliation attempts.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithQueue supplies the action queue.
func WithQueue(q *queue.Queue) Option {
	return func(e *Engine) {
		if q != nil {
			e.queue = q
		}
	}
}

// WithReporter sets the event sink.
func WithReporter(r Reporter) Option {
	return func(e *Engine) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithIDGenerator replaces the cycle ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the logger used for events when no reporter is given.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the sync state machine.
type Engine struct {
	repo     Repository
	queue    *queue.Queue
	remote   string
	interval time.Duration
	now      func() time.Time
	newID    func() string
	reporter Reporter
	logger   *slog.Logger

	// tickMu keeps at most one tick, and so one reconciliation, in flight
	tickMu sync.Mutex

	mu         sync.RWMutex
	enabled    bool
	phase      Phase
	lastSyncAt time.Time
	lastCycle  *CycleSummary

	enableRequested atomic.Bool
}

// New creates an enabled engine for repo. The interval clock starts at
// construction, so the first reconciliation happens one interval later.
func New(repo Repository, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}

	e := &Engine{
		repo:     repo,
		remote:   git.DefaultRemote,
		interval: DefaultInterval,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
		enabled:  true,
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.queue == nil {
		e.queue = queue.New()
	}
	if e.reporter == nil {
		e.reporter = NewLogReporter(e.logger)
	}
	e.lastSyncAt = e.now()

	return e, nil
}

// Enqueue submits a deferred action. Safe from any goroutine.
func (e *Engine) Enqueue(name string, fn queue.Func) (uint64, error) {
	return e.queue.Enqueue(name, fn)
}

// Queue returns the action queue, for loops that wait on its signal.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Enabled reports whether reconciliation is enabled.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// RequestEnable asks the loop to re-enable reconciliation on its next tick.
// It returns false when the engine is already enabled.
func (e *Engine) RequestEnable() bool {
	if e.Enabled() {
		return false
	}
	e.enableRequested.Store(true)
	return true
}

// Status returns a copy of the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		Enabled:         e.enabled,
		Phase:           e.phase,
		Remote:          e.remote,
		Interval:        e.interval,
		LastSyncAt:      e.lastSyncAt,
		QueueLength:     e.queue.Len(),
		EnableRequested: e.enableRequested.Load(),
	}
	if e.lastCycle != nil {
		c := *e.lastCycle
		st.LastCycle = &c
	}
	return st
}
