package engine

import (
	"context"
	"time"

	"github.com/szagi3891/notatki-panel/internal/vcs"
	"github.com/szagi3891/notatki-panel/internal/vcs/git"
)

// SkipReason explains why a tick did not reconcile.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipDisabled SkipReason = "disabled"
	SkipInterval SkipReason = "interval"
)

// TickResult describes one Tick.
type TickResult struct {
	// Drained is the number of queued actions that completed.
	Drained int

	// Skipped is set when no reconciliation was attempted.
	Skipped SkipReason

	// Cycle is set when a reconciliation was attempted.
	Cycle *CycleSummary
}

// Tick drains the action queue and then attempts one reconciliation.
//
// A failing queued action aborts the tick before reconciliation; the
// remaining actions stay queued. When sync is disabled, or less than the
// interval has passed since the last attempt started, no git command runs.
// The returned error is the drain failure or the query failure that
// abandoned the cycle; a cycle that ends in OutcomeDisabled is not an error.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	var result TickResult

	e.applyEnableRequest()

	drained, err := e.queue.DrainAll(ctx)
	result.Drained = drained
	if drained > 0 || err != nil {
		ev := Event{Kind: EventQueue, Time: e.now(), Drained: drained}
		if err != nil {
			ev.Err = err.Error()
		}
		e.reporter.Report(ev)
	}
	if err != nil {
		return result, err
	}

	now := e.now()

	e.mu.Lock()
	switch {
	case !e.enabled:
		result.Skipped = SkipDisabled
	case now.Sub(e.lastSyncAt) < e.interval:
		result.Skipped = SkipInterval
	default:
		// The clock moves before any work so a slow or failing cycle still
		// spaces out the next attempt.
		e.lastSyncAt = now
		e.phase = PhaseReconciling
	}
	e.mu.Unlock()

	if result.Skipped != SkipNone {
		return result, nil
	}

	cycle, err := e.reconcile(ctx, now)
	result.Cycle = &cycle
	return result, err
}

// applyEnableRequest consumes a pending operator request.
func (e *Engine) applyEnableRequest() {
	if !e.enableRequested.Swap(false) {
		return
	}

	e.mu.Lock()
	wasDisabled := !e.enabled
	e.enabled = true
	e.phase = PhaseIdle
	e.mu.Unlock()

	if wasDisabled {
		e.reporter.Report(Event{Kind: EventEnabled, Time: e.now()})
	}
}

// cycle carries per-cycle context for event reporting.
type cycle struct {
	e       *Engine
	summary CycleSummary
}

func (c *cycle) event(kind EventKind, stage Stage) Event {
	return Event{
		Kind:     kind,
		Time:     c.e.now(),
		CycleID:  c.summary.ID,
		Branch:   c.summary.Branch,
		Stage:    stage,
		Tracking: c.summary.Tracking,
		Local:    c.summary.Local,
	}
}

// stage reports a git step. Results of mutating steps never stop the cycle.
func (c *cycle) stage(stage Stage, res *vcs.CommandResult, err error) {
	ev := c.event(EventStage, stage)
	ev.ExitCode = -1
	if res != nil {
		ev.Command = res.Command
		ev.ExitCode = res.ExitCode
		ev.Stderr = res.StderrExcerpt(300)
		ev.Duration = res.Duration
	}
	if err != nil {
		ev.Err = err.Error()
	}
	c.e.reporter.Report(ev)
}

// compare resolves both refs and reports the result.
func (c *cycle) compare(ctx context.Context, stage Stage) (bool, error) {
	pair, err := c.e.repo.CommitsEqual(ctx, c.e.remote, c.summary.Branch)
	if pair.Tracking != "" {
		c.summary.Tracking = pair.Tracking
	}
	if pair.Local != "" {
		c.summary.Local = pair.Local
	}

	ev := c.event(EventCompare, stage)
	if err != nil {
		ev.ExitCode = vcs.ExitCode(err)
		ev.Err = err.Error()
		c.e.reporter.Report(ev)
		return false, err
	}

	ev.Equal = pair.Equal()
	c.e.reporter.Report(ev)
	return ev.Equal, nil
}

// reconcile runs the protocol once. It returns the summary and, for an
// abandoned cycle, the query error.
func (e *Engine) reconcile(ctx context.Context, started time.Time) (summary CycleSummary, err error) {
	c := &cycle{e: e, summary: CycleSummary{ID: e.newID(), StartedAt: started}}

	defer func() {
		c.summary.FinishedAt = e.now()
		if err != nil {
			c.summary.Outcome = OutcomeFailed
			c.summary.Error = err.Error()
		}

		e.mu.Lock()
		if c.summary.Outcome == OutcomeDisabled {
			e.enabled = false
			e.phase = PhaseDisabled
		} else if e.enabled {
			e.phase = PhaseIdle
		}
		last := c.summary
		e.lastCycle = &last
		e.mu.Unlock()

		ev := c.event(EventCycle, "")
		ev.Outcome = c.summary.Outcome
		ev.Err = c.summary.Error
		ev.Duration = c.summary.FinishedAt.Sub(c.summary.StartedAt)
		e.reporter.Report(ev)

		summary = c.summary
	}()

	branch, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		c.stage(StageBranch, nil, err)
		return c.summary, err
	}
	c.summary.Branch = branch

	res, fetchErr := e.repo.Fetch(ctx, e.remote, branch)
	c.stage(StageFetch, res, fetchErr)

	equal, err := c.compare(ctx, StageCompare)
	if err != nil {
		return c.summary, err
	}
	if equal {
		c.summary.Outcome = OutcomeInSync
		return c.summary, nil
	}

	res, pullErr := e.repo.Pull(ctx, e.remote, branch)
	c.stage(StagePull, res, pullErr)
	c.stage(StageMergeAbort, e.repo.MergeAbort(ctx), nil)

	equal, err = c.compare(ctx, StageCompareAfterPull)
	if err != nil {
		return c.summary, err
	}
	if equal {
		c.summary.Outcome = OutcomePulled
		return c.summary, nil
	}

	res, rebaseErr := e.repo.Rebase(ctx, e.remote, branch)
	c.stage(StageRebase, res, rebaseErr)
	c.stage(StageRebaseAbort, e.repo.RebaseAbort(ctx), nil)
	res, pushErr := e.repo.Push(ctx, e.remote, branch)
	c.stage(StagePush, res, pushErr)

	equal, err = c.compare(ctx, StageCompareAfterRebase)
	if err != nil {
		return c.summary, err
	}
	if equal {
		c.summary.Outcome = OutcomeRebased
		return c.summary, nil
	}

	c.summary.Outcome = OutcomeDisabled
	ev := c.event(EventDisabled, StagePush)
	ev.ExitCode = -1
	if res != nil {
		ev.ExitCode = res.ExitCode
	}
	e.reporter.Report(ev)

	return c.summary, nil
}

var _ Repository = (*git.Repo)(nil)
