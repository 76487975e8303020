package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szagi3891/notatki-panel/internal/queue"
	"github.com/szagi3891/notatki-panel/internal/vcs"
	"github.com/szagi3891/notatki-panel/internal/vcs/git"
	"github.com/szagi3891/notatki-panel/internal/vcs/vcstest"
)

var (
	hashA = strings.Repeat("a", 40)
	hashB = strings.Repeat("b", 40)
)

const (
	logTracking = "log -1 origin/main --pretty=format:%H"
	logLocal    = "log -1 main --pretty=format:%H"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Report(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	script *vcstest.Executor
	clock  *fakeClock
	events *recorder
	engine *Engine
}

func newHarness(t *testing.T, script *vcstest.Executor) *harness {
	t.Helper()
	script.On("branch --show-current", vcstest.OK("main\n"))

	h := &harness{script: script, clock: newFakeClock(), events: &recorder{}}
	e, err := New(git.Open("/repo", git.WithExecutor(script)),
		WithClock(h.clock.Now),
		WithReporter(h.events),
		WithIDGenerator(func() string { return "cycle-1" }),
	)
	require.NoError(t, err)
	h.engine = e
	return h
}

// due advances the clock past the interval and runs one tick.
func (h *harness) due(t *testing.T) (TickResult, error) {
	t.Helper()
	h.clock.Advance(DefaultInterval)
	return h.engine.Tick(context.Background())
}

func TestNewRejectsNilRepository(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestFirstTickWaitsForInterval(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor())

	res, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipInterval, res.Skipped)
	assert.Empty(t, h.script.Calls())
}

func TestInSyncRunsNoMutatingCommands(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashA)))

	res, err := h.due(t)
	require.NoError(t, err)
	require.NotNil(t, res.Cycle)
	assert.Equal(t, OutcomeInSync, res.Cycle.Outcome)
	assert.Empty(t, h.script.MutatingCalls())
	assert.Equal(t, []string{"branch --show-current", "fetch origin main", logTracking, logLocal}, h.script.Calls())
	assert.True(t, h.engine.Enabled())
}

func TestPullResolvesWithoutRebase(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashB), vcstest.OK(hashA)))

	res, err := h.due(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomePulled, res.Cycle.Outcome)
	assert.Equal(t, []string{"pull --no-rebase --no-edit origin main", "merge --abort"}, h.script.MutatingCalls())
	assert.True(t, h.engine.Enabled())
}

func TestRebaseResolves(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashB), vcstest.OK(hashB), vcstest.OK(hashA)))

	res, err := h.due(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebased, res.Cycle.Outcome)
	assert.Equal(t, []string{
		"pull --no-rebase --no-edit origin main",
		"merge --abort",
		"rebase origin/main",
		"rebase --abort",
		"push origin main:main",
	}, h.script.MutatingCalls())
	assert.True(t, h.engine.Enabled())
}

func TestUnreconcilableDisables(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashB)).
		On("pull --no-rebase --no-edit origin main", vcstest.Fail(1, "CONFLICT (content)")).
		On("rebase origin/main", vcstest.Fail(1, "could not apply")).
		On("push origin main:main", vcstest.Fail(1, "! [rejected]")))

	res, err := h.due(t)
	require.NoError(t, err, "disabling is a state transition, not an error")
	assert.Equal(t, OutcomeDisabled, res.Cycle.Outcome)
	assert.False(t, h.engine.Enabled())
	assert.Equal(t, PhaseDisabled, h.engine.Status().Phase)
	assert.Len(t, h.script.MutatingCalls(), 5)

	disabled := h.events.ofKind(EventDisabled)
	require.Len(t, disabled, 1)
	assert.Equal(t, "main", disabled[0].Branch)
	assert.Equal(t, vcs.CommitHash(hashA), disabled[0].Tracking)
	assert.Equal(t, vcs.CommitHash(hashB), disabled[0].Local)
	assert.Equal(t, 1, disabled[0].ExitCode)

	// Disabled stays disabled: no git commands on later ticks
	h.script.Reset()
	for i := 0; i < 3; i++ {
		res, err = h.due(t)
		require.NoError(t, err)
		assert.Equal(t, SkipDisabled, res.Skipped)
	}
	assert.Empty(t, h.script.Calls())
}

func TestDisabledStillDrainsQueue(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashB)))
	_, err := h.due(t)
	require.NoError(t, err)
	require.False(t, h.engine.Enabled())

	ran := false
	_, err = h.engine.Enqueue("note", func(context.Context) error { ran = true; return nil })
	require.NoError(t, err)

	res, err := h.due(t)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, res.Drained)
}

func TestIntervalGateStillDrainsQueue(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashA)))

	_, err := h.due(t)
	require.NoError(t, err)
	h.script.Reset()

	var order []string
	_, _ = h.engine.Enqueue("first", func(context.Context) error { order = append(order, "first"); return nil })
	_, _ = h.engine.Enqueue("second", func(context.Context) error { order = append(order, "second"); return nil })

	h.clock.Advance(2 * time.Second)
	res, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipInterval, res.Skipped)
	assert.Equal(t, 2, res.Drained)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Empty(t, h.script.Calls())
}

func TestQueueFailureAbortsTick(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashA)))

	boom := errors.New("boom")
	var order []string
	_, _ = h.engine.Enqueue("A", func(context.Context) error { order = append(order, "A"); return nil })
	_, _ = h.engine.Enqueue("B", func(context.Context) error { return boom })
	_, _ = h.engine.Enqueue("C", func(context.Context) error { order = append(order, "C"); return nil })

	res, err := h.due(t)
	require.ErrorIs(t, err, queue.ErrQueuedActionFailure)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Drained)
	assert.Nil(t, res.Cycle)
	assert.Equal(t, []string{"A"}, order)
	assert.Empty(t, h.script.Calls(), "reconciliation must not run after a failed drain")
	assert.Equal(t, 1, h.engine.Status().QueueLength)

	queueEvents := h.events.ofKind(EventQueue)
	require.Len(t, queueEvents, 1)
	assert.Contains(t, queueEvents[0].Err, "boom")

	// The next tick runs C and then reconciles
	res, err = h.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, order)
	require.NotNil(t, res.Cycle)
	assert.Equal(t, OutcomeInSync, res.Cycle.Outcome)
}

func TestFetchFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On("fetch origin main", vcstest.Fail(128, "fatal: unable to access remote")).
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashA)))

	res, err := h.due(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, res.Cycle.Outcome)

	stages := h.events.ofKind(EventStage)
	require.NotEmpty(t, stages)
	assert.Equal(t, StageFetch, stages[0].Stage)
	assert.Equal(t, 128, stages[0].ExitCode)
	assert.NotEmpty(t, stages[0].Err)
}

func TestQueryFailureAbandonsCycle(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.Fail(128, "fatal: ambiguous argument 'origin/main'")))

	res, err := h.due(t)
	require.ErrorIs(t, err, vcs.ErrCommandFailure)
	assert.Equal(t, OutcomeFailed, res.Cycle.Outcome)
	assert.True(t, h.engine.Enabled(), "a failed query does not disable sync")
	assert.Empty(t, h.script.MutatingCalls())

	// lastSyncAt moved before the failure, so an immediate retry is gated
	h.script.Reset()
	h.clock.Advance(time.Second)
	res, err = h.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipInterval, res.Skipped)
	assert.Empty(t, h.script.Calls())
}

func TestInvalidHashAbandonsCycle(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK("abc")))

	res, err := h.due(t)
	require.ErrorIs(t, err, vcs.ErrInvalidCommitFormat)
	assert.Equal(t, OutcomeFailed, res.Cycle.Outcome)
}

func TestDetachedHeadAbandonsCycle(t *testing.T) {
	script := vcstest.NewExecutor().On("branch --show-current", vcstest.OK(""))
	clock := newFakeClock()
	e, err := New(git.Open("/repo", git.WithExecutor(script)), WithClock(clock.Now), WithReporter(&recorder{}))
	require.NoError(t, err)

	clock.Advance(DefaultInterval)
	_, err = e.Tick(context.Background())
	require.ErrorIs(t, err, vcs.ErrDetached)
	assert.Equal(t, []string{"branch --show-current"}, script.Calls())
}

func TestRequestEnable(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashB), vcstest.OK(hashB), vcstest.OK(hashB), vcstest.OK(hashA)))

	assert.False(t, h.engine.RequestEnable(), "already enabled")

	_, err := h.due(t)
	require.NoError(t, err)
	require.False(t, h.engine.Enabled())

	assert.True(t, h.engine.RequestEnable())
	assert.True(t, h.engine.Status().EnableRequested)
	assert.False(t, h.engine.Enabled(), "request is applied by the next tick")

	res, err := h.due(t)
	require.NoError(t, err)
	assert.True(t, h.engine.Enabled())
	require.NotNil(t, res.Cycle)
	assert.Equal(t, OutcomeInSync, res.Cycle.Outcome)
	assert.Len(t, h.events.ofKind(EventEnabled), 1)
	assert.False(t, h.engine.Status().EnableRequested)
}

func TestEventsCarryHashesAndStages(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashB), vcstest.OK(hashA)))

	_, err := h.due(t)
	require.NoError(t, err)

	compares := h.events.ofKind(EventCompare)
	require.Len(t, compares, 2)
	assert.Equal(t, StageCompare, compares[0].Stage)
	assert.False(t, compares[0].Equal)
	assert.Equal(t, StageCompareAfterPull, compares[1].Stage)
	assert.True(t, compares[1].Equal)

	var stages []Stage
	for _, ev := range h.events.ofKind(EventStage) {
		stages = append(stages, ev.Stage)
		assert.Equal(t, "main", ev.Branch)
		assert.Equal(t, "cycle-1", ev.CycleID)
	}
	assert.Equal(t, []Stage{StageFetch, StagePull, StageMergeAbort}, stages)

	cycles := h.events.ofKind(EventCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, OutcomePulled, cycles[0].Outcome)
	assert.Equal(t, vcs.CommitHash(hashA), cycles[0].Tracking)
	assert.Equal(t, vcs.CommitHash(hashA), cycles[0].Local)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, vcstest.NewExecutor().
		On(logTracking, vcstest.OK(hashA)).
		On(logLocal, vcstest.OK(hashA)))

	st := h.engine.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "origin", st.Remote)
	assert.Nil(t, st.LastCycle)

	_, err := h.due(t)
	require.NoError(t, err)

	st = h.engine.Status()
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, "cycle-1", st.LastCycle.ID)
	assert.Equal(t, h.clock.Now(), st.LastSyncAt)
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestCustomRemoteAndInterval(t *testing.T) {
	script := vcstest.NewExecutor().
		On("branch --show-current", vcstest.OK("notes")).
		On("log -1 upstream/notes --pretty=format:%H", vcstest.OK(hashA)).
		On("log -1 notes --pretty=format:%H", vcstest.OK(hashA))
	clock := newFakeClock()
	e, err := New(git.Open("/repo", git.WithExecutor(script)),
		WithClock(clock.Now), WithRemote("upstream"), WithInterval(time.Minute), WithReporter(&recorder{}))
	require.NoError(t, err)

	clock.Advance(DefaultInterval)
	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipInterval, res.Skipped)

	clock.Advance(time.Minute)
	res, err = e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeInSync, res.Cycle.Outcome)
	assert.Contains(t, script.Calls(), "fetch upstream notes")
}

func TestSharedQueueDrainsOnTick(t *testing.T) {
	q := queue.New()
	clock := newFakeClock()
	e, err := New(git.Open("/repo", git.WithExecutor(vcstest.NewExecutor())),
		WithClock(clock.Now), WithQueue(q), WithReporter(&recorder{}))
	require.NoError(t, err)
	assert.Same(t, q, e.Queue())

	// Producers holding only the queue still reach the loop
	ran := false
	_, err = q.Enqueue("external", func(context.Context) error { ran = true; return nil })
	require.NoError(t, err)

	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drained)
	assert.True(t, ran)
	assert.Equal(t, 0, q.Len())
}
