package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szagi3891/notatki-panel/internal/engine"
	"github.com/szagi3891/notatki-panel/internal/queue"
	"github.com/szagi3891/notatki-panel/internal/vcs"
)

const (
	hashA = vcs.CommitHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	hashB = vcs.CommitHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "history.db")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func summary(id string, started time.Time, outcome engine.Outcome) engine.CycleSummary {
	return engine.CycleSummary{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Branch:     "main",
		Tracking:   hashA,
		Local:      hashB,
		Outcome:    outcome,
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := testDBPath(t)
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "second close is a no-op")

	// Reopening an existing database keeps the schema
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRecordAndListCycles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stages := []StageRecord{
		{Seq: 0, Stage: engine.StageFetch, Command: "git fetch origin main", ExitCode: 0, Duration: 40 * time.Millisecond, At: base},
		{Seq: 1, Stage: engine.StageCompare, ExitCode: 0, At: base.Add(time.Millisecond)},
	}
	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("c1", base, engine.OutcomeInSync), stages))
	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("c2", base.Add(time.Minute), engine.OutcomeDisabled), nil))
	require.NoError(t, s.RecordCycle(ctx, "/other", summary("c3", base.Add(2*time.Minute), engine.OutcomePulled), nil))

	all, err := s.ListCycles(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c3", all[0].ID, "newest first")
	assert.Equal(t, "c1", all[2].ID)

	c1 := all[2]
	assert.Equal(t, "/repo", c1.Repo)
	assert.Equal(t, "main", c1.Branch)
	assert.Equal(t, hashA, c1.Tracking)
	assert.Equal(t, hashB, c1.Local)
	assert.Equal(t, engine.OutcomeInSync, c1.Outcome)
	assert.True(t, base.Equal(c1.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, c1.FinishedAt.Sub(c1.StartedAt))

	byRepo, err := s.ListCycles(ctx, Filter{Repo: "/repo"})
	require.NoError(t, err)
	assert.Len(t, byRepo, 2)

	since, err := s.ListCycles(ctx, Filter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	disabled, err := s.ListCycles(ctx, Filter{Outcome: engine.OutcomeDisabled})
	require.NoError(t, err)
	require.Len(t, disabled, 1)
	assert.Equal(t, "c2", disabled[0].ID)

	limited, err := s.ListCycles(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c3", limited[0].ID)

	got, err := s.Stages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, engine.StageFetch, got[0].Stage)
	assert.Equal(t, "git fetch origin main", got[0].Command)
	assert.Equal(t, 40*time.Millisecond, got[0].Duration)
	assert.Equal(t, engine.StageCompare, got[1].Stage)
}

func TestCountByOutcomeAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("old", base, engine.OutcomeInSync), []StageRecord{{Stage: engine.StageFetch, At: base}}))
	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("mid", base.Add(time.Hour), engine.OutcomeInSync), nil))
	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("new", base.Add(2*time.Hour), engine.OutcomeFailed), nil))

	counts, err := s.CountByOutcome(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[engine.OutcomeInSync])
	assert.Equal(t, 1, counts[engine.OutcomeFailed])

	n, err := s.Prune(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stages, err := s.Stages(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, stages, "stages cascade with their cycle")
}

func TestRecorderWritesCycleWithStages(t *testing.T) {
	s := openTestStore(t)
	rec := NewRecorder(s, "/repo", nil)
	rec.Start()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec.Report(engine.Event{Kind: engine.EventQueue, Time: now, Drained: 2})
	rec.Report(engine.Event{Kind: engine.EventStage, Time: now, CycleID: "x", Branch: "main", Stage: engine.StageFetch, Command: "git fetch origin main"})
	rec.Report(engine.Event{Kind: engine.EventCompare, Time: now, CycleID: "x", Branch: "main", Stage: engine.StageCompare, Tracking: hashA, Local: hashB})
	rec.Report(engine.Event{Kind: engine.EventStage, Time: now, CycleID: "x", Branch: "main", Stage: engine.StagePull, ExitCode: 1, Stderr: "CONFLICT"})
	rec.Report(engine.Event{
		Kind:     engine.EventCycle,
		Time:     now.Add(2 * time.Second),
		CycleID:  "x",
		Branch:   "main",
		Tracking: hashA,
		Local:    hashA,
		Outcome:  engine.OutcomePulled,
		Duration: 2 * time.Second,
	})
	rec.Close()

	ctx := context.Background()
	cycles, err := s.ListCycles(ctx, Filter{Repo: "/repo"})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, engine.OutcomePulled, cycles[0].Outcome)
	assert.True(t, now.Equal(cycles[0].StartedAt))

	stages, err := s.Stages(ctx, "x")
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, []engine.Stage{engine.StageFetch, engine.StageCompare, engine.StagePull}, []engine.Stage{stages[0].Stage, stages[1].Stage, stages[2].Stage})
	assert.Equal(t, 1, stages[2].ExitCode)
	assert.Equal(t, "CONFLICT", stages[2].Stderr)

	assert.Empty(t, rec.pending, "buffer is released once the cycle is written")
}

func TestRecorderReportDoesNotBlock(t *testing.T) {
	s := openTestStore(t)
	rec := NewRecorder(s, "/repo", nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Without a writer the buffer fills and extra cycles are dropped
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < recordBufferSize+10; i++ {
			rec.Report(engine.Event{Kind: engine.EventCycle, Time: now, CycleID: fmt.Sprintf("c%d", i), Outcome: engine.OutcomeInSync})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Report blocked with no writer running")
	}

	rec.Start()
	rec.Close()

	cycles, err := s.ListCycles(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, cycles, recordBufferSize, "buffered cycles are flushed on close")
}

func TestOpenPathWithURIMetacharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd?dir#50%", "history.db")
	s, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("c1", base, engine.OutcomeInSync), nil))
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "database lives at the literal path")

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	cycles, err := s.ListCycles(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}

func TestDSNEscapesSegments(t *testing.T) {
	got := dsn("/tmp/a?b/c#d/50%/h.db")
	assert.True(t, strings.HasPrefix(got, "file:/tmp/a%3Fb/c%23d/50%25/h.db?"), got)
	assert.Contains(t, got, "_pragma=foreign_keys(1)")
}

type runNowEnqueuer struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (e *runNowEnqueuer) Enqueue(name string, fn queue.Func) (uint64, error) {
	err := fn(context.Background())
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	e.errs = append(e.errs, err)
	return uint64(len(e.names)), nil
}

func (e *runNowEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

func TestPrunerDeletesOutsideRetention(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("old", now.Add(-8*24*time.Hour), engine.OutcomeInSync), nil))
	require.NoError(t, s.RecordCycle(ctx, "/repo", summary("recent", now.Add(-time.Hour), engine.OutcomeInSync), nil))

	p, err := NewPruner(s, DefaultRetention, nil)
	require.NoError(t, err)
	p.now = func() time.Time { return now }

	n, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cycles, err := s.ListCycles(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "recent", cycles[0].ID)
}

func TestPrunerRunEnqueuesPeriodically(t *testing.T) {
	s := openTestStore(t)
	p, err := NewPruner(s, time.Hour, nil)
	require.NoError(t, err)

	enq := &runNowEnqueuer{}
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		p.Run(ctx, enq, 10*time.Millisecond)
		close(finished)
	}()

	require.Eventually(t, func() bool { return enq.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-finished

	enq.mu.Lock()
	defer enq.mu.Unlock()
	assert.Equal(t, PruneActionName, enq.names[0])
	assert.NoError(t, enq.errs[0])
}

func TestNewPrunerValidates(t *testing.T) {
	_, err := NewPruner(nil, time.Hour, nil)
	assert.Error(t, err)

	_, err = NewPruner(openTestStore(t), 0, nil)
	assert.Error(t, err)
}
