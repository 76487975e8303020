package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/szagi3891/notatki-panel/internal/engine"
)

const recordBufferSize = 64

// pendingCycle is a finished cycle waiting for the writer goroutine.
type pendingCycle struct {
	summary engine.CycleSummary
	stages  []StageRecord
}

// Recorder is an engine.Reporter that buffers stage events per cycle and
// hands finished cycles to a writer goroutine. Report never touches the
// database.
type Recorder struct {
	store   *Store
	repo    string
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string][]StageRecord

	writes    chan pendingCycle
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewRecorder returns a Recorder writing cycles for repo into store.
// Call Start before the engine runs and Close after it stops.
func NewRecorder(store *Store, repo string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		repo:    repo,
		logger:  logger,
		timeout: 5 * time.Second,
		pending: make(map[string][]StageRecord),
		writes:  make(chan pendingCycle, recordBufferSize),
		done:    make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.writeLoop()
	})
}

// Close stops the writer after flushing cycles already handed over.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Report implements engine.Reporter.
func (r *Recorder) Report(ev engine.Event) {
	switch ev.Kind {
	case engine.EventStage, engine.EventCompare:
		r.mu.Lock()
		stages := r.pending[ev.CycleID]
		r.pending[ev.CycleID] = append(stages, StageRecord{
			CycleID:  ev.CycleID,
			Seq:      len(stages),
			Stage:    ev.Stage,
			Command:  ev.Command,
			ExitCode: ev.ExitCode,
			Stderr:   ev.Stderr,
			Error:    ev.Err,
			Duration: ev.Duration,
			At:       ev.Time,
		})
		r.mu.Unlock()

	case engine.EventCycle:
		r.mu.Lock()
		stages := r.pending[ev.CycleID]
		delete(r.pending, ev.CycleID)
		r.mu.Unlock()

		pc := pendingCycle{
			summary: engine.CycleSummary{
				ID:         ev.CycleID,
				StartedAt:  ev.Time.Add(-ev.Duration),
				FinishedAt: ev.Time,
				Branch:     ev.Branch,
				Tracking:   ev.Tracking,
				Local:      ev.Local,
				Outcome:    ev.Outcome,
				Error:      ev.Err,
			},
			stages: stages,
		}

		select {
		case r.writes <- pc:
		default:
			r.logger.Warn("History buffer full, dropping cycle", "cycle", ev.CycleID)
		}
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case pc := <-r.writes:
			r.write(pc)
		case <-r.done:
			for {
				select {
				case pc := <-r.writes:
					r.write(pc)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(pc pendingCycle) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.RecordCycle(ctx, r.repo, pc.summary, pc.stages); err != nil {
		r.logger.Warn("Failed to record sync cycle", "cycle", pc.summary.ID, "error", err)
	}
}
