package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// EventKind classifies engine events.
type EventKind string

const (
	// EventStage is emitted after every git step of a cycle.
	EventStage EventKind = "stage"

	// EventCompare is emitted after every equality check.
	EventCompare EventKind = "compare"

	// EventCycle is emitted once per reconciliation cycle with its outcome.
	EventCycle EventKind = "cycle"

	// EventDisabled is emitted when the engine gives up reconciling.
	EventDisabled EventKind = "disabled"

	// EventEnabled is emitted when an operator re-enable request is applied.
	EventEnabled EventKind = "enabled"

	// EventQueue is emitted after a drain that ran or failed an action.
	EventQueue EventKind = "queue"
)

// Event is one observable engine occurrence. Fields irrelevant to a kind
// are left zero.
type Event struct {
	Kind    EventKind `json:"kind"`
	Time    time.Time `json:"time"`
	CycleID string    `json:"cycle_id,omitempty"`
	Branch  string    `json:"branch,omitempty"`

	// Stage fields
	Stage    Stage         `json:"stage,omitempty"`
	Command  string        `json:"command,omitempty"`
	ExitCode int           `json:"exit_code"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// Compare fields; also carried by stage and disable events once known
	Tracking vcs.CommitHash `json:"tracking,omitempty"`
	Local    vcs.CommitHash `json:"local,omitempty"`
	Equal    bool           `json:"equal"`

	Outcome Outcome `json:"outcome,omitempty"`
	Drained int     `json:"drained,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// Reporter receives engine events on the loop goroutine. Implementations
// must not block.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

// Report implements Reporter.
func (f ReporterFunc) Report(ev Event) { f(ev) }

// MultiReporter fans events out to several reporters.
type MultiReporter struct {
	mu        sync.RWMutex
	reporters []Reporter
}

// NewMultiReporter returns a fan-out over rs; nil entries are skipped.
func NewMultiReporter(rs ...Reporter) *MultiReporter {
	m := &MultiReporter{}
	for _, r := range rs {
		m.Add(r)
	}
	return m
}

// Add registers another reporter.
func (m *MultiReporter) Add(r Reporter) {
	if r == nil {
		return
	}
	m.mu.Lock()
	m.reporters = append(m.reporters, r)
	m.mu.Unlock()
}

// Report implements Reporter.
func (m *MultiReporter) Report(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reporters {
		r.Report(ev)
	}
}

// LogReporter writes events to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a Reporter that logs through logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (l *LogReporter) Report(ev Event) {
	attrs := []slog.Attr{
		slog.String("cycle", ev.CycleID),
		slog.String("branch", ev.Branch),
		slog.String("tracking", string(ev.Tracking)),
		slog.String("local", string(ev.Local)),
	}

	level := slog.LevelInfo
	var msg string

	switch ev.Kind {
	case EventStage:
		msg = "Sync stage finished"
		attrs = append(attrs,
			slog.String("stage", string(ev.Stage)),
			slog.String("command", ev.Command),
			slog.Int("exit_code", ev.ExitCode),
			slog.Duration("duration", ev.Duration),
		)
		if ev.Stderr != "" {
			attrs = append(attrs, slog.String("stderr", ev.Stderr))
		}
		if ev.Err != "" {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", ev.Err))
		} else {
			level = slog.LevelDebug
		}
	case EventCompare:
		msg = "Commit equality checked"
		attrs = append(attrs, slog.String("stage", string(ev.Stage)), slog.Bool("equal", ev.Equal))
	case EventCycle:
		msg = "Sync cycle completed"
		attrs = append(attrs, slog.String("outcome", string(ev.Outcome)), slog.Duration("duration", ev.Duration))
		if ev.Err != "" {
			level = slog.LevelError
			attrs = append(attrs, slog.String("error", ev.Err))
		}
	case EventDisabled:
		msg = "Sync disabled: branches could not be reconciled"
		level = slog.LevelError
		attrs = append(attrs, slog.String("stage", string(ev.Stage)), slog.Int("exit_code", ev.ExitCode))
	case EventEnabled:
		msg = "Sync re-enabled by operator"
	case EventQueue:
		msg = "Queue drained"
		attrs = append(attrs, slog.Int("drained", ev.Drained))
		if ev.Err != "" {
			level = slog.LevelError
			attrs = append(attrs, slog.String("error", ev.Err))
		} else {
			level = slog.LevelDebug
		}
	default:
		msg = "Engine event"
		attrs = append(attrs, slog.String("kind", string(ev.Kind)))
	}

	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
