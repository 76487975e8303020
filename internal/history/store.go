// Package history persists reconciliation cycles in an embedded SQLite
// database so operators can see what the engine did while unattended.
//
// Architecture:
//   - Database file: <user cache dir>/notesync/history.db by default
//   - WAL mode: the CLI reads while the daemon writes
//   - Schema: cycles, stages
package history

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/szagi3891/notatki-panel/internal/engine"
	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// Store wraps the history database.
type Store struct {
	conn *sql.DB
	path string
}

// Cycle is a stored reconciliation cycle.
type Cycle struct {
	engine.CycleSummary
	Repo string `json:"repo"`
}

// StageRecord is one git step of a stored cycle.
type StageRecord struct {
	CycleID  string        `json:"cycle_id"`
	Seq      int           `json:"seq"`
	Stage    engine.Stage  `json:"stage"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stderr   string        `json:"stderr,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Open creates or opens the history database at path and ensures the
// schema exists.
//
// The caller MUST call Close() when done to checkpoint the WAL.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// dsn builds a file: URI for path. Per-connection pragmas go in the query
// so every pooled connection gets them.
func dsn(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "file:" + strings.Join(segments, "/") +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)"
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}

	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		branch TEXT NOT NULL DEFAULT '',
		tracking TEXT NOT NULL DEFAULT '',
		local TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stages (
		cycle_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL,
		stderr TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		at TEXT NOT NULL,
		PRIMARY KEY (cycle_id, seq),
		FOREIGN KEY (cycle_id) REFERENCES cycles(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_repo_started ON cycles(repo, started_at);
	CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// RecordCycle stores a cycle and its stages in one transaction.
func (s *Store) RecordCycle(ctx context.Context, repo string, c engine.CycleSummary, stages []StageRecord) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO cycles (id, repo, branch, tracking, local, outcome, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		outcome = excluded.outcome,
		error = excluded.error,
		finished_at = excluded.finished_at
	`,
		c.ID, repo, c.Branch, string(c.Tracking), string(c.Local), string(c.Outcome), c.Error,
		formatTime(c.StartedAt), formatTime(c.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %s: %w", c.ID, err)
	}

	for _, st := range stages {
		_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO stages (cycle_id, seq, stage, command, exit_code, stderr, error, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			c.ID, st.Seq, string(st.Stage), st.Command, st.ExitCode, st.Stderr, st.Error,
			st.Duration.Milliseconds(), formatTime(st.At),
		)
		if err != nil {
			return fmt.Errorf("failed to insert stage %s of cycle %s: %w", st.Stage, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Filter configures ListCycles.
type Filter struct {
	// Repo filters by repository root (empty = all)
	Repo string
	// Since excludes cycles started before it (zero = no bound)
	Since time.Time
	// Outcome filters by outcome (empty = all)
	Outcome engine.Outcome
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListCycles returns matching cycles, newest first.
func (s *Store) ListCycles(ctx context.Context, f Filter) ([]Cycle, error) {
	var conditions []string
	var args []any

	if f.Repo != "" {
		conditions = append(conditions, "repo = ?")
		args = append(args, f.Repo)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if f.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(f.Outcome))
	}

	query := `SELECT id, repo, branch, tracking, local, outcome, error, started_at, finished_at FROM cycles`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var c Cycle
		var tracking, local, outcome, started, finished string
		if err := rows.Scan(&c.ID, &c.Repo, &c.Branch, &tracking, &local, &outcome, &c.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.Tracking = vcs.CommitHash(tracking)
		c.Local = vcs.CommitHash(local)
		c.Outcome = engine.Outcome(outcome)
		c.StartedAt = parseTime(started)
		c.FinishedAt = parseTime(finished)
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}
	return cycles, nil
}

// Stages returns the recorded steps of a cycle in order.
func (s *Store) Stages(ctx context.Context, cycleID string) ([]StageRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT seq, stage, command, exit_code, stderr, error, duration_ms, at
	FROM stages WHERE cycle_id = ? ORDER BY seq ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		st := StageRecord{CycleID: cycleID}
		var stage, at string
		var ms int64
		if err := rows.Scan(&st.Seq, &stage, &st.Command, &st.ExitCode, &st.Stderr, &st.Error, &ms, &at); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		st.Stage = engine.Stage(stage)
		st.Duration = time.Duration(ms) * time.Millisecond
		st.At = parseTime(at)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stages: %w", err)
	}
	return out, nil
}

// CountByOutcome returns cycle counts per outcome for repo (empty = all).
func (s *Store) CountByOutcome(ctx context.Context, repo string) (map[engine.Outcome]int, error) {
	query := `SELECT outcome, COUNT(*) FROM cycles`
	var args []any
	if repo != "" {
		query += " WHERE repo = ?"
		args = append(args, repo)
	}
	query += " GROUP BY outcome"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count cycles: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[engine.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Prune deletes cycles started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Timestamps are stored as fixed-width UTC RFC3339 so string order matches
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
