// Package vcs provides the process-level plumbing used to drive a version
// control binary from the sync engine.
//
// The package owns three things: the Executor abstraction that spawns a
// command and reports its exit code and captured output, the error taxonomy
// shared by every layer above it, and the CommitHash value type.
//
// # Architecture
//
// The Executor never interprets exit codes. A command that runs and exits
// nonzero is a normal result; only a command that could not be spawned (or
// whose exit code cannot be determined) is an error:
//   - Executor: spawn + capture (ExecExecutor over os/exec)
//   - CommandResult: exit code, stdout, stderr of one invocation
//   - CommandError: typed failure carrying one of the sentinel kinds
//
// # Usage
//
//	exec := vcs.NewExecutor(30 * time.Second)
//	res, err := exec.Execute(ctx, repoRoot, "git", "branch", "--show-current")
//	if err != nil {
//	    // process could not be started
//	}
//	if !res.Clean() {
//	    // nonzero exit or diagnostics on stderr
//	}
//
// # Implementations
//
//   - internal/vcs/git: commit oracle and mutating git operations
package vcs

import (
	"context"
	"strings"
	"time"
)

// Executor runs one external command in a working directory and waits for
// it to exit.
type Executor interface {
	// Execute runs name with args in dir. A nonzero exit code is reported
	// through CommandResult and is not an error. The returned error is a
	// *CommandError of kind ErrExecutionFailure when the process could not
	// be started, or of kind ErrCommandFailure wrapping ErrTimeout when the
	// per-command timeout expired.
	Execute(ctx context.Context, dir string, name string, args ...string) (*CommandResult, error)
}

// CommandResult is the outcome of a single command invocation.
type CommandResult struct {
	// Command is the rendered command line, for logs only.
	Command string

	// ExitCode is the process exit status.
	ExitCode int

	// Stdout and Stderr hold everything the process wrote, untrimmed.
	Stdout string
	Stderr string

	// Duration is the wall time between spawn and exit.
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Clean reports whether the command exited zero and wrote nothing to
// stderr. Git writes warnings to stderr even on success, so read-only
// queries that must be trusted use this stricter test.
func (r *CommandResult) Clean() bool {
	return r.Success() && r.Stderr == ""
}

// StderrExcerpt returns the first line of stderr, capped to max runes.
func (r *CommandResult) StderrExcerpt(max int) string {
	if r == nil {
		return ""
	}
	line, _ := SplitFirstLine([]byte(r.Stderr))
	if max > 0 && len([]rune(line)) > max {
		return string([]rune(line)[:max]) + "..."
	}
	return line
}

// FormatCommand renders a command line for logging. Arguments containing
// whitespace are quoted.
func FormatCommand(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		if a == "" || strings.ContainsAny(a, " \t\n\"") {
			b.WriteString(`"` + strings.ReplaceAll(a, `"`, `\"`) + `"`)
			continue
		}
		b.WriteString(a)
	}
	return b.String()
}
