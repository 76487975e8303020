// Package vcstest provides a scripted vcs.Executor for tests.
package vcstest

import (
	"context"
	"strings"
	"sync"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// Response is one scripted command outcome.
type Response struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// Err is returned instead of a result, e.g. a spawn failure.
	Err error
}

// OK returns a zero-exit response with stdout.
func OK(stdout string) Response {
	return Response{Stdout: stdout}
}

// Fail returns a nonzero-exit response with stderr.
func Fail(code int, stderr string) Response {
	return Response{ExitCode: code, Stderr: stderr}
}

// Executor records every invocation and answers from a script. Commands are
// matched on their space-joined arguments (without the binary name). Each
// scripted command plays its responses in order and repeats the last one.
// Unscripted commands succeed with empty output.
type Executor struct {
	mu     sync.Mutex
	script map[string][]Response
	calls  []string
}

// NewExecutor returns an empty script.
func NewExecutor() *Executor {
	return &Executor{script: make(map[string][]Response)}
}

// On scripts the responses for a command line such as "log -1 main --pretty=format:%H".
func (e *Executor) On(args string, responses ...Response) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script[args] = append(e.script[args], responses...)
	return e
}

// Execute implements vcs.Executor.
func (e *Executor) Execute(_ context.Context, _ string, name string, args ...string) (*vcs.CommandResult, error) {
	key := strings.Join(args, " ")

	e.mu.Lock()
	e.calls = append(e.calls, key)
	var resp Response
	if queued := e.script[key]; len(queued) > 0 {
		resp = queued[0]
		if len(queued) > 1 {
			e.script[key] = queued[1:]
		}
	}
	e.mu.Unlock()

	command := vcs.FormatCommand(name, args...)
	if resp.Err != nil {
		return nil, &vcs.CommandError{Kind: vcs.ErrExecutionFailure, Command: command, Err: resp.Err}
	}

	return &vcs.CommandResult{
		Command:  command,
		ExitCode: resp.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
	}, nil
}

// Calls returns every recorded command line in order.
func (e *Executor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Reset forgets recorded calls but keeps the script.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

var mutating = []string{"pull", "merge", "rebase", "push", "commit", "add", "reset", "checkout"}

// MutatingCalls returns the recorded commands that change repository state.
func (e *Executor) MutatingCalls() []string {
	var out []string
	for _, c := range e.Calls() {
		verb, _, _ := strings.Cut(c, " ")
		for _, m := range mutating {
			if verb == m {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
