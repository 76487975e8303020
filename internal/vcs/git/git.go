// Package git drives the git CLI against a single working copy.
//
// It provides the commit oracle used by the sync engine (current branch,
// commit resolution, equality of a branch and its remote-tracking ref) and
// the mutating operations the engine falls back to when the two diverge
// (fetch, pull, rebase, push and their abort counterparts).
//
// Read-only queries are strict: a nonzero exit or any stderr output fails
// the query. Mutating operations report their results and leave the
// decision to the caller.
package git

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// DefaultRemote is used when no remote is configured.
const DefaultRemote = "origin"

// Repo runs git commands in one repository root.
type Repo struct {
	// root is the repository root directory path
	root string

	// binary is the git executable name or path
	binary string

	exec vcs.Executor
}

// Option configures a Repo.
type Option func(*Repo)

// WithExecutor replaces the process executor.
func WithExecutor(e vcs.Executor) Option {
	return func(r *Repo) {
		r.exec = e
	}
}

// WithBinary sets the git executable.
func WithBinary(name string) Option {
	return func(r *Repo) {
		if name != "" {
			r.binary = name
		}
	}
}

// New creates a Repo for the repository containing path.
// The path should be somewhere within a git repository.
func New(ctx context.Context, path string, opts ...Option) (*Repo, error) {
	r := Open(path, opts...)

	if err := r.detect(ctx, path); err != nil {
		return nil, err
	}

	return r, nil
}

// Open creates a Repo rooted at root without probing it.
func Open(root string, opts ...Option) *Repo {
	r := &Repo{
		root:   root,
		binary: "git",
		exec:   vcs.NewExecutor(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the repository root directory path.
func (r *Repo) Root() string {
	return r.root
}

// run executes a git command. Only spawn failures are errors.
func (r *Repo) run(ctx context.Context, args ...string) (*vcs.CommandResult, error) {
	return r.exec.Execute(ctx, r.root, r.binary, args...)
}

// query executes a read-only git command and returns its trimmed stdout.
// Any nonzero exit or stderr output is a failure.
func (r *Repo) query(ctx context.Context, args ...string) (string, *vcs.CommandResult, error) {
	res, err := r.run(ctx, args...)
	if err != nil {
		return "", res, err
	}
	if !res.Clean() {
		return "", res, &vcs.CommandError{Kind: vcs.ErrCommandFailure, Command: res.Command, Result: res}
	}
	return vcs.TrimOutput(res.Stdout), res, nil
}

// mutate executes a git command whose exit code decides success; stderr
// is informational.
func (r *Repo) mutate(ctx context.Context, args ...string) (*vcs.CommandResult, error) {
	res, err := r.run(ctx, args...)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, &vcs.CommandError{Kind: vcs.ErrCommandFailure, Command: res.Command, Result: res}
	}
	return res, nil
}

// detect resolves the repository root for path.
func (r *Repo) detect(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	res, err := r.exec.Execute(ctx, absPath, r.binary, "rev-parse", "--show-toplevel")
	if err != nil {
		return fmt.Errorf("%w: %w", vcs.ErrVCSNotAvailable, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: %s", vcs.ErrNotInVCS, absPath)
	}

	root := vcs.TrimOutput(res.Stdout)
	if root == "" {
		return fmt.Errorf("%w: %s is not a working tree", vcs.ErrNotInVCS, absPath)
	}

	r.root = normalizeRepoRoot(root)
	return nil
}

// normalizeRepoRoot normalizes the repository root path
// Resolves symlinks and canonicalizes separators
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}
