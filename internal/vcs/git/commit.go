package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// FileStatus is one line of `git status --porcelain`.
type FileStatus struct {
	// Path relative to the repository root
	Path string

	// Staged and Unstaged are the X and Y status letters
	Staged   byte
	Unstaged byte
}

// Conflicted reports whether the entry is an unmerged path.
func (s FileStatus) Conflicted() bool {
	return s.Staged == 'U' || s.Unstaged == 'U' || (s.Staged == 'A' && s.Unstaged == 'A') || (s.Staged == 'D' && s.Unstaged == 'D')
}

// Status returns the status of files in the working directory.
func (r *Repo) Status(ctx context.Context) ([]FileStatus, error) {
	res, err := r.mutate(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	return parseStatus(res.Stdout), nil
}

// parseStatus parses porcelain v1 output: "XY path".
func parseStatus(output string) []FileStatus {
	var statuses []FileStatus
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}

		path := strings.TrimSpace(line[3:])
		// Renames are reported as "old -> new"
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}

		statuses = append(statuses, FileStatus{
			Path:     path,
			Staged:   line[0],
			Unstaged: line[1],
		})
	}
	return statuses
}

// CommitAll stages every change in the working tree and commits it.
// It returns false without committing when the tree is clean.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	if message == "" {
		return false, fmt.Errorf("commit message is required")
	}

	statuses, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	if len(statuses) == 0 {
		return false, nil
	}
	for _, s := range statuses {
		if s.Conflicted() {
			return false, fmt.Errorf("%w: %s is unmerged", vcs.ErrCommandFailure, s.Path)
		}
	}

	if _, err := r.mutate(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}

	if _, err := r.mutate(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit failed: %w", err)
	}

	return true, nil
}
