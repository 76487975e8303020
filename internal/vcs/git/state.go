package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Operation is a multi-step git operation left in progress.
type Operation string

const (
	OpNone   Operation = ""
	OpRebase Operation = "rebase"
	OpMerge  Operation = "merge"
)

// GitDir returns the absolute path of the repository's git directory.
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	dir, _, err := r.query(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", fmt.Errorf("git rev-parse --absolute-git-dir failed: %w", err)
	}
	return dir, nil
}

// OperationInProgress reports an unfinished rebase or merge, which the
// reconciliation aborts would otherwise have cleaned up.
func (r *Repo) OperationInProgress(ctx context.Context) (Operation, error) {
	dir, err := r.GitDir(ctx)
	if err != nil {
		return OpNone, err
	}

	// rebase-merge for interactive and merge backends, rebase-apply for am
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return OpRebase, nil
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "MERGE_HEAD")); err == nil {
		return OpMerge, nil
	}
	return OpNone, nil
}

// ConflictedFiles returns the unmerged paths of the working tree.
func (r *Repo) ConflictedFiles(ctx context.Context) ([]string, error) {
	statuses, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var conflicts []string
	for _, s := range statuses {
		if s.Conflicted() {
			conflicts = append(conflicts, s.Path)
		}
	}
	return conflicts, nil
}
