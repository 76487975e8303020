package git

import (
	"context"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// Fetch updates the remote-tracking ref for branch.
// Success is judged by exit code alone; git reports progress on stderr.
func (r *Repo) Fetch(ctx context.Context, remote, branch string) (*vcs.CommandResult, error) {
	if remote == "" {
		remote = DefaultRemote
	}
	return r.mutate(ctx, "fetch", remote, branch)
}

// Pull merges the remote branch into the current branch.
func (r *Repo) Pull(ctx context.Context, remote, branch string) (*vcs.CommandResult, error) {
	if remote == "" {
		remote = DefaultRemote
	}
	return r.mutate(ctx, "pull", "--no-rebase", "--no-edit", remote, branch)
}

// MergeAbort cancels an in-progress merge. It is best-effort: the result
// is returned for reporting and failures are never errors, since there is
// usually nothing to abort.
func (r *Repo) MergeAbort(ctx context.Context) *vcs.CommandResult {
	res, _ := r.run(ctx, "merge", "--abort")
	return res
}

// Rebase replays local commits onto the remote-tracking ref.
func (r *Repo) Rebase(ctx context.Context, remote, branch string) (*vcs.CommandResult, error) {
	return r.mutate(ctx, "rebase", TrackingRef(remote, branch))
}

// RebaseAbort cancels an in-progress rebase. Best-effort, like MergeAbort.
func (r *Repo) RebaseAbort(ctx context.Context) *vcs.CommandResult {
	res, _ := r.run(ctx, "rebase", "--abort")
	return res
}

// Push publishes the local branch to the same-named remote branch.
func (r *Repo) Push(ctx context.Context, remote, branch string) (*vcs.CommandResult, error) {
	if remote == "" {
		remote = DefaultRemote
	}
	return r.mutate(ctx, "push", remote, branch+":"+branch)
}
