package git

import (
	"context"
	"fmt"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// CurrentBranch returns the checked-out branch name.
// A detached HEAD yields an error wrapping both vcs.ErrCommandFailure and
// vcs.ErrDetached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, res, err := r.query(ctx, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	if out == "" {
		return "", &vcs.CommandError{Kind: vcs.ErrCommandFailure, Command: res.Command, Result: res, Err: vcs.ErrDetached}
	}

	return out, nil
}

// ResolveCommit returns the full hash of the commit ref points at.
func (r *Repo) ResolveCommit(ctx context.Context, ref string) (vcs.CommitHash, error) {
	out, _, err := r.query(ctx, "log", "-1", ref, "--pretty=format:%H")
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	hash, err := vcs.ParseCommitHash(out)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	return hash, nil
}

// TrackingRef returns the remote-tracking ref name for branch.
func TrackingRef(remote, branch string) string {
	if remote == "" {
		remote = DefaultRemote
	}
	return remote + "/" + branch
}

// CommitPair holds the two sides of an equality check.
type CommitPair struct {
	Branch   string
	Tracking vcs.CommitHash
	Local    vcs.CommitHash
}

// Equal reports whether both sides resolved to the same commit.
func (p CommitPair) Equal() bool {
	return p.Tracking != "" && p.Tracking == p.Local
}

// CommitsEqual resolves the remote-tracking ref and the local branch tip
// independently and compares them. Either resolution failing fails the
// check.
func (r *Repo) CommitsEqual(ctx context.Context, remote, branch string) (CommitPair, error) {
	pair := CommitPair{Branch: branch}

	tracking, err := r.ResolveCommit(ctx, TrackingRef(remote, branch))
	if err != nil {
		return pair, err
	}
	pair.Tracking = tracking

	local, err := r.ResolveCommit(ctx, branch)
	if err != nil {
		return pair, err
	}
	pair.Local = local

	return pair, nil
}
