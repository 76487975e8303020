package git

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	gogit "github.com/go-git/go-git/v5"
	"golang.org/x/mod/semver"

	"github.com/szagi3891/notatki-panel/internal/vcs"
)

// MinVersion is the oldest git that supports `branch --show-current`.
const MinVersion = "v2.22.0"

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Version returns the installed git version in semver form ("v2.39.2").
func (r *Repo) Version(ctx context.Context) (string, error) {
	out, _, err := r.query(ctx, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	return parseVersion(out)
}

// parseVersion extracts a semver from "git version 2.39.2 (Apple Git-143)".
func parseVersion(out string) (string, error) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unrecognized git version output %q", out)
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	return fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch), nil
}

// PreflightReport describes the repository the engine is about to manage.
type PreflightReport struct {
	Root       string
	GitVersion string
	Head       string
	Remote     string
	RemoteURLs []string

	// InProgress is an unfinished rebase or merge; Conflicts its unmerged paths
	InProgress Operation
	Conflicts  []string
}

// Preflight checks that the installed git is recent enough, that the root
// opens as a repository and that remote is configured.
func (r *Repo) Preflight(ctx context.Context, remote string) (*PreflightReport, error) {
	if remote == "" {
		remote = DefaultRemote
	}
	report := &PreflightReport{Root: r.root, Remote: remote}

	version, err := r.Version(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", vcs.ErrVCSNotAvailable, err)
	}
	report.GitVersion = version
	if semver.Compare(version, MinVersion) < 0 {
		return report, fmt.Errorf("%w: %s is older than %s", vcs.ErrUnsupportedVersion, version, MinVersion)
	}

	repo, err := gogit.PlainOpenWithOptions(r.root, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return report, fmt.Errorf("%w: %s: %w", vcs.ErrNotInVCS, r.root, err)
	}

	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		report.Head = head.Name().Short()
	}

	rem, err := repo.Remote(remote)
	if err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return report, fmt.Errorf("%w: %s", vcs.ErrNoRemote, remote)
		}
		return report, fmt.Errorf("failed to read remote %s: %w", remote, err)
	}
	report.RemoteURLs = rem.Config().URLs

	op, err := r.OperationInProgress(ctx)
	if err != nil {
		return report, err
	}
	report.InProgress = op
	if op != OpNone {
		if report.Conflicts, err = r.ConflictedFiles(ctx); err != nil {
			return report, err
		}
	}

	return report, nil
}
