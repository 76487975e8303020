// Package lock keeps one notesync process per repository.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another notesync instance is already running for this repository")

// Lock is a held repository lock.
type Lock struct {
	fl   *flock.Flock
	repo string
}

// Path returns the lock file used for repo inside dir.
func Path(dir, repo string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(repo)))
	return filepath.Join(dir, "notesync-"+hex.EncodeToString(sum[:])[:16]+".lock")
}

// Acquire takes the lock for repo without blocking.
func Acquire(dir, repo string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(Path(dir, repo))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrAlreadyRunning, fl.Path())
	}

	// Best effort: the pid helps whoever finds a stale-looking lock
	_ = os.WriteFile(fl.Path(), []byte(fmt.Sprintf("%d\n%s\n", os.Getpid(), repo)), 0o644)

	return &Lock{fl: fl, repo: repo}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks. The file is left in place; removing it would race with
// a process that has just opened it.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
