package vcs

import (
	"errors"
	"fmt"
)

// Errors returned by command execution and commit resolution.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrCommandFailure) {
//	    // the command ran but its result cannot be trusted
//	}
var (
	// ErrExecutionFailure is returned when a process could not be started
	// or its exit code could not be determined.
	ErrExecutionFailure = errors.New("command could not be executed")

	// ErrCommandFailure is returned by strict callers when a command exited
	// nonzero or wrote to stderr.
	ErrCommandFailure = errors.New("command failed")

	// ErrInvalidCommitFormat is returned when a resolved commit identifier
	// is not exactly 40 lowercase hexadecimal characters.
	ErrInvalidCommitFormat = errors.New("invalid commit format")

	// ErrTimeout is returned when a command exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrDetached is returned when HEAD is not on a branch.
	ErrDetached = errors.New("not on a branch")

	// ErrNotInVCS is returned when the configured path is not inside
	// a git repository.
	ErrNotInVCS = errors.New("not in a git repository")

	// ErrVCSNotAvailable is returned when the git binary is not installed
	// or not in PATH.
	ErrVCSNotAvailable = errors.New("git binary not available")

	// ErrNoRemote is returned when the configured remote does not exist.
	ErrNoRemote = errors.New("remote not configured")

	// ErrUnsupportedVersion is returned when the installed git is too old.
	ErrUnsupportedVersion = errors.New("unsupported git version")
)

// CommandError describes a failed command. Kind is one of the sentinel
// errors above; Err is the underlying cause, if any.
type CommandError struct {
	Kind    error
	Command string
	Result  *CommandResult
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Command)
	if e.Result != nil {
		msg += fmt.Sprintf(" (exit %d)", e.Result.ExitCode)
		if excerpt := e.Result.StderrExcerpt(200); excerpt != "" {
			msg += ": " + excerpt
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ExitCode returns the exit code carried by err, or -1 when err does not
// carry a command result.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Result != nil {
		return cmdErr.Result.ExitCode
	}
	return -1
}

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrNotInVCS) ||
		errors.Is(err, ErrVCSNotAvailable) ||
		errors.Is(err, ErrUnsupportedVersion)
}
