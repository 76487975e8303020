package vcs

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ===================
// Command Execution
// ===================

// ExecExecutor is the os/exec backed Executor.
type ExecExecutor struct {
	// Timeout bounds each command. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// NewExecutor returns an Executor that bounds every command by timeout.
func NewExecutor(timeout time.Duration) *ExecExecutor {
	return &ExecExecutor{Timeout: timeout}
}

// Execute runs a command with timeout and context support.
//
// Example:
//
//	res, err := NewExecutor(30*time.Second).Execute(ctx, repoRoot, "git", "status", "--porcelain")
func (e *ExecExecutor) Execute(ctx context.Context, dir string, name string, args ...string) (*CommandResult, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Command:  FormatCommand(name, args...),
		ExitCode: GetExitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		return result, &CommandError{Kind: ErrCommandFailure, Command: result.Command, Result: result, Err: ErrTimeout}
	}

	// No exit status: the binary never started or was killed by a signal.
	if result.ExitCode < 0 {
		return nil, &CommandError{Kind: ErrExecutionFailure, Command: result.Command, Err: err}
	}

	return result, nil
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// SplitFirstLine returns the first line and remaining lines separately.
func SplitFirstLine(output []byte) (string, []string) {
	lines := ParseLines(output)
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], lines[1:]
}

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output string) string {
	return strings.TrimSpace(output)
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, 0 for nil, or -1 if
// the error carries no exit status.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
