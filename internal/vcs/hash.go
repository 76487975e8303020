package vcs

import "fmt"

// CommitHashLength is the length of a full SHA-1 commit identifier.
const CommitHashLength = 40

// CommitHash is a validated full commit identifier: exactly 40 characters,
// each in [0-9a-f].
type CommitHash string

// ParseCommitHash validates s. Surrounding whitespace is not trimmed here;
// callers trim command output before parsing.
func ParseCommitHash(s string) (CommitHash, error) {
	if len(s) != CommitHashLength {
		return "", fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidCommitFormat, s, len(s), CommitHashLength)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: %q has invalid character %q at %d", ErrInvalidCommitFormat, s, c, i)
		}
	}
	return CommitHash(s), nil
}

func (h CommitHash) String() string {
	return string(h)
}

// Short returns the first 8 characters, for log lines.
func (h CommitHash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}
