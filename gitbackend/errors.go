package gitbackend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrorKind classifies a git failure so callers can branch on behavior
// instead of matching against stderr text. The one sanctioned exception
// is LFS smudge detection, which stays a substring match of last resort.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindNetwork
	KindAuth
	KindLockContention
	KindCorrupt
	KindLFS
	KindNotFound
	// KindNonFastForward is the typed replacement for matching
	// "Not possible to fast-forward" in an update error's message.
	KindNonFastForward
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindLockContention:
		return "lock-contention"
	case KindCorrupt:
		return "corrupt"
	case KindLFS:
		return "lfs"
	case KindNotFound:
		return "not-found"
	case KindNonFastForward:
		return "non-fast-forward"
	default:
		return "other"
	}
}

// GitError wraps a failed git invocation with a classification.
type GitError struct {
	Kind   ErrorKind
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s error: %v: %s", e.Kind, e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s error: %v", e.Kind, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// Retryable reports whether the error kind is a transient condition that
// the retry envelope should retry: network failures, lock contention, and
// OS-level transient filesystem busy/IO errors.
func (e *GitError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindLockContention:
		return true
	default:
		return false
	}
}

var (
	networkPatterns = regexp.MustCompile(`(?i)(could not resolve host|could not read from remote|connection (timed out|refused)|network is unreachable|temporary failure in name resolution|the remote end hung up unexpectedly|TLS handshake timeout|i/o timeout)`)

	authPatterns = regexp.MustCompile(`(?i)(permission denied|authentication failed|could not read username|403 forbidden|invalid credentials|access denied)`)

	lockPatterns = regexp.MustCompile(`(?i)(unable to create '.*\.lock'|index\.lock|another git process seems to be running|resource temporarily unavailable|device or resource busy)`)

	corruptPatterns = regexp.MustCompile(`(?i)(object file .* is empty|bad object|fatal: loose object|is not a valid object|did not send all necessary objects|repository is corrupt|fsck failed)`)

	lfsPattern = regexp.MustCompile(`(?i)smudge filter lfs`)

	notFoundPatterns = regexp.MustCompile(`(?i)(repository not found|does not exist|unknown revision or path|needed a single revision|couldn't find remote ref|fatal: reference is not a tree)`)

	nonFastForwardPattern = regexp.MustCompile(`(?i)not possible to fast-forward`)
)

// classify turns a raw error plus the stderr captured from a git
// invocation into a typed GitError.
func classify(err error, stderr string) *GitError {
	if err == nil {
		return nil
	}

	text := stderr
	if text == "" {
		text = err.Error()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &GitError{Kind: KindNetwork, Stderr: stderr, Err: err}
	case nonFastForwardPattern.MatchString(text):
		return &GitError{Kind: KindNonFastForward, Stderr: stderr, Err: err}
	case lfsPattern.MatchString(text):
		return &GitError{Kind: KindLFS, Stderr: stderr, Err: err}
	case lockPatterns.MatchString(text):
		return &GitError{Kind: KindLockContention, Stderr: stderr, Err: err}
	case authPatterns.MatchString(text):
		return &GitError{Kind: KindAuth, Stderr: stderr, Err: err}
	case networkPatterns.MatchString(text):
		return &GitError{Kind: KindNetwork, Stderr: stderr, Err: err}
	case corruptPatterns.MatchString(text):
		return &GitError{Kind: KindCorrupt, Stderr: stderr, Err: err}
	case notFoundPatterns.MatchString(text):
		return &GitError{Kind: KindNotFound, Stderr: stderr, Err: err}
	default:
		return &GitError{Kind: KindOther, Stderr: stderr, Err: err}
	}
}

// IsLFSSmudgeError reports whether err (or its stderr, if it's a GitError)
// indicates a LFS smudge filter failure.
func IsLFSSmudgeError(err error) bool {
	var gerr *GitError
	if errors.As(err, &gerr) {
		return gerr.Kind == KindLFS
	}
	return lfsPattern.MatchString(err.Error())
}

// IsNonFastForwardError reports whether err represents a concurrent update
// racing a fast-forward merge (origin moved between fetch and merge).
func IsNonFastForwardError(err error) bool {
	var gerr *GitError
	if errors.As(err, &gerr) {
		return gerr.Kind == KindNonFastForward
	}
	return nonFastForwardPattern.MatchString(err.Error())
}
