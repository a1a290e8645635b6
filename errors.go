package worktreesync

import "fmt"

// SyncError is returned by Sync once retries are exhausted, carrying the
// number of attempts made.
type SyncError struct {
	Message  string
	Cause    error
	Attempts int
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s (after %d attempt(s)): %v", e.Message, e.Attempts, e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}
