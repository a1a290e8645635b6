package worktreesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/yordan-kanchelov/git-worktree-sync/gitbackend"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(errors.New("plain error")) {
		t.Error("plain error should not be retryable")
	}
	if !isRetryable(&gitbackend.GitError{Kind: gitbackend.KindNetwork}) {
		t.Error("network GitError should be retryable")
	}
	if isRetryable(&gitbackend.GitError{Kind: gitbackend.KindAuth}) {
		t.Error("auth GitError should not be retryable")
	}
}

func TestWithRetry_succeedsFirstTry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), discardLogger(), "repo", RetryConfig{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 10, BackoffMultiplier: 2}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_nonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	wantErr := errors.New("terminal")
	err := withRetry(context.Background(), discardLogger(), "repo", RetryConfig{MaxAttempts: 5, InitialDelayMs: 1, MaxDelayMs: 10, BackoffMultiplier: 2}, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("withRetry() err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-retryable error)", calls)
	}
}

func TestWithRetry_exhaustsAttemptsOnRetryableError(t *testing.T) {
	calls := 0
	retryable := &gitbackend.GitError{Kind: gitbackend.KindNetwork, Err: errors.New("timeout")}
	err := withRetry(context.Background(), discardLogger(), "repo", RetryConfig{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 2, BackoffMultiplier: 2}, func(ctx context.Context) error {
		calls++
		return retryable
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("err = %v, want *SyncError", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_succeedsAfterTransientFailure(t *testing.T) {
	calls := 0
	retryable := &gitbackend.GitError{Kind: gitbackend.KindLockContention, Err: errors.New("locked")}
	err := withRetry(context.Background(), discardLogger(), "repo", RetryConfig{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 2, BackoffMultiplier: 2}, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return retryable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() err = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWithRetry_ctxCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retryable := &gitbackend.GitError{Kind: gitbackend.KindNetwork, Err: errors.New("timeout")}
	calls := 0
	err := withRetry(ctx, discardLogger(), "repo", RetryConfig{MaxAttempts: 5, InitialDelayMs: 50, MaxDelayMs: 100, BackoffMultiplier: 2}, func(ctx context.Context) error {
		calls++
		cancel()
		return retryable
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestJitter_withinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100, 1.0)
		if d < 0 || d > 100 {
			t.Fatalf("jitter() = %v, want within [0, 100]", d)
		}
	}
}
