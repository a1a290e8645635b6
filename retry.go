package worktreesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/yordan-kanchelov/git-worktree-sync/gitbackend"
)

// isRetryable classifies an error as transient: network, lock-contention,
// or a typed *gitbackend.GitError marked Retryable(). An error with no
// typed classification (a plain context or application error) is treated
// as terminal.
func isRetryable(err error) bool {
	var gerr *gitbackend.GitError
	if errors.As(err, &gerr) {
		return gerr.Retryable()
	}
	return false
}

// jitter returns a duration between 0 and maxFactor*d.
func jitter(d time.Duration, maxFactor float64) time.Duration {
	return time.Duration(rand.Float64() * maxFactor * float64(d))
}

// withRetry runs fn under the bounded exponential backoff in cfg. Non-retryable
// errors are surfaced immediately (no wasted attempts); retryable errors are
// retried with jittered backoff up to cfg.MaxAttempts (<=0 meaning
// unlimited).
func withRetry(ctx context.Context, log *slog.Logger, repo string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	delay := time.Duration(cfg.InitialDelayMs) * time.Millisecond
	maxDelay := time.Duration(cfg.MaxDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts {
			break
		}

		recordRetry(repo)
		log.Warn(fmt.Sprintf("⚠️  Sync attempt %d failed: %v", attempt, err))
		log.Warn("🔄 Retrying synchronization...")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay, 1.0) + delay/2):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return &SyncError{Message: "❌ Error during worktree synchronization after all retry attempts", Cause: lastErr, Attempts: cfg.MaxAttempts}
}
