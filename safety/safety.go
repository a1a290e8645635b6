// Package safety implements the pure predicate that gates every
// destructive worktree action: a worktree may only be removed if doing so
// destroys no user work.
package safety

import (
	"strings"

	"github.com/yordan-kanchelov/git-worktree-sync/gitbackend"
)

// Verdict is the outcome of evaluating a worktree's status.
type Verdict struct {
	CanRemove bool
	Reasons   []string
}

// JoinedReasons returns Reasons joined with ", " for logging.
func (v Verdict) JoinedReasons() string {
	return strings.Join(v.Reasons, ", ")
}

// Evaluate is pure and total: canRemove := isClean ∧ ¬hasUnpushed ∧
// ¬hasStash ∧ ¬hasOperationInProgress ∧ ¬hasModifiedSubmodules.
// upstreamGone does not by itself forbid removal. Reasons are emitted in a
// fixed order so callers get stable log output across repeated passes.
func Evaluate(status gitbackend.Status) Verdict {
	var reasons []string

	if !status.IsClean {
		reasons = append(reasons, "uncommitted changes")
	}
	if status.HasUnpushedCommits {
		reasons = append(reasons, "unpushed commits")
	}
	if status.HasStash {
		reasons = append(reasons, "stashed changes")
	}
	if status.HasOperationInProgress {
		reasons = append(reasons, "operation in progress")
	}
	if status.HasModifiedSubmodules {
		reasons = append(reasons, "modified submodules")
	}

	return Verdict{
		CanRemove: len(reasons) == 0,
		Reasons:   reasons,
	}
}

// EvaluateError is the verdict used when predicate evaluation itself
// failed: conservatively never removable.
func EvaluateError() Verdict {
	return Verdict{CanRemove: false, Reasons: []string{"error checking worktree"}}
}

// NeedsManualReview reports whether status represents the distinguished
// "upstream gone but unpushed commits exist" case that the Reconciler must
// warn about instead of silently retaining.
func NeedsManualReview(status gitbackend.Status) bool {
	return status.UpstreamGone && status.HasUnpushedCommits
}
