// Package gitbackend is a thin, typed contract over the git CLI: clone-bare,
// fetch, list branches, list/add/remove/prune worktrees, query status, and
// the handful of comparisons the Reconciler needs to decide whether a
// worktree is behind, diverged, or aligned with its upstream.
//
// It exists as its own package, rather than methods scattered across the
// Repository type, so the Reconciler's decision logic can be tested
// against a fake Backend without invoking the real git binary for every
// scenario.
package gitbackend

import (
	"context"
	"time"
)

// Worktree is one entry from `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Branch string
}

// BranchActivity pairs a remote branch name with the commit time of its tip,
// used for branchMaxAge filtering.
type BranchActivity struct {
	Name         string
	LastActivity time.Time
}

// Status captures the six independent safety predicates for one worktree
// plus enough raw data for the Reconciler to decide its state transition.
type Status struct {
	Path                   string
	Branch                 string
	IsClean                bool
	HasUnpushedCommits     bool
	HasStash               bool
	HasOperationInProgress bool
	HasModifiedSubmodules  bool
	UpstreamGone           bool
}

// Backend is the contract the Reconciler drives. A production
// implementation (CLI, below) shells out to the git binary; tests supply a
// fake.
type Backend interface {
	// SetEnv replaces the environment variables passed to every
	// subsequent git invocation (credentials, SSH options). The
	// Reconciler calls this once per pass before InitBare/Fetch so
	// short-lived credentials (e.g. a GitHub App installation token) are
	// refreshed on every Sync.
	SetEnv(envs []string)

	// InitBare ensures a bare clone of remote exists at barePath, with
	// the origin fetch refspec configured exactly once and a main
	// worktree checked out at <worktreeDir>/main tracking the remote's
	// default branch. Idempotent.
	InitBare(ctx context.Context, remote, barePath, worktreeDir string) (defaultBranch string, err error)

	// Fetch runs `fetch --all --prune`. skipLFS, when true, exports
	// GIT_LFS_SKIP_SMUDGE=1 for the call.
	Fetch(ctx context.Context, skipLFS bool) error

	// FetchBranch fetches a single branch, used for the per-branch LFS
	// fallback path.
	FetchBranch(ctx context.Context, branch string, skipLFS bool) error

	// ListRemoteBranches returns branch names under origin/, prefix
	// stripped, in the order git reports them.
	ListRemoteBranches(ctx context.Context) ([]string, error)

	// ListRemoteBranchesWithActivity is the same, annotated with each
	// branch's tip commit time, for branchMaxAge filtering.
	ListRemoteBranchesWithActivity(ctx context.Context) ([]BranchActivity, error)

	// ListWorktrees parses `git worktree list --porcelain`.
	ListWorktrees(ctx context.Context) ([]Worktree, error)

	AddWorktree(ctx context.Context, branch, absPath string) error
	RemoveWorktree(ctx context.Context, absPath string) error
	PruneWorktrees(ctx context.Context) error

	IsClean(ctx context.Context, path string) (bool, error)
	HasUnpushedCommits(ctx context.Context, path, branch string) (bool, error)
	HasStash(ctx context.Context, path string) (bool, error)
	HasOperationInProgress(ctx context.Context, path string) (bool, error)
	HasModifiedSubmodules(ctx context.Context, path string) (bool, error)
	UpstreamGone(ctx context.Context, path, branch string) (bool, error)

	// FullStatus composes all six predicates. Any internal failure
	// surfaces as a GitError with Kind Corrupt or Other, which callers
	// must treat as "do not delete".
	FullStatus(ctx context.Context, path, branch string) (Status, error)

	IsBehind(ctx context.Context, path, branch string) (bool, error)
	CanFastForward(ctx context.Context, path, branch string) (bool, error)
	// CompareTreeContent reports whether path's checked-out tree is
	// identical to origin/branch's tree, regardless of history.
	CompareTreeContent(ctx context.Context, path, branch string) (bool, error)

	// Update performs a fast-forward-only merge of origin/branch into
	// path. Fails with KindNonFastForward if the remote moved between
	// the CanFastForward check and this call.
	Update(ctx context.Context, path, branch string) error
	// ResetToUpstream hard-resets path to origin/branch.
	ResetToUpstream(ctx context.Context, path, branch string) error

	CurrentCommit(ctx context.Context, path string) (string, error)
	RemoteCommit(ctx context.Context, branch string) (string, error)
}
