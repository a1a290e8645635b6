package worktreesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yordan-kanchelov/git-worktree-sync/gitbackend"
	"github.com/yordan-kanchelov/git-worktree-sync/giturl"
	"github.com/yordan-kanchelov/git-worktree-sync/internal/lock"
	"github.com/yordan-kanchelov/git-worktree-sync/metadatastore"
	"github.com/yordan-kanchelov/git-worktree-sync/safety"
)

// DefaultRepoDir is where a bare clone is created when Config.BareRepoDir
// is left empty: a cache root derived from the repo's URL, not the
// worktree root, so the bare clone survives worktreeDir being wiped.
func DefaultRepoDir(cacheRoot string) string {
	return filepath.Join(cacheRoot, "repo-mirrors")
}

// Repository owns a bare clone, a worktrees root, and the metadata store
// sidecar files, and exposes the single Sync entrypoint that drives the
// reconciliation state machine. Safe for concurrent use; re-entrant Sync
// calls block on the internal lock rather than running two passes at
// once.
type Repository struct {
	lock lock.RWMutex

	gitURL *giturl.URL
	remote string

	bareDir     string
	worktreeDir string
	cfg         Config

	git      gitbackend.Backend
	baseEnvs []string
	meta     *metadatastore.Store
	log      *slog.Logger

	repoLabel     string
	defaultBranch string

	githubAppToken          string
	githubAppTokenExpiresAt time.Time
}

// New constructs a Repository from cfg. The bare clone is neither created
// nor validated until Sync is first called.
func New(cfg Config, gitExec string, envs []string, log *slog.Logger) (*Repository, error) {
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}

	remote := giturl.NormaliseURL(cfg.Remote)
	gURL, err := giturl.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("unable to parse remote url: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("repo", gURL.Repo)

	if gitExec == "" {
		gitExec = exec.Command("git").String()
	}

	bareDir := cfg.BareRepoDir
	if bareDir == "" {
		repoDir := gURL.Repo
		if !strings.HasSuffix(repoDir, ".git") {
			repoDir += ".git"
		}
		cacheRoot, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("unable to resolve default bare repo dir: %w", err)
		}
		bareDir = filepath.Join(DefaultRepoDir(filepath.Join(cacheRoot, "git-worktree-sync")), gURL.Path, repoDir)
	}

	r := &Repository{
		gitURL:      gURL,
		remote:      remote,
		bareDir:     bareDir,
		worktreeDir: cfg.WorktreeDir,
		cfg:         cfg,
		git:         gitbackend.New(gitExec, bareDir, envs, log),
		baseEnvs:    envs,
		meta:        metadatastore.New(bareDir),
		log:         log,
		repoLabel:   gURL.Repo,
	}
	return r, nil
}

// Sync runs one reconciliation pass: fetch, enumerate, sweep orphans,
// create missing worktrees, update or quarantine existing ones, delete
// stale ones, prune. It is wrapped in the bounded retry envelope so
// transient failures anywhere in the pipeline — not just the fetch step —
// are retried with backoff.
func (r *Repository) Sync(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.SyncTimeout)
	defer cancel()

	start := time.Now()
	err := withRetry(ctx, r.log, r.repoLabel, r.cfg.Retry, r.runOnce)
	recordSync(r.repoLabel, err == nil, start)
	return err
}

// runOnce is the body of one pass: init, fetch, enumerate, sweep, create,
// reconcile, delete, prune.
func (r *Repository) runOnce(ctx context.Context) error {
	// Credentials (GitHub App tokens especially) are short-lived, so
	// authEnv is recomputed on every pass rather than once at
	// construction; it is appended to, never replacing, the base envs
	// the caller constructed the Repository with.
	r.git.SetEnv(append(append([]string{}, r.baseEnvs...), r.authEnv(ctx)...))

	defaultBranch, err := r.git.InitBare(ctx, r.remote, r.bareDir, r.worktreeDir)
	if err != nil {
		return fmt.Errorf("unable to init bare repo: %w", err)
	}
	r.defaultBranch = defaultBranch

	// Step 1: fetch.
	if err := r.fetch(ctx); err != nil {
		return err
	}

	// Step 2: enumerate remote branches, optionally age-filtered.
	branches, err := r.listBranches(ctx)
	if err != nil {
		return fmt.Errorf("unable to list remote branches: %w", err)
	}

	// Step 3: ensure worktree root exists.
	if err := os.MkdirAll(r.worktreeDir, 0o755); err != nil {
		return fmt.Errorf("unable to create worktree root: %w", err)
	}

	// Step 4: enumerate worktrees.
	worktrees, err := r.git.ListWorktrees(ctx)
	if err != nil {
		return fmt.Errorf("unable to list worktrees: %w", err)
	}

	// Step 5: orphan sweep.
	r.sweepOrphans(worktrees)

	branchSet := make(map[string]bool, len(branches))
	for _, b := range branches {
		branchSet[b] = true
	}
	worktreeByBranch := make(map[string]gitbackend.Worktree, len(worktrees))
	for _, w := range worktrees {
		worktreeByBranch[w.Branch] = w
	}

	// Step 6: create missing worktrees.
	for _, b := range branches {
		if b == r.defaultBranch {
			continue
		}
		if _, exists := worktreeByBranch[b]; exists {
			continue
		}
		r.createWorktree(ctx, b)
	}

	// Step 7: update or quarantine existing worktrees.
	if r.cfg.UpdateExistingWorktrees {
		for _, w := range worktrees {
			if !branchSet[w.Branch] || w.Branch == "" {
				continue
			}
			r.reconcileExisting(ctx, w)
		}
	}

	// Step 8: delete stale worktrees.
	for _, w := range worktrees {
		if w.Branch == "" || branchSet[w.Branch] || w.Branch == r.defaultBranch {
			continue
		}
		r.deleteStale(ctx, w)
	}

	// Step 9: prune. Non-critical: logged, never fails the pass.
	if err := r.git.PruneWorktrees(ctx); err != nil {
		r.log.Error("unable to prune worktrees", "err", err)
	}

	return nil
}

// fetch runs a plain fetch, with a per-branch GIT_LFS_SKIP_SMUDGE fallback
// if the plain fetch fails on an LFS smudge error and skipLFS isn't
// already configured.
func (r *Repository) fetch(ctx context.Context) error {
	err := r.git.Fetch(ctx, r.cfg.SkipLFS)
	if err == nil {
		return nil
	}
	if !gitbackend.IsLFSSmudgeError(err) {
		return fmt.Errorf("unable to fetch: %w", err)
	}
	if r.cfg.SkipLFS {
		return errors.New("LFS error retry limit exceeded")
	}

	branches, listErr := r.git.ListRemoteBranches(ctx)
	if listErr != nil {
		return fmt.Errorf("unable to fetch (lfs fallback) and unable to list branches: %w", listErr)
	}
	for _, b := range branches {
		if ferr := r.git.FetchBranch(ctx, b, true); ferr != nil {
			r.log.Error("unable to fetch branch with lfs skip", "branch", b, "err", ferr)
		}
	}
	return nil
}

// listBranches enumerates remote branches, optionally age-filtered.
func (r *Repository) listBranches(ctx context.Context) ([]string, error) {
	if r.cfg.BranchMaxAge == "" {
		return r.git.ListRemoteBranches(ctx)
	}

	maxAge, err := parseBranchMaxAge(r.cfg.BranchMaxAge)
	if err != nil {
		return nil, err
	}

	activity, err := r.git.ListRemoteBranchesWithActivity(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var kept []string
	excluded := 0
	for _, a := range activity {
		if a.LastActivity.Before(cutoff) {
			excluded++
			continue
		}
		kept = append(kept, a.Name)
	}
	if excluded > 0 {
		r.log.Info("excluded branches outside branch_max_age window", "count", excluded)
	}
	return kept, nil
}

// sweepOrphans removes directories under the worktree root that are
// neither a registered worktree nor a path-prefix directory of one: a
// prefix-aware dirents scan, predicate-gated os.RemoveAll, errors logged
// and skipped rather than aborting the pass.
func (r *Repository) sweepOrphans(worktrees []gitbackend.Worktree) {
	entries, err := os.ReadDir(r.worktreeDir)
	if err != nil {
		r.log.Error("orphan sweep: unable to read worktree root, skipping", "err", err)
		return
	}

	var relPaths []string
	for _, w := range worktrees {
		if rel, err := filepath.Rel(r.worktreeDir, w.Path); err == nil {
			relPaths = append(relPaths, rel)
		}
	}

	removed := 0
	for _, e := range entries {
		if e.Name() == divergedDirName {
			continue
		}
		if !e.IsDir() {
			continue
		}
		if isPartOfWorktree(e.Name(), relPaths) {
			continue
		}

		p := filepath.Join(r.worktreeDir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			r.log.Error("orphan sweep: unable to remove orphan directory", "path", p, "err", err)
			continue
		}
		r.log.Info("orphan sweep: removed orphan directory", "path", p)
		removed++
	}
	recordOrphansRemoved(r.repoLabel, removed)
}

// isPartOfWorktree reports whether entry is itself a worktree's relative
// path, or a path-prefix directory of one (e.g. "feat" is a prefix of
// "feat/LCR-8879").
func isPartOfWorktree(entry string, relPaths []string) bool {
	for _, rel := range relPaths {
		if rel == entry {
			return true
		}
		if strings.HasPrefix(rel, entry+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// createWorktree checks out a new worktree for branch and records its
// initial sync metadata.
func (r *Repository) createWorktree(ctx context.Context, branch string) {
	path := filepath.Join(r.worktreeDir, branch)
	if err := r.git.AddWorktree(ctx, branch, path); err != nil {
		r.log.Error("unable to create worktree", "branch", branch, "err", err)
		return
	}

	commit, err := r.git.CurrentCommit(ctx, path)
	if err != nil {
		r.log.Error("unable to read commit for newly created worktree", "branch", branch, "err", err)
		return
	}
	dirName := filepath.Base(path)
	now := time.Now()
	m := metadatastore.SynthesizeInitial(commit, branch, r.defaultBranch, now)
	if err := r.meta.Save(dirName, m); err != nil {
		r.log.Error("unable to save metadata for newly created worktree", "branch", branch, "err", err)
	}
}

// reconcileExisting decides and applies the transition for an existing
// worktree: fast-forward, clean-rebase reset, or quarantine-and-recreate,
// driven by the observed Status.
func (r *Repository) reconcileExisting(ctx context.Context, w gitbackend.Worktree) {
	status, err := r.git.FullStatus(ctx, w.Path, w.Branch)
	if err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
		return
	}

	verdict := safety.Evaluate(status)
	if !verdict.CanRemove {
		// "in-progress"/"dirty" worktrees are skipped entirely, whether
		// or not they are ahead or behind: we never touch a dirty tree.
		r.log.Info(fmt.Sprintf("  - ⚠️ Skipping update of '%s' due to: %s.", w.Branch, verdict.JoinedReasons()))
		return
	}

	canFF, err := r.git.CanFastForward(ctx, w.Path, w.Branch)
	if err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
		return
	}

	dirName := filepath.Base(w.Path)

	if canFF {
		behind, err := r.git.IsBehind(ctx, w.Path, w.Branch)
		if err != nil {
			r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
			return
		}
		if !behind {
			return
		}
		if err := r.git.Update(ctx, w.Path, w.Branch); err != nil {
			if gitbackend.IsNonFastForwardError(err) {
				// the remote moved between CanFastForward and Update;
				// treat as diverged and fall through.
				r.reconcileDiverged(ctx, w, dirName)
				return
			}
			r.log.Error(fmt.Sprintf("Failed to update '%s':", w.Branch), "err", err)
			return
		}
		r.recordSyncedCommit(ctx, w.Path, dirName, w.Branch, metadatastore.ActionUpdated)
		return
	}

	r.reconcileDiverged(ctx, w, dirName)
}

// reconcileDiverged handles the "cannot fast-forward" branch of step 7:
// a clean rebase resets cleanly; a genuine divergence with local changes
// is quarantined.
func (r *Repository) reconcileDiverged(ctx context.Context, w gitbackend.Worktree, dirName string) {
	sameTree, err := r.git.CompareTreeContent(ctx, w.Path, w.Branch)
	if err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
		return
	}
	if sameTree {
		if err := r.git.ResetToUpstream(ctx, w.Path, w.Branch); err != nil {
			r.log.Error(fmt.Sprintf("Failed to update '%s':", w.Branch), "err", err)
			return
		}
		r.recordSyncedCommit(ctx, w.Path, dirName, w.Branch, metadatastore.ActionUpdated)
		return
	}

	currentCommit, err := r.git.CurrentCommit(ctx, w.Path)
	if err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
		return
	}

	parentDir := filepath.Dir(w.Path)
	meta, _ := r.meta.Load(dirName, parentDir, filepath.Base(w.Path))
	if meta != nil && meta.Valid() && meta.LastSyncCommit == currentCommit {
		if err := r.git.ResetToUpstream(ctx, w.Path, w.Branch); err != nil {
			r.log.Error(fmt.Sprintf("Failed to update '%s':", w.Branch), "err", err)
			return
		}
		r.recordSyncedCommit(ctx, w.Path, dirName, w.Branch, metadatastore.ActionUpdated)
		return
	}

	remoteCommit, err := r.git.RemoteCommit(ctx, w.Branch)
	if err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
		return
	}
	if err := r.quarantineWorktree(ctx, r.worktreeDir, w.Branch, w.Path, currentCommit, remoteCommit, time.Now()); err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
	}
}

// recordSyncedCommit updates the metadata sidecar after a successful
// update/reset.
func (r *Repository) recordSyncedCommit(ctx context.Context, path, dirName, branch string, action metadatastore.Action) {
	commit, err := r.git.CurrentCommit(ctx, path)
	if err != nil {
		r.log.Error("unable to read commit after update, metadata not recorded", "branch", branch, "err", err)
		return
	}
	parentDir := filepath.Dir(path)
	meta, _ := r.meta.Load(dirName, parentDir, filepath.Base(path))
	if _, err := r.meta.UpdateLastSync(dirName, meta, commit, action, time.Now()); err != nil {
		r.log.Error("unable to update metadata", "branch", branch, "err", err)
	}
}

// deleteStale removes the worktree iff the safety evaluator permits it;
// otherwise it logs reasons, distinguishing the
// upstream-gone-with-unpushed-commits case with a manual-review warning.
func (r *Repository) deleteStale(ctx context.Context, w gitbackend.Worktree) {
	status, err := r.git.FullStatus(ctx, w.Path, w.Branch)
	var verdict safety.Verdict
	if err != nil {
		r.log.Error(fmt.Sprintf("Error checking worktree '%s': %v", w.Branch, err))
		verdict = safety.EvaluateError()
	} else {
		verdict = safety.Evaluate(status)
		if safety.NeedsManualReview(status) {
			r.log.Warn(fmt.Sprintf("⚠️  Cannot automatically remove '%s' - upstream branch was deleted but local commits exist.", w.Branch))
			r.log.Warn(fmt.Sprintf("    run: git worktree remove --force %s", w.Path))
			return
		}
	}

	if !verdict.CanRemove {
		r.log.Info(fmt.Sprintf("  - ⚠️ Skipping removal of '%s' due to: %s.", w.Branch, verdict.JoinedReasons()))
		return
	}

	if err := r.git.RemoveWorktree(ctx, w.Path); err != nil {
		r.log.Error("unable to remove stale worktree", "branch", w.Branch, "err", err)
	}
}
