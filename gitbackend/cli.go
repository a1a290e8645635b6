package gitbackend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yordan-kanchelov/git-worktree-sync/internal/utils"
)

const defaultRefSpec = "+refs/heads/*:refs/remotes/origin/*"

// to parse output of "git ls-remote --symref origin HEAD"
// ref: refs/heads/xxxx  HEAD
var remoteDefaultBranchRgx = regexp.MustCompile(`^ref:\s+refs/heads/([^\s]+)\s+HEAD`)

// CLI is the production Backend, shelling out to the git binary. It is safe
// for concurrent use only to the extent that the caller serializes access to
// a single bare repository (the Reconciler does this via internal/lock).
type CLI struct {
	exe     string
	bareDir string
	envs    []string
	log     *slog.Logger
}

// New returns a Backend bound to the bare repository at bareDir. gitExec
// defaults to "git" resolved from PATH when empty.
func New(gitExec, bareDir string, envs []string, log *slog.Logger) *CLI {
	if gitExec == "" {
		gitExec = exec.Command("git").String()
	}
	if log == nil {
		log = slog.Default()
	}
	return &CLI{exe: gitExec, bareDir: bareDir, envs: envs, log: log}
}

// SetEnv replaces the environment variables passed to every subsequent git
// invocation. The Reconciler calls it once per pass with its base envs plus
// the freshly computed auth envs; GIT_LFS_SKIP_SMUDGE is toggled separately,
// per call, by withLFSSkip.
func (c *CLI) SetEnv(envs []string) { c.envs = envs }

func (c *CLI) git(ctx context.Context, cwd string, args ...string) (string, error) {
	if cwd == "" {
		cwd = c.bareDir
	}

	out, errOut, err := utils.RunCommand(ctx, c.log, c.envs, cwd, c.exe, args...)
	if err != nil {
		return "", classify(fmt.Errorf("git %s: %w", strings.Join(args, " "), err), errOut)
	}
	return out, nil
}

// withLFSSkip runs fn with GIT_LFS_SKIP_SMUDGE=1 appended to the backend's
// environment for the duration of the call, then restores the prior
// environment (including removing the variable if it was never set).
func (c *CLI) withLFSSkip(skip bool, fn func() error) error {
	if !skip {
		return fn()
	}
	prior := c.envs
	c.envs = append(append([]string{}, prior...), "GIT_LFS_SKIP_SMUDGE=1")
	defer func() { c.envs = prior }()
	return fn()
}

func (c *CLI) InitBare(ctx context.Context, remote, barePath, worktreeDir string) (string, error) {
	if _, err := os.Stat(barePath + "/HEAD"); err != nil {
		if err := rejectRootLikeParent(barePath); err != nil {
			return "", &GitError{Kind: KindOther, Err: err}
		}
		if err := os.MkdirAll(barePath, 0o755); err != nil {
			return "", &GitError{Kind: KindOther, Err: fmt.Errorf("unable to create bare repo dir: %w", err)}
		}
		if _, err := c.git(ctx, barePath, "clone", "--bare", remote, barePath); err != nil {
			return "", err
		}
	}

	c.bareDir = barePath

	if err := c.ensureFetchRefspec(ctx); err != nil {
		return "", err
	}

	defaultBranch, err := c.getRemoteDefaultBranch(ctx)
	if err != nil {
		return "", err
	}

	mainPath := worktreeDir + "/main"
	if _, err := os.Stat(mainPath); err != nil {
		if _, err := c.git(ctx, "", "worktree", "add", mainPath, defaultBranch); err != nil {
			return "", err
		}
	}

	return defaultBranch, nil
}

// rejectRootLikeParent refuses to create a bare repo whose parent
// directory is a filesystem root: "/", ".", a Windows drive root
// ("C:\"), or a path that resolves to barePath itself (which would make
// MkdirAll a no-op pointing at the root). This guards against a blank or
// misconfigured bare_repo_dir silently treating the filesystem root as
// scratch space.
func rejectRootLikeParent(barePath string) error {
	parent := filepath.Dir(barePath)

	absParent, err := filepath.Abs(parent)
	if err != nil {
		return fmt.Errorf("unable to resolve parent of %s: %w", barePath, err)
	}
	absBare, err := filepath.Abs(barePath)
	if err != nil {
		return fmt.Errorf("unable to resolve %s: %w", barePath, err)
	}

	if parent == "/" || parent == "." || absParent == absBare || isWindowsDriveRoot(parent) {
		return fmt.Errorf("refusing to use root-like parent directory %q for bare repo %q", parent, barePath)
	}
	return nil
}

func isWindowsDriveRoot(p string) bool {
	if len(p) != 3 || p[1] != ':' || (p[2] != '\\' && p[2] != '/') {
		return false
	}
	return (p[0] >= 'A' && p[0] <= 'Z') || (p[0] >= 'a' && p[0] <= 'z')
}

// ensureFetchRefspec reads the current refspec, and only appends the
// mirror-all-branches refspec if it isn't already present.
func (c *CLI) ensureFetchRefspec(ctx context.Context) error {
	// git config --get-all exits non-zero with empty stderr when the key
	// is unset; that is a legitimate "absent" answer, not a failure.
	out, _ := c.git(ctx, "", "config", "--get-all", "remote.origin.fetch")

	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == defaultRefSpec {
			return nil
		}
	}

	_, err := c.git(ctx, "", "config", "--add", "remote.origin.fetch", defaultRefSpec)
	return err
}

func (c *CLI) getRemoteDefaultBranch(ctx context.Context) (string, error) {
	out, err := c.git(ctx, "", "ls-remote", "--symref", "origin", "HEAD")
	if err != nil {
		return "", err
	}
	m := remoteDefaultBranchRgx.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", &GitError{Kind: KindOther, Err: fmt.Errorf("unable to parse ls-remote output: %s", out)}
	}
	return m[1], nil
}

func (c *CLI) Fetch(ctx context.Context, skipLFS bool) error {
	return c.withLFSSkip(skipLFS, func() error {
		_, err := c.git(ctx, "", "fetch", "origin", "--all", "--prune", "--no-progress")
		return err
	})
}

func (c *CLI) FetchBranch(ctx context.Context, branch string, skipLFS bool) error {
	return c.withLFSSkip(skipLFS, func() error {
		_, err := c.git(ctx, "", "fetch", "origin", "--prune", "--no-progress", branch+":refs/remotes/origin/"+branch)
		return err
	})
}

func (c *CLI) ListRemoteBranches(ctx context.Context) ([]string, error) {
	out, err := c.git(ctx, "", "for-each-ref", "--format=%(refname:short)", "refs/remotes/origin/")
	if err != nil {
		return nil, err
	}
	return parseBranchList(out), nil
}

func parseBranchList(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := strings.TrimPrefix(line, "origin/")
		if name == "HEAD" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (c *CLI) ListRemoteBranchesWithActivity(ctx context.Context) ([]BranchActivity, error) {
	out, err := c.git(ctx, "", "for-each-ref",
		"--format=%(refname:short)|%(committerdate:iso-strict)", "refs/remotes/origin/")
	if err != nil {
		return nil, err
	}

	var activity []BranchActivity
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "origin/")
		if name == "HEAD" {
			continue
		}
		t, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			continue
		}
		activity = append(activity, BranchActivity{Name: name, LastActivity: t})
	}
	return activity, nil
}

func (c *CLI) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	out, err := c.git(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreePorcelain(out), nil
}

// ParseWorktreePorcelain parses `git worktree list --porcelain` output: it
// accumulates "path " / "branch " lines into a record, flushes the record on
// a blank line, and flushes the trailing record if the output has no final
// blank line.
func ParseWorktreePorcelain(out string) []Worktree {
	var worktrees []Worktree
	var cur Worktree
	var have bool

	flush := func() {
		if have && cur.Path != "" {
			worktrees = append(worktrees, cur)
		}
		cur = Worktree{}
		have = false
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			if have {
				flush()
			}
			cur.Path = strings.TrimPrefix(line, "worktree ")
			have = true
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			have = true
		}
	}
	flush()

	return worktrees
}

func (c *CLI) AddWorktree(ctx context.Context, branch, absPath string) error {
	_, err := c.git(ctx, "", "worktree", "add", absPath, "origin/"+branch, "-b", branch)
	if err == nil {
		return nil
	}
	var gerr *GitError
	if as, ok := err.(*GitError); ok {
		gerr = as
	}
	if gerr != nil && strings.Contains(gerr.Stderr, "already exists") {
		// local branch already tracked by a previous (now orphaned)
		// worktree; check it out without -b.
		_, err = c.git(ctx, "", "worktree", "add", absPath, branch)
		return err
	}
	return err
}

func (c *CLI) RemoveWorktree(ctx context.Context, absPath string) error {
	_, err := c.git(ctx, "", "worktree", "remove", "--force", absPath)
	return err
}

func (c *CLI) PruneWorktrees(ctx context.Context) error {
	_, err := c.git(ctx, "", "worktree", "prune", "--verbose")
	return err
}

func (c *CLI) IsClean(ctx context.Context, path string) (bool, error) {
	out, err := c.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

func (c *CLI) HasUnpushedCommits(ctx context.Context, path, branch string) (bool, error) {
	out, err := c.git(ctx, path, "log", branch, "--not", "--remotes", "--oneline")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (c *CLI) HasStash(ctx context.Context, path string) (bool, error) {
	out, err := c.git(ctx, path, "stash", "list")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

var opInProgressFiles = []string{"MERGE_HEAD", "REBASE_HEAD", "CHERRY_PICK_HEAD", "REVERT_HEAD", "BISECT_LOG"}

func (c *CLI) HasOperationInProgress(ctx context.Context, path string) (bool, error) {
	gitDir, err := c.gitDir(ctx, path)
	if err != nil {
		return false, err
	}
	for _, f := range opInProgressFiles {
		if _, err := os.Stat(gitDir + "/" + f); err == nil {
			return true, nil
		}
	}
	for _, d := range []string{"rebase-apply", "rebase-merge"} {
		if fi, err := os.Stat(gitDir + "/" + d); err == nil && fi.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLI) gitDir(ctx context.Context, path string) (string, error) {
	return c.git(ctx, path, "rev-parse", "--git-dir")
}

func (c *CLI) HasModifiedSubmodules(ctx context.Context, path string) (bool, error) {
	out, err := c.git(ctx, path, "submodule", "status")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 0 && (line[0] == '+' || line[0] == '-') {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLI) UpstreamGone(ctx context.Context, path, branch string) (bool, error) {
	_, err := c.git(ctx, path, "rev-parse", "--verify", "origin/"+branch)
	if err == nil {
		return false, nil
	}
	var gerr *GitError
	if as, ok := err.(*GitError); ok {
		gerr = as
	}
	if gerr != nil && gerr.Kind == KindNotFound {
		return true, nil
	}
	// An unclassified failure (corrupt repo, permission error, ...) is
	// not evidence the upstream branch is gone; surface it instead of
	// spuriously triggering the manual-review path.
	return false, err
}

func (c *CLI) FullStatus(ctx context.Context, path, branch string) (Status, error) {
	status := Status{Path: path, Branch: branch}

	clean, err := c.IsClean(ctx, path)
	if err != nil {
		return Status{}, wrapCorrupt(err)
	}
	status.IsClean = clean

	unpushed, err := c.HasUnpushedCommits(ctx, path, branch)
	if err != nil {
		return Status{}, wrapCorrupt(err)
	}
	status.HasUnpushedCommits = unpushed

	stash, err := c.HasStash(ctx, path)
	if err != nil {
		return Status{}, wrapCorrupt(err)
	}
	status.HasStash = stash

	op, err := c.HasOperationInProgress(ctx, path)
	if err != nil {
		return Status{}, wrapCorrupt(err)
	}
	status.HasOperationInProgress = op

	subs, err := c.HasModifiedSubmodules(ctx, path)
	if err != nil {
		return Status{}, wrapCorrupt(err)
	}
	status.HasModifiedSubmodules = subs

	gone, _ := c.UpstreamGone(ctx, path, branch)
	status.UpstreamGone = gone

	return status, nil
}

// wrapCorrupt ensures any failure inside FullStatus surfaces as a
// Corrupt/Other GitError, which the Reconciler always treats as "do not
// delete".
func wrapCorrupt(err error) error {
	var gerr *GitError
	if as, ok := err.(*GitError); ok {
		gerr = as
	} else {
		return &GitError{Kind: KindOther, Err: err}
	}
	if gerr.Kind == KindCorrupt || gerr.Kind == KindOther {
		return gerr
	}
	return &GitError{Kind: KindCorrupt, Stderr: gerr.Stderr, Err: gerr}
}

func (c *CLI) IsBehind(ctx context.Context, path, branch string) (bool, error) {
	out, err := c.git(ctx, path, "rev-list", "--count", "HEAD..origin/"+branch)
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, &GitError{Kind: KindOther, Err: err}
	}
	return n > 0, nil
}

func (c *CLI) CanFastForward(ctx context.Context, path, branch string) (bool, error) {
	_, err := c.git(ctx, path, "merge-base", "--is-ancestor", "HEAD", "origin/"+branch)
	if err == nil {
		return true, nil
	}
	if as, ok := err.(*GitError); ok && as.Stderr == "" {
		// exit status 1 with no stderr means "not an ancestor", a
		// clean negative answer, not a failure.
		return false, nil
	}
	return false, err
}

func (c *CLI) CompareTreeContent(ctx context.Context, path, branch string) (bool, error) {
	localTree, err := c.git(ctx, path, "rev-parse", "HEAD^{tree}")
	if err != nil {
		return false, err
	}
	remoteTree, err := c.git(ctx, path, "rev-parse", "origin/"+branch+"^{tree}")
	if err != nil {
		return false, err
	}
	return localTree == remoteTree, nil
}

func (c *CLI) Update(ctx context.Context, path, branch string) error {
	_, err := c.git(ctx, path, "merge", "--ff-only", "origin/"+branch)
	return err
}

func (c *CLI) ResetToUpstream(ctx context.Context, path, branch string) error {
	_, err := c.git(ctx, path, "reset", "--hard", "origin/"+branch)
	return err
}

func (c *CLI) CurrentCommit(ctx context.Context, path string) (string, error) {
	return c.git(ctx, path, "rev-parse", "HEAD")
}

func (c *CLI) RemoteCommit(ctx context.Context, branch string) (string, error) {
	return c.git(ctx, "", "rev-parse", "origin/"+branch)
}
