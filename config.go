// Package worktreesync reconciles a directory of Git worktrees against the
// branches of a remote repository: worktrees are created for new branches,
// fast-forwarded or quarantined for drifted ones, and removed for branches
// that no longer exist on the remote — without ever discarding unpushed
// commits, stashes, in-progress operations, or modified submodules.
package worktreesync

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

const (
	defaultInterval          = 5 * time.Minute
	defaultSyncTimeout       = 2 * time.Minute
	MinAllowedInterval       = time.Second
	defaultSSHKeyPath        = "/etc/git-secret/ssh"
	defaultSSHKnownHostsPath = "/etc/git-secret/known_hosts"
)

var branchMaxAgeRgx = regexp.MustCompile(`^(\d+)([hdwmy])$`)

// Config is the configuration for one repository's reconciliation engine.
type Config struct {
	// Remote is the git URL of the repository to reconcile.
	Remote string `yaml:"remote"`

	// BareRepoDir is the absolute path where the bare clone is kept. If
	// empty it is derived from Remote under a cache root.
	BareRepoDir string `yaml:"bare_repo_dir"`

	// WorktreeDir is the absolute path under which one worktree per
	// remote branch is checked out, plus the "main" default-branch
	// worktree and the ".diverged" quarantine directory.
	WorktreeDir string `yaml:"worktree_dir"`

	// SyncTimeout bounds a single Sync() pass end to end.
	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// UpdateExistingWorktrees enables step 7 of the pipeline (update or
	// quarantine worktrees whose branch still exists upstream). Off by
	// default: a reconciler may be run purely to create/delete worktrees.
	UpdateExistingWorktrees bool `yaml:"update_existing_worktrees"`

	// BranchMaxAge, when set, restricts reconciliation to branches whose
	// tip commit was committed within this window. Format: <N>{h|d|w|m|y}.
	BranchMaxAge string `yaml:"branch_max_age"`

	// SkipLFS exports GIT_LFS_SKIP_SMUDGE=1 for every fetch, bypassing
	// the LFS-smudge-failure fallback path entirely.
	SkipLFS bool `yaml:"skip_lfs"`

	// Auth carries the credentials used to authenticate fetches.
	Auth Auth `yaml:"auth"`

	// Retry configures the bounded backoff wrapping Sync and its fetch
	// step.
	Retry RetryConfig `yaml:"retry"`
}

// Auth holds the four supported credential mechanisms (username/password,
// token, SSH key, GitHub App), picked by whichever fields are populated.
type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	SSHKeyPath        string `yaml:"ssh_key_path"`
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`

	GithubAppID             string `yaml:"github_app_id"`
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// RetryConfig bounds the exponential backoff around Sync and its fetch
// step. A negative MaxAttempts means unlimited; zero is replaced with the
// default of 3 by ValidateAndApplyDefaults.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// ValidateAndApplyDefaults validates the config and fills in unset fields,
// splitting cleanly between "reject bad input" and "fill in sane
// defaults".
func (c *Config) ValidateAndApplyDefaults() error {
	if c.Remote == "" {
		return fmt.Errorf("remote cannot be empty")
	}
	if c.WorktreeDir == "" {
		return fmt.Errorf("worktree_dir cannot be empty")
	}
	if !filepath.IsAbs(c.WorktreeDir) {
		return fmt.Errorf("worktree_dir '%s' must be absolute", c.WorktreeDir)
	}
	if c.BareRepoDir != "" && !filepath.IsAbs(c.BareRepoDir) {
		return fmt.Errorf("bare_repo_dir '%s' must be absolute", c.BareRepoDir)
	}

	if c.SyncTimeout == 0 {
		c.SyncTimeout = defaultSyncTimeout
	}
	if c.SyncTimeout < MinAllowedInterval {
		return fmt.Errorf("sync_timeout (%s) is too short, must be >= %s", c.SyncTimeout, MinAllowedInterval)
	}

	if c.BranchMaxAge != "" {
		if _, err := parseBranchMaxAge(c.BranchMaxAge); err != nil {
			return fmt.Errorf("invalid branch_max_age: %w", err)
		}
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 1000
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 30000
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2
	}

	return nil
}

// parseBranchMaxAge parses the "<N>{h|d|w|m|y}" shape. Calendar units
// (week/month/year) are not fixed-length durations, so this cannot be
// expressed with time.ParseDuration; this is a small hand-rolled parser on
// regexp/strconv/time instead.
func parseBranchMaxAge(s string) (time.Duration, error) {
	m := branchMaxAgeRgx.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("branch_max_age '%s' does not match <N>{h|d|w|m|y}", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("branch_max_age '%s' has invalid number: %w", s, err)
	}

	const day = 24 * time.Hour
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * day, nil
	case "w":
		return time.Duration(n) * 7 * day, nil
	case "m":
		return time.Duration(n) * 30 * day, nil
	case "y":
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("branch_max_age '%s' has unrecognised unit '%s'", s, m[2])
	}
}
