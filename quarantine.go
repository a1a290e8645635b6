package worktreesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const divergedDirName = ".diverged"

var unsafeBranchCharRgx = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// divergedInfo is the sidecar manifest written next to every quarantined
// worktree.
type divergedInfo struct {
	OriginalBranch string    `json:"originalBranch"`
	OriginalPath   string    `json:"originalPath"`
	Reason         string    `json:"reason"`
	DivergedAt     time.Time `json:"divergedAt"`
	LocalCommit    string    `json:"localCommit"`
	RemoteCommit   string    `json:"remoteCommit"`
	Instruction    string    `json:"instruction"`
}

// sanitizeBranchName replaces "/" and any other filesystem-unsafe
// character with "_" so a branch name is always safe to use as a
// directory component.
func sanitizeBranchName(branch string) string {
	return unsafeBranchCharRgx.ReplaceAllString(branch, "_")
}

// quarantineTargetName builds the "<YYYY-MM-DD>-<sanitizedBranch>-<short>"
// directory name. The random suffix comes from google/uuid rather than a
// time-seeded math/rand: multiple branches can be quarantined within the
// same reconciliation pass, so this needs to be collision-free without
// depending on distinct seeds across fast, possibly-concurrent calls.
func quarantineTargetName(now time.Time, branch string) string {
	short := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%s-%s", now.Format("2006-01-02"), sanitizeBranchName(branch), short)
}

// quarantineWorktree moves the worktree aside into
// <worktreeDir>/.diverged/<name>, writes its manifest, then removes and
// re-add the Git-side worktree bookkeeping so a fresh checkout replaces it
// at the remote tip. Any substep failure is logged by the caller and
// aborts only this branch.
func (r *Repository) quarantineWorktree(ctx context.Context, worktreeDir, branch, originalPath, localCommit, remoteCommit string, now time.Time) error {
	divergedRoot := filepath.Join(worktreeDir, divergedDirName)
	if err := os.MkdirAll(divergedRoot, 0o755); err != nil {
		return fmt.Errorf("unable to create %s: %w", divergedDirName, err)
	}

	target := filepath.Join(divergedRoot, quarantineTargetName(now, branch))

	if err := renameOrCopy(originalPath, target); err != nil {
		return fmt.Errorf("unable to move worktree into quarantine: %w", err)
	}

	info := divergedInfo{
		OriginalBranch: branch,
		OriginalPath:   originalPath,
		Reason:         "diverged-history-with-changes",
		DivergedAt:     now,
		LocalCommit:    localCommit,
		RemoteCommit:   remoteCommit,
		Instruction:    fmt.Sprintf("git diff origin/%s", branch),
	}
	// A failed manifest write does not unwind the move: a quarantine
	// without a companion manifest is preferable to blocking
	// reconciliation on this branch indefinitely.
	if err := writeDivergedInfo(target, info); err != nil {
		r.log.Error("unable to write diverged-info manifest", "branch", branch, "err", err)
	}

	if err := r.git.RemoveWorktree(ctx, originalPath); err != nil {
		return fmt.Errorf("unable to remove worktree bookkeeping after quarantine: %w", err)
	}
	if err := r.git.AddWorktree(ctx, branch, originalPath); err != nil {
		return fmt.Errorf("unable to re-add worktree after quarantine: %w", err)
	}

	recordQuarantine(r.repoLabel)
	return nil
}

func writeDivergedInfo(quarantineDir string, info divergedInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(quarantineDir+".diverged-info.json", data, 0o644)
}

// renameOrCopy renames the directory; on a cross-device error, it falls
// back to recursive copy then recursive remove so a half-moved directory
// is never left behind.
func renameOrCopy(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDeviceError(err) {
		return err
	}

	if err := copyDir(src, dst); err != nil {
		return fmt.Errorf("cross-device copy failed: %w", err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("cross-device copy succeeded but removing source failed: %w", err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode())
		}

		if d.Type()&fs.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}

		return copyFile(path, target, d)
	})
}

func copyFile(src, dst string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// isCrossDeviceError reports whether err is the EXDEV failure os.Rename
// returns when src and dst are on different filesystems/volumes.
func isCrossDeviceError(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
