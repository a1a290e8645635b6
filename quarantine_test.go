package worktreesync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeBranchName(t *testing.T) {
	cases := map[string]string{
		"feature/LCR-8879": "feature_LCR-8879",
		"release/v1.2.3":   "release_v1.2.3",
		"plain":            "plain",
		"weird!name?":      "weird_name_",
	}
	for in, want := range cases {
		if got := sanitizeBranchName(in); got != want {
			t.Errorf("sanitizeBranchName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuarantineTargetName(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	name := quarantineTargetName(now, "feature/foo")
	if !strings.HasPrefix(name, "2026-07-31-feature_foo-") {
		t.Errorf("quarantineTargetName() = %q, want prefix 2026-07-31-feature_foo-", name)
	}
	// two calls at the same instant must not collide
	if quarantineTargetName(now, "feature/foo") == name {
		t.Error("quarantineTargetName() produced the same name twice")
	}
}

func TestWriteDivergedInfo(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "2026-07-31-feature_foo-abcd1234")
	info := divergedInfo{
		OriginalBranch: "feature/foo",
		OriginalPath:   "/worktrees/feature/foo",
		Reason:         "diverged-history-with-changes",
		DivergedAt:     time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		LocalCommit:    "aaa",
		RemoteCommit:   "bbb",
		Instruction:    "git diff origin/feature/foo",
	}
	if err := writeDivergedInfo(target, info); err != nil {
		t.Fatalf("writeDivergedInfo() err = %v", err)
	}

	data, err := os.ReadFile(target + ".diverged-info.json")
	if err != nil {
		t.Fatalf("ReadFile() err = %v", err)
	}
	var got divergedInfo
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() err = %v", err)
	}
	if got != info {
		t.Errorf("round-tripped info = %+v, want %+v", got, info)
	}
}

func TestRenameOrCopy_sameFilesystem(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "file.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := renameOrCopy(src, dst); err != nil {
		t.Fatalf("renameOrCopy() err = %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("expected src to be gone, stat err = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "file.txt"))
	if err != nil {
		t.Fatalf("ReadFile(dst) err = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("dst file.txt = %q, want %q", data, "hello")
	}
}

func TestCopyDir_preservesNestedStructureAndSymlinks(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	if err := os.MkdirAll(filepath.Join(src, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a", "b", "leaf.txt"), []byte("leaf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("leaf.txt", filepath.Join(src, "a", "b", "link.txt")); err != nil {
		t.Fatal(err)
	}

	if err := copyDir(src, dst); err != nil {
		t.Fatalf("copyDir() err = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "a", "b", "leaf.txt"))
	if err != nil {
		t.Fatalf("ReadFile() err = %v", err)
	}
	if string(data) != "leaf" {
		t.Errorf("leaf.txt = %q, want %q", data, "leaf")
	}

	linkTarget, err := os.Readlink(filepath.Join(dst, "a", "b", "link.txt"))
	if err != nil {
		t.Fatalf("Readlink() err = %v", err)
	}
	if linkTarget != "leaf.txt" {
		t.Errorf("link target = %q, want %q", linkTarget, "leaf.txt")
	}
}
