package metadatastore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	bareDir := t.TempDir()
	s := New(bareDir)

	now := time.Now().UTC().Truncate(time.Second)
	m := SynthesizeInitial("abc123", "feature-x", "main", now)

	if err := s.Save("feature-x", m); err != nil {
		t.Fatalf("Save() err = %v", err)
	}

	got, err := s.Load("feature-x", filepath.Dir(bareDir), "feature-x")
	if err != nil {
		t.Fatalf("Load() err = %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_missingIsNotError(t *testing.T) {
	s := New(t.TempDir())
	m, err := s.Load("nope", "/parent", "nope")
	if err != nil {
		t.Fatalf("Load() err = %v, want nil", err)
	}
	if m != nil {
		t.Errorf("Load() = %+v, want nil for missing sidecar", m)
	}
}

func TestLoad_legacyMigration(t *testing.T) {
	bareDir := t.TempDir()
	s := New(bareDir)

	legacy := s.legacyPath("/worktrees", "feature-x")
	if err := os.MkdirAll(filepath.Dir(legacy), 0o755); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	m := SynthesizeInitial("abc123", "feature-x", "main", now)
	if err := s.Save("ignored", m); err != nil {
		t.Fatal(err)
	}
	// write the legacy copy directly, bypassing the canonical path
	data, err := os.ReadFile(s.path("ignored"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(legacy, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(s.path("ignored")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("feature-x", "/worktrees", "feature-x")
	if err != nil {
		t.Fatalf("Load() err = %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("migrated record mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(s.path("feature-x")); err != nil {
		t.Errorf("expected canonical sidecar to exist after migration: %v", err)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Errorf("expected legacy sidecar to be removed after migration, stat err = %v", err)
	}
}

func TestUpdateLastSync_evictsBeyondCap(t *testing.T) {
	s := New(t.TempDir())
	now := time.Now().UTC().Truncate(time.Second)
	m := SynthesizeInitial("c0", "feature-x", "main", now)

	for i := 0; i < MaxHistoryEntries+5; i++ {
		var err error
		m, err = s.UpdateLastSync("feature-x", m, "c"+string(rune('a'+i)), ActionFetched, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("UpdateLastSync() err = %v", err)
		}
	}

	if len(m.SyncHistory) != MaxHistoryEntries {
		t.Fatalf("len(SyncHistory) = %d, want %d", len(m.SyncHistory), MaxHistoryEntries)
	}
	// the oldest entries should have been evicted, newest retained
	if m.SyncHistory[len(m.SyncHistory)-1].Commit != m.LastSyncCommit {
		t.Errorf("last history entry commit = %q, want %q", m.SyncHistory[len(m.SyncHistory)-1].Commit, m.LastSyncCommit)
	}
}

func TestMetadata_Valid(t *testing.T) {
	cases := []struct {
		name string
		m    *Metadata
		want bool
	}{
		{"nil", nil, false},
		{"empty commit", &Metadata{LastSyncDate: time.Now()}, false},
		{"non-hex commit", &Metadata{LastSyncCommit: "not-hex!", LastSyncDate: time.Now()}, false},
		{"zero date", &Metadata{LastSyncCommit: "abc123"}, false},
		{"valid", &Metadata{LastSyncCommit: "abc123", LastSyncDate: time.Now()}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoadFile_invalidJSONTreatedAsMissing(t *testing.T) {
	bareDir := t.TempDir()
	s := New(bareDir)
	p := s.path("broken")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := s.loadFile(p)
	if err != nil {
		t.Fatalf("loadFile() err = %v, want nil (invalid treated as missing)", err)
	}
	if m != nil {
		t.Errorf("loadFile() = %+v, want nil", m)
	}
}
