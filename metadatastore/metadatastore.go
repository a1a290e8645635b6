// Package metadatastore persists the per-worktree sync sidecar that makes
// "diverged-with-local-changes" decidable: the last commit the Reconciler
// synced to, the upstream branch it tracks, provenance, and a bounded
// history of sync events.
package metadatastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// MaxHistoryEntries bounds syncHistory; the oldest entries are evicted.
const MaxHistoryEntries = 10

var hexCommitRgx = regexp.MustCompile(`^[0-9a-f]+$`)

// Action is the kind of event recorded in SyncHistory.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionFetched Action = "fetched"
)

// HistoryEntry is one bounded sync-history record.
type HistoryEntry struct {
	Date   time.Time `json:"date"`
	Commit string    `json:"commit"`
	Action Action    `json:"action"`
}

// CreatedFrom records the provenance of a worktree's initial checkout.
type CreatedFrom struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// Metadata is the sidecar document for one worktree.
type Metadata struct {
	LastSyncCommit string         `json:"lastSyncCommit"`
	LastSyncDate   time.Time      `json:"lastSyncDate"`
	UpstreamBranch string         `json:"upstreamBranch"`
	CreatedFrom    CreatedFrom    `json:"createdFrom"`
	SyncHistory    []HistoryEntry `json:"syncHistory"`
}

// Valid reports whether m is usable: a hex-only lastSyncCommit and a
// lastSyncDate that round-trips.
func (m *Metadata) Valid() bool {
	if m == nil {
		return false
	}
	if m.LastSyncCommit == "" || !hexCommitRgx.MatchString(m.LastSyncCommit) {
		return false
	}
	if m.LastSyncDate.IsZero() {
		return false
	}
	return true
}

// Store resolves and persists sidecar files under a bare clone's
// .git/worktrees/<dirname>/ directories.
type Store struct {
	bareDir string
}

// New returns a Store rooted at the given bare clone directory.
func New(bareDir string) *Store {
	return &Store{bareDir: bareDir}
}

// path is the canonical location: always derived from the worktree's
// directory name (Git's internal key), never the branch name, since
// branches can be renamed or recreated under a different directory.
func (s *Store) path(dirName string) string {
	return filepath.Join(s.bareDir, ".git", "worktrees", dirName, "sync-metadata.json")
}

// legacyPath is the pre-worktrees-aware flat layout this store migrates
// away from when found: a single "metadata" directory under the bare
// clone, keyed by "<parent-dirname>_<basename>.json" (see DESIGN.md for
// the reasoning behind this layout).
func (s *Store) legacyPath(worktreeParentDir, baseName string) string {
	return filepath.Join(s.bareDir, "metadata", filepath.Base(worktreeParentDir)+"_"+baseName+".json")
}

// Load reads the sidecar for dirName. A missing or invalid file is legal
// ("unknown provenance") and returns (nil, nil), never an error a caller
// needs to handle specially — callers should treat nil conservatively.
func (s *Store) Load(dirName, worktreeParentDir, baseName string) (*Metadata, error) {
	m, err := s.loadFile(s.path(dirName))
	if err == nil && m != nil {
		return m, nil
	}

	legacy := s.legacyPath(worktreeParentDir, baseName)
	m, err = s.loadFile(legacy)
	if err != nil || m == nil {
		return nil, nil
	}

	// migrate: re-save under the canonical path, then remove the legacy
	// file (and its directory, if now empty).
	if saveErr := s.Save(dirName, m); saveErr != nil {
		return m, nil
	}
	_ = os.Remove(legacy)
	if entries, err := os.ReadDir(filepath.Dir(legacy)); err == nil && len(entries) == 0 {
		_ = os.Remove(filepath.Dir(legacy))
	}

	return m, nil
}

func (s *Store) loadFile(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil // invalid record treated as missing
	}
	if !m.Valid() {
		return nil, nil
	}
	return &m, nil
}

// Save writes the sidecar for dirName, creating its parent directory if
// needed.
func (s *Store) Save(dirName string, m *Metadata) error {
	p := s.path(dirName)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("unable to create metadata dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal metadata: %w", err)
	}
	return os.WriteFile(p, data, 0o644)
}

// UpdateLastSync appends a history entry (evicting the oldest beyond
// MaxHistoryEntries) and advances lastSyncCommit/lastSyncDate, saving the
// result.
func (s *Store) UpdateLastSync(dirName string, m *Metadata, commit string, action Action, now time.Time) (*Metadata, error) {
	if m == nil {
		m = &Metadata{}
	}
	m.LastSyncCommit = commit
	m.LastSyncDate = now
	m.SyncHistory = append(m.SyncHistory, HistoryEntry{Date: now, Commit: commit, Action: action})
	if len(m.SyncHistory) > MaxHistoryEntries {
		m.SyncHistory = m.SyncHistory[len(m.SyncHistory)-MaxHistoryEntries:]
	}

	if err := s.Save(dirName, m); err != nil {
		return m, err
	}
	return m, nil
}

// SynthesizeInitial builds metadata for a worktree that has none yet,
// derived from its current HEAD, its upstream branch, and a provided
// default branch.
func SynthesizeInitial(headCommit, currentBranch, defaultBranch string, now time.Time) *Metadata {
	branch := currentBranch
	if branch == "" {
		branch = defaultBranch
	}
	return &Metadata{
		LastSyncCommit: headCommit,
		LastSyncDate:   now,
		UpstreamBranch: "origin/" + branch,
		CreatedFrom:    CreatedFrom{Branch: branch, Commit: headCommit},
		SyncHistory:    []HistoryEntry{{Date: now, Commit: headCommit, Action: ActionCreated}},
	}
}
