package safety

import (
	"testing"

	"github.com/yordan-kanchelov/git-worktree-sync/gitbackend"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		status    gitbackend.Status
		canRemove bool
		reasons   []string
	}{
		{
			name:      "clean aligned",
			status:    gitbackend.Status{IsClean: true},
			canRemove: true,
		},
		{
			name:      "uncommitted changes",
			status:    gitbackend.Status{IsClean: false},
			canRemove: false,
			reasons:   []string{"uncommitted changes"},
		},
		{
			name: "operation in progress and dirty, in fixed order",
			status: gitbackend.Status{
				IsClean:                false,
				HasOperationInProgress: true,
			},
			canRemove: false,
			reasons:   []string{"uncommitted changes", "operation in progress"},
		},
		{
			name: "every veto reason, in fixed order",
			status: gitbackend.Status{
				IsClean:                false,
				HasUnpushedCommits:     true,
				HasStash:               true,
				HasOperationInProgress: true,
				HasModifiedSubmodules:  true,
			},
			canRemove: false,
			reasons: []string{
				"uncommitted changes", "unpushed commits", "stashed changes",
				"operation in progress", "modified submodules",
			},
		},
		{
			name:      "upstream gone alone does not veto removal",
			status:    gitbackend.Status{IsClean: true, UpstreamGone: true},
			canRemove: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Evaluate(tc.status)
			if v.CanRemove != tc.canRemove {
				t.Errorf("CanRemove = %v, want %v", v.CanRemove, tc.canRemove)
			}
			if len(v.Reasons) != len(tc.reasons) {
				t.Fatalf("Reasons = %v, want %v", v.Reasons, tc.reasons)
			}
			for i := range tc.reasons {
				if v.Reasons[i] != tc.reasons[i] {
					t.Errorf("Reasons[%d] = %q, want %q", i, v.Reasons[i], tc.reasons[i])
				}
			}
		})
	}
}

func TestNeedsManualReview(t *testing.T) {
	if !NeedsManualReview(gitbackend.Status{UpstreamGone: true, HasUnpushedCommits: true}) {
		t.Error("expected upstream-gone + unpushed to need manual review")
	}
	if NeedsManualReview(gitbackend.Status{UpstreamGone: true, HasUnpushedCommits: false}) {
		t.Error("upstream-gone alone should not need manual review")
	}
	if NeedsManualReview(gitbackend.Status{UpstreamGone: false, HasUnpushedCommits: true}) {
		t.Error("unpushed commits alone should not need manual review")
	}
}

func TestEvaluateError(t *testing.T) {
	v := EvaluateError()
	if v.CanRemove {
		t.Error("EvaluateError() must never permit removal")
	}
	if v.JoinedReasons() != "error checking worktree" {
		t.Errorf("JoinedReasons() = %q", v.JoinedReasons())
	}
}
