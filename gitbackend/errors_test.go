package gitbackend

import (
	"errors"
	"testing"
)

func Test_classify(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   ErrorKind
	}{
		{"network timeout", "fatal: unable to access: connection timed out", KindNetwork},
		{"auth", "remote: Permission denied (publickey).", KindAuth},
		{"lock", "fatal: Unable to create '/repo/.git/index.lock': File exists.", KindLockContention},
		{"corrupt", "error: object file .git/objects/ab/cdef is empty", KindCorrupt},
		{"lfs", "smudge filter lfs failed", KindLFS},
		{"not found", "fatal: repository not found", KindNotFound},
		{"non-ff", "fatal: Not possible to fast-forward, aborting.", KindNonFastForward},
		{"unrecognised", "fatal: something else entirely", KindOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gerr := classify(errors.New("git failed"), tc.stderr)
			if gerr.Kind != tc.want {
				t.Errorf("classify(%q) kind = %s, want %s", tc.stderr, gerr.Kind, tc.want)
			}
		})
	}
}

func Test_classify_nil(t *testing.T) {
	if classify(nil, "") != nil {
		t.Error("classify(nil, \"\") should return nil")
	}
}

func TestGitError_Retryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindNetwork, true},
		{KindLockContention, true},
		{KindAuth, false},
		{KindCorrupt, false},
		{KindOther, false},
	}
	for _, tc := range cases {
		e := &GitError{Kind: tc.kind}
		if got := e.Retryable(); got != tc.want {
			t.Errorf("GitError{Kind: %s}.Retryable() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestIsLFSSmudgeError(t *testing.T) {
	gerr := classify(errors.New("fail"), "smudge filter lfs failed")
	if !IsLFSSmudgeError(gerr) {
		t.Error("expected LFS error to be detected")
	}
	if IsLFSSmudgeError(classify(errors.New("fail"), "fatal: repository not found")) {
		t.Error("did not expect not-found error to be detected as LFS")
	}
}

func TestIsNonFastForwardError(t *testing.T) {
	gerr := classify(errors.New("fail"), "fatal: Not possible to fast-forward, aborting.")
	if !IsNonFastForwardError(gerr) {
		t.Error("expected non-fast-forward error to be detected")
	}
}

func TestGitError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	gerr := &GitError{Err: cause}
	if !errors.Is(gerr, cause) {
		t.Error("expected errors.Is to see through GitError.Unwrap")
	}
}
