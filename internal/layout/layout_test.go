package layout

import (
	"strings"
	"testing"

	"github.com/voratiq/voratiq/internal/types"
)

func TestSegmentRejectsTraversal(t *testing.T) {
	cases := []string{"", "..", "a/b", "a\\b", "..foo", "foo..", "a..b"}
	for _, c := range cases {
		if err := Segment(c); err == nil {
			t.Errorf("Segment(%q): expected error, got nil", c)
		}
	}
}

func TestSegmentAcceptsOrdinary(t *testing.T) {
	for _, c := range []string{"run-20260731-abcde", "claude", "a"} {
		if err := Segment(c); err != nil {
			t.Errorf("Segment(%q): unexpected error: %v", c, err)
		}
	}
}

func TestSlugRejectsUppercaseAndSpecial(t *testing.T) {
	for _, c := range []string{"Claude", "claude!", "claude.v1", ""} {
		if err := Slug(c); err == nil {
			t.Errorf("Slug(%q): expected error, got nil", c)
		}
	}
}

func TestAgentSubdirPath(t *testing.T) {
	p, err := AgentSubdirPath(types.DomainRun, "20260731-120000-ab3f9", "claude", SubdirWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ".voratiq/runs/sessions/20260731-120000-ab3f9/claude/workspace"
	if p != want {
		t.Errorf("got %q, want %q", p, want)
	}
}

func TestAgentRootRejectsInvalidAgentID(t *testing.T) {
	if _, err := AgentRoot(types.DomainRun, "sess", "Bad Agent"); err == nil {
		t.Fatal("expected error for invalid agent id")
	}
}

func TestEvalLogPath(t *testing.T) {
	p, err := EvalLogPath(types.DomainRun, "sess", "claude", "unit-tests")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(p, "claude/evals/unit-tests.log") {
		t.Errorf("unexpected path: %q", p)
	}
}

func TestReviewCandidateDiff(t *testing.T) {
	p, err := ReviewCandidateDiff("rev-1", "r_abc1234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ".voratiq/reviews/sessions/rev-1/.shared/inputs/candidates/r_abc1234567/diff.patch"
	if p != want {
		t.Errorf("got %q, want %q", p, want)
	}
}

func TestNormalizeDisplay(t *testing.T) {
	if got := NormalizeDisplay(`a\b\c`); got != "a/b/c" {
		t.Errorf("got %q", got)
	}
}
