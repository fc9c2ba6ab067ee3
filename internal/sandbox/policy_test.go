package sandbox

import (
	"path/filepath"
	"sort"
	"testing"
)

func TestComposeBaselineDeniesConfigFilesAbsolute(t *testing.T) {
	p := Compose(PolicyInputs{
		RepoRoot:     "/repo",
		OwnWorkspace: "/repo/.voratiq/runs/sessions/s1/claude/workspace",
	})
	for _, rel := range baselineConfigFiles {
		want := filepath.Join("/repo", rel)
		if !contains(p.DenyRead, want) {
			t.Errorf("DenyRead missing baseline file %q", want)
		}
		if !contains(p.DenyWrite, want) {
			t.Errorf("DenyWrite missing baseline file %q", want)
		}
	}
	for _, d := range p.DenyRead {
		if !filepath.IsAbs(d) {
			t.Errorf("DenyRead entry %q is not absolute", d)
		}
	}
}

func TestComposeAllowWriteIsOwnPathsOnly(t *testing.T) {
	p := Compose(PolicyInputs{
		RepoRoot:     "/repo",
		OwnWorkspace: "/repo/a/workspace",
		SandboxHome:  "/repo/a/sandbox/home",
		TMPDir:       "/repo/a/sandbox/tmp",
	})
	want := []string{"/repo/a/sandbox/home", "/repo/a/sandbox/tmp", "/repo/a/workspace"}
	if len(p.AllowWrite) != len(want) {
		t.Fatalf("AllowWrite = %v, want %v", p.AllowWrite, want)
	}
	for i, w := range want {
		if p.AllowWrite[i] != w {
			t.Errorf("AllowWrite[%d] = %q, want %q", i, p.AllowWrite[i], w)
		}
	}
}

func TestComposeReviewAddsReviewerDenials(t *testing.T) {
	p := Compose(PolicyInputs{
		RepoRoot:     "/repo",
		OwnWorkspace: "/repo/reviews/sessions/r1/r_abc/workspace",
		Review: &ReviewPolicyInputs{
			OtherReviewerRoots: []string{"/repo/reviews/sessions/r1/r_def"},
			RunIndexPath:       "/repo/runs/index.json",
			RunLockPath:        "/repo/runs/history.lock",
			SharedBaseSnapshot: "/repo/reviews/sessions/r1/.shared/inputs/base",
		},
	})
	if !contains(p.DenyRead, "/repo/reviews/sessions/r1/r_def") {
		t.Error("missing sibling reviewer root in DenyRead")
	}
	if !contains(p.DenyRead, "/repo/runs/index.json") || !contains(p.DenyRead, "/repo/runs/history.lock") {
		t.Error("missing run index/lock in DenyRead")
	}
	if !contains(p.DenyWrite, "/repo/reviews/sessions/r1/.shared/inputs/base") {
		t.Error("missing shared base snapshot in DenyWrite")
	}
}

func TestComposeDedupesAndDropsEmpty(t *testing.T) {
	p := Compose(PolicyInputs{
		RepoRoot:           "/repo",
		SiblingSessionDirs: []string{"/repo/runs/sessions/s2", "/repo/runs/sessions/s2", ""},
	})
	count := 0
	for _, d := range p.DenyRead {
		if d == "/repo/runs/sessions/s2" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one deduped entry, got %d", count)
	}
}

func TestComposeListsAreSorted(t *testing.T) {
	p := Compose(PolicyInputs{
		RepoRoot:           "/repo",
		SiblingSessionDirs: []string{"/zz/later", "/aa/earlier"},
		OwnWorkspace:       "/repo/z/workspace",
		SandboxHome:        "/repo/a/home",
	})
	for name, list := range map[string][]string{
		"DenyRead":   p.DenyRead,
		"DenyWrite":  p.DenyWrite,
		"AllowWrite": p.AllowWrite,
	} {
		if !sort.StringsAreSorted(list) {
			t.Errorf("%s is not sorted: %v", name, list)
		}
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
