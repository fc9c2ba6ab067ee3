package runorch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
)

// seedApplyFixture builds a git repo containing src/artifact.ts, a run
// record at its HEAD, and a captured diff.patch that rewrites the file.
func seedApplyFixture(t *testing.T) (repo, runID, agentID string, st *store.Store) {
	t.Helper()
	repo = t.TempDir()
	runID = "20260101-120000-abcde"
	agentID = "alpha"

	runGit(t, repo, "init")
	runGit(t, repo, "config", "user.email", "test@example.com")
	runGit(t, repo, "config", "user.name", "Test")

	src := filepath.Join(repo, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "artifact.ts"), []byte("console.log('hello');\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, repo, "add", "-A")
	runGit(t, repo, "commit", "-m", "seed")
	base := runGitOutput(t, repo, "rev-parse", "HEAD")

	// Capture the diff the same way the run orchestrator would: edit,
	// git diff, restore.
	if err := os.WriteFile(filepath.Join(src, "artifact.ts"), []byte("console.log('hello apply');\n"), 0644); err != nil {
		t.Fatal(err)
	}
	diff := runGitRaw(t, repo, "diff", "HEAD")
	runGit(t, repo, "checkout", "--", "src/artifact.ts")

	artifactsRel, err := layout.AgentSubdirPath(types.DomainRun, runID, agentID, layout.SubdirArtifacts)
	if err != nil {
		t.Fatal(err)
	}
	artifactsDir := filepath.Join(repo, filepath.FromSlash(artifactsRel))
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(artifactsDir, "diff.patch"), []byte(diff), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(artifactsDir, "summary.txt"), []byte("commit subject\n"), 0644); err != nil {
		t.Fatal(err)
	}

	st = store.Open(repo)
	if err := st.Init(types.DomainRun); err != nil {
		t.Fatal(err)
	}
	now := store.Now()
	rec := &types.Record{
		ID:          runID,
		Domain:      types.DomainRun,
		CreatedAt:   now,
		CompletedAt: &now,
		Status:      types.StatusSucceeded,
		Run: &types.RunPayload{
			BaseRevision: base,
			SpecPath:     "spec.md",
			Agents: []types.AgentInvocation{{
				AgentID: agentID,
				Model:   "m",
				Status:  types.StatusSucceeded,
				Artifacts: types.ArtifactFlags{
					Stdout: true, Stderr: true, Diff: true, Summary: true,
				},
			}},
		},
	}
	if err := st.Append(rec); err != nil {
		t.Fatal(err)
	}

	// The fixture's artifact writes dirty nothing git tracks, but record
	// and index files do: ignore .voratiq so IsClean passes.
	if err := os.WriteFile(filepath.Join(repo, ".gitignore"), []byte(".voratiq/\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, repo, "add", ".gitignore")
	runGit(t, repo, "commit", "--amend", "--no-edit")

	// Amending rewrote the base commit; re-point the record at it.
	base = runGitOutput(t, repo, "rev-parse", "HEAD")
	if err := st.Rewrite(types.DomainRun, runID, func(r *types.Record) error {
		r.Run.BaseRevision = base
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.Flush(types.DomainRun, runID); err != nil {
		t.Fatal(err)
	}
	return repo, runID, agentID, st
}

func runGitRaw(t *testing.T, cwd string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %s failed: %v", strings.Join(args, " "), err)
	}
	return string(out)
}

func TestApplyCommitsWithSummarySubject(t *testing.T) {
	repo, runID, agentID, st := seedApplyFixture(t)

	res, err := Apply(context.Background(), st, repo, runID, ApplyOptions{
		AgentID: agentID,
		Commit:  true,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Committed || res.CommitSHA == "" {
		t.Errorf("expected committed result, got %+v", res)
	}

	content, err := os.ReadFile(filepath.Join(repo, "src", "artifact.ts"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "console.log('hello apply');\n" {
		t.Errorf("working tree content = %q", content)
	}

	subject := runGitOutput(t, repo, "log", "-1", "--format=%s")
	if subject != "commit subject" {
		t.Errorf("commit subject = %q, want %q", subject, "commit subject")
	}

	rec, err := st.Read(types.DomainRun, runID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Run.ApplyStatus == nil || rec.Run.ApplyStatus.Status != "succeeded" {
		t.Errorf("applyStatus = %+v, want succeeded", rec.Run.ApplyStatus)
	}
	if !rec.Run.ApplyStatus.Committed {
		t.Error("applyStatus.Committed = false, want true")
	}
}

func TestApplyBaseMismatch(t *testing.T) {
	repo, runID, agentID, st := seedApplyFixture(t)

	// Advance HEAD past the recorded base with an unrelated commit.
	if err := os.WriteFile(filepath.Join(repo, "other.txt"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, repo, "add", "other.txt")
	runGit(t, repo, "commit", "-m", "unrelated")

	_, err := Apply(context.Background(), st, repo, runID, ApplyOptions{AgentID: agentID})
	var mismatch *types.BaseMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Apply error = %v, want BaseMismatchError", err)
	}

	rec, err := st.Read(types.DomainRun, runID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Run.ApplyStatus == nil || rec.Run.ApplyStatus.Status != "failed" {
		t.Errorf("applyStatus after mismatch = %+v, want failed", rec.Run.ApplyStatus)
	}

	res, err := Apply(context.Background(), st, repo, runID, ApplyOptions{
		AgentID:            agentID,
		IgnoreBaseMismatch: true,
	})
	if err != nil {
		t.Fatalf("Apply with IgnoreBaseMismatch: %v", err)
	}
	if !res.IgnoredBaseMismatch {
		t.Error("IgnoredBaseMismatch = false, want true")
	}

	rec, err = st.Read(types.DomainRun, runID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Run.ApplyStatus.Status != "succeeded" || !rec.Run.ApplyStatus.IgnoredBaseMismatch {
		t.Errorf("applyStatus after ignored mismatch = %+v", rec.Run.ApplyStatus)
	}
}

func TestApplyUnknownAgent(t *testing.T) {
	repo, runID, _, st := seedApplyFixture(t)
	_, err := Apply(context.Background(), st, repo, runID, ApplyOptions{AgentID: "nope"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Apply unknown agent error = %v", err)
	}
}
