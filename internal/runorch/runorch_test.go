package runorch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// fakeProvider is a no-op credential provider for tests: Verify never
// fails and Stage writes nothing, so Teardown has nothing to dispose.
type fakeProvider struct{}

func (fakeProvider) Name() string  { return "fake" }
func (fakeProvider) Verify() error { return nil }
func (fakeProvider) Stage(sandboxHome string) (auth.StageResult, error) {
	return auth.StageResult{SandboxPath: sandboxHome}, nil
}

func initGitRepo(t *testing.T) (dir, headSHA string) {
	t.Helper()
	dir = t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "initial")
	headSHA = runGitOutput(t, dir, "rev-parse", "HEAD")
	return dir, headSHA
}

func runGit(t *testing.T, cwd string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = cwd
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, string(out))
	}
}

func runGitOutput(t *testing.T, cwd string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %s output failed: %v", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out))
}

func shellAgent(id, script string) types.AgentDefinition {
	return types.AgentDefinition{
		ID:           id,
		Provider:     "fake",
		Model:        script,
		Binary:       "sh",
		ArgvTemplate: []string{"-c", "MODEL_PLACEHOLDER"},
	}
}

// TestRunCompetitionPartialFailure mirrors S5: three agents compete with
// max parallel 2, the middle one fails, and the run as a whole is marked
// failed while the two succeeding agents still have promoted artifacts.
func TestRunCompetitionPartialFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	repoRoot, head := initGitRepo(t)

	specPath := filepath.Join(repoRoot, "task.md")
	if err := os.WriteFile(specPath, []byte("add a line to README.md\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s := store.Open(repoRoot)
	if err := s.Init(types.DomainRun); err != nil {
		t.Fatal(err)
	}
	registry := auth.NewRegistry()
	registry.Register(fakeProvider{})

	agents := []types.AgentDefinition{
		shellAgent("alpha", "echo alpha-change >> README.md"),
		shellAgent("beta", "echo beta-partial >> README.md; exit 7"),
		shellAgent("gamma", "echo gamma-change >> README.md"),
	}

	deps := Deps{
		RepoRoot:       repoRoot,
		Store:          s,
		Registry:       registry,
		WatchdogConfig: watchdog.NewConfig(),
	}

	outcome, runID, err := Run(context.Background(), deps, specPath, agents, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Failed {
		t.Fatal("expected outcome.Failed=true because beta failed")
	}
	if len(outcome.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(outcome.Results))
	}

	byID := make(map[string]Outcome, len(outcome.Results))
	for _, r := range outcome.Results {
		byID[r.AgentID] = r
	}
	if byID["alpha"].Status != types.StatusSucceeded || byID["alpha"].DiffPath == "" {
		t.Fatalf("alpha outcome = %+v", byID["alpha"])
	}
	if byID["gamma"].Status != types.StatusSucceeded || byID["gamma"].DiffPath == "" {
		t.Fatalf("gamma outcome = %+v", byID["gamma"])
	}
	if byID["beta"].Status != types.StatusFailed || byID["beta"].Error == "" {
		t.Fatalf("beta outcome = %+v", byID["beta"])
	}

	if _, err := os.Stat(byID["alpha"].DiffPath); err != nil {
		t.Fatalf("expected alpha diff promoted: %v", err)
	}
	if _, err := os.Stat(byID["gamma"].DiffPath); err != nil {
		t.Fatalf("expected gamma diff promoted: %v", err)
	}

	rec, err := s.Read(types.DomainRun, runID)
	if err != nil {
		t.Fatalf("read run record: %v", err)
	}
	if rec.Status != types.StatusFailed {
		t.Fatalf("run record status = %s, want failed", rec.Status)
	}
	if rec.Run.BaseRevision != head {
		t.Fatalf("run record base revision = %s, want %s", rec.Run.BaseRevision, head)
	}

	var sawAlphaSucceeded, sawBetaFailed bool
	for _, inv := range rec.Run.Agents {
		switch inv.AgentID {
		case "alpha":
			sawAlphaSucceeded = inv.Status == types.StatusSucceeded && inv.Artifacts.Diff
		case "beta":
			sawBetaFailed = inv.Status == types.StatusFailed && inv.Error != ""
		}
	}
	if !sawAlphaSucceeded {
		t.Error("alpha invocation not recorded as succeeded with a captured diff")
	}
	if !sawBetaFailed {
		t.Error("beta invocation not recorded as failed with an error")
	}
}

func TestRunRejectsUncleanWorkingTree(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	repoRoot, _ := initGitRepo(t)
	if err := os.WriteFile(filepath.Join(repoRoot, "README.md"), []byte("dirty\n"), 0644); err != nil {
		t.Fatal(err)
	}

	specPath := filepath.Join(repoRoot, "task.md")
	if err := os.WriteFile(specPath, []byte("task\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s := store.Open(repoRoot)
	if err := s.Init(types.DomainRun); err != nil {
		t.Fatal(err)
	}
	registry := auth.NewRegistry()
	registry.Register(fakeProvider{})

	deps := Deps{RepoRoot: repoRoot, Store: s, Registry: registry, WatchdogConfig: watchdog.NewConfig()}
	_, _, err := Run(context.Background(), deps, specPath, []types.AgentDefinition{shellAgent("alpha", "true")}, 1)
	if err == nil {
		t.Fatal("expected error for an unclean working tree")
	}
}
