package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/config"
	"github.com/voratiq/voratiq/internal/engine"
	"github.com/voratiq/voratiq/internal/harness"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/sandbox"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// Deps are the shared collaborators one review session's adapter needs.
// Constructed once per `review` command invocation and threaded through
// like every other component's handle (no package-level singletons).
type Deps struct {
	RepoRoot       string
	Store          *store.Store
	Registry       *auth.Registry
	Sandbox        config.SandboxFile
	Environment    config.EnvironmentFile
	WatchdogConfig watchdog.Config

	// Runtime, if set, receives each reviewer's staged auth context as
	// soon as it is staged, so a SIGINT arriving mid-review can still
	// tear down credentials the lifecycle supervisor did not know about
	// at Register time.
	Runtime *lifecycle.Runtime
}

// Outcome is what FinalizeCompetition's caller observes for one reviewer.
type Outcome struct {
	AgentID            string
	Status             types.Status
	Error              string
	ReviewMDPath       string
	RecommendationPath string
	ResolvedPreferred  []string
}

// prepared is the workspace-scaffolded form of one reviewer candidate.
type prepared struct {
	agent              types.AgentDefinition
	workspace          string
	policy             types.SandboxPolicy
	policyPath         string
	promptPath         string
	manifestPath       string
	reviewMDPath       string
	recommendationPath string
	argv               []string
	env                map[string]string
	stdoutPath         string
	stderrPath         string
	forbidden          []string
	eligibleAliases    []string
}

// adapter implements engine.Adapter[types.AgentDefinition, prepared, Outcome]
// for one review session. All reviewers in reviewerIDs observe the same
// shared inputs and alias map; adapter is
// constructed once per review session and Run once over every reviewer
// the session was asked to use (the CLI always passes exactly one, but
// the adapter itself does not assume K=1).
type adapter struct {
	deps            Deps
	reviewID        string
	runID           string
	reviewerIDs     []string
	shared          *SharedInputs
	eligibleAliases []string
	runAgents       []types.AgentInvocation

	teardowns []*auth.Context
}

// Run stages shared inputs, persists the alias map, then drives reviewerAgents
// through the blinded review pipeline via the competition engine. Each
// successful reviewer's de-aliased recommendation is written back to its
// artifacts; the returned outcomes are in reviewerAgents order.
func Run(ctx context.Context, deps Deps, runID, reviewID, specSourcePath, baseRevision string, runAgents []types.AgentInvocation, reviewerAgents []types.AgentDefinition, maxParallel int) (*engine.Outcome[Outcome], error) {
	eligible, err := Eligible(deps.RepoRoot, runID, runAgents)
	if err != nil {
		return nil, err
	}

	shared, err := StageShared(ctx, deps.RepoRoot, reviewID, specSourcePath, baseRevision, eligible)
	if err != nil {
		return nil, err
	}

	if err := deps.Store.Rewrite(types.DomainReview, reviewID, func(r *types.Record) error {
		if r.Review == nil {
			return fmt.Errorf("review record %s has no review payload", reviewID)
		}
		r.Review.Blinded = types.BlindedMetadata{Enabled: true, AliasMap: shared.AliasMap}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("persist alias map: %w", err)
	}

	eligibleAliases := make([]string, 0, len(shared.AliasMap))
	for alias := range shared.AliasMap {
		eligibleAliases = append(eligibleAliases, alias)
	}

	reviewerIDs := make([]string, 0, len(reviewerAgents))
	for _, a := range reviewerAgents {
		reviewerIDs = append(reviewerIDs, a.ID)
	}

	ad := &adapter{
		deps:            deps,
		reviewID:        reviewID,
		runID:           runID,
		reviewerIDs:     reviewerIDs,
		shared:          shared,
		eligibleAliases: eligibleAliases,
		runAgents:       runAgents,
	}

	return engine.Run[types.AgentDefinition, prepared, Outcome](ctx, ad, reviewerAgents, engine.Options[Outcome]{
		MaxParallel: maxParallel,
	})
}

func (a *adapter) otherReviewerRoots(selfID string) ([]string, error) {
	var out []string
	for _, id := range a.reviewerIDs {
		if id == selfID {
			continue
		}
		root, err := layout.AgentRoot(types.DomainReview, a.reviewID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.Join(a.deps.RepoRoot, filepath.FromSlash(root)))
	}
	return out, nil
}

func (a *adapter) siblingReviewSessionDirs() ([]string, error) {
	entries, err := a.deps.Store.List(types.DomainReview)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.ID == a.reviewID {
			continue
		}
		root, err := layout.SessionRoot(types.DomainReview, e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.Join(a.deps.RepoRoot, filepath.FromSlash(root)))
	}
	return out, nil
}

// PrepareCandidate stages one reviewer's workspace, manifest, and prompt,
// and asserts no reviewer-visible text leaks a real candidate identity
// before the reviewer ever runs.
func (a *adapter) PrepareCandidate(ctx context.Context, agentDef types.AgentDefinition) (prepared, error) {
	if err := LinkReviewerInputs(a.deps.RepoRoot, a.reviewID, agentDef.ID); err != nil {
		return prepared{}, fmt.Errorf("link reviewer inputs for %s: %w", agentDef.ID, err)
	}

	manifest := BuildManifest(a.shared.AliasMap)
	manifestRel, err := layout.ReviewerManifestPath(a.reviewID, agentDef.ID)
	if err != nil {
		return prepared{}, err
	}
	manifestPath := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(manifestRel))
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return prepared{}, fmt.Errorf("write manifest for %s: %w", agentDef.ID, err)
	}

	forbidden := ForbiddenTokens(a.runAgents, "")

	promptText := buildReviewPrompt(manifest)
	if err := AssertNoLeakage(promptText, forbidden); err != nil {
		return prepared{}, fmt.Errorf("reviewer %s prompt: %w", agentDef.ID, err)
	}
	if err := AssertNoLeakage(manifest.Text(), forbidden); err != nil {
		return prepared{}, fmt.Errorf("reviewer %s manifest: %w", agentDef.ID, err)
	}

	runtimeDir, err := layout.AgentSubdirPath(types.DomainReview, a.reviewID, agentDef.ID, layout.SubdirRuntime)
	if err != nil {
		return prepared{}, err
	}
	promptPath := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(runtimeDir), "prompt.ephemeral.review.txt")
	if err := harness.WritePromptFile(promptPath, promptText); err != nil {
		return prepared{}, fmt.Errorf("write prompt for %s: %w", agentDef.ID, err)
	}

	workspaceRel, err := layout.AgentSubdirPath(types.DomainReview, a.reviewID, agentDef.ID, layout.SubdirWorkspace)
	if err != nil {
		return prepared{}, err
	}
	workspace := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(workspaceRel))

	sandboxRel, err := layout.AgentSubdirPath(types.DomainReview, a.reviewID, agentDef.ID, layout.SubdirSandbox)
	if err != nil {
		return prepared{}, err
	}
	sandboxHome := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(sandboxRel))

	authCtx, err := harness.StageAuth(a.deps.Registry, agentDef.ID, agentDef.Provider, sandboxHome)
	if err != nil {
		return prepared{}, fmt.Errorf("stage auth for %s: %w", agentDef.ID, err)
	}
	a.teardowns = append(a.teardowns, authCtx)
	if a.deps.Runtime != nil {
		a.deps.Runtime.AttachAgentAuth(a.reviewID, lifecycle.AgentContext{
			AgentID:  agentDef.ID,
			Provider: agentDef.Provider,
			Auth:     authCtx,
		})
	}

	otherRoots, err := a.otherReviewerRoots(agentDef.ID)
	if err != nil {
		return prepared{}, err
	}
	siblingReviews, err := a.siblingReviewSessionDirs()
	if err != nil {
		return prepared{}, err
	}
	runWorkspace, err := layout.SessionRoot(types.DomainRun, a.runID)
	if err != nil {
		return prepared{}, err
	}
	runIndex, err := layout.IndexPath(types.DomainRun)
	if err != nil {
		return prepared{}, err
	}
	runLock, err := layout.LockPath(types.DomainRun)
	if err != nil {
		return prepared{}, err
	}

	policy := sandbox.Compose(sandbox.PolicyInputs{
		RepoRoot:           a.deps.RepoRoot,
		SiblingSessionDirs: siblingReviews,
		RunWorkspace:       filepath.Join(a.deps.RepoRoot, filepath.FromSlash(runWorkspace)),
		Review: &sandbox.ReviewPolicyInputs{
			OtherReviewerRoots: otherRoots,
			RunIndexPath:       filepath.Join(a.deps.RepoRoot, filepath.FromSlash(runIndex)),
			RunLockPath:        filepath.Join(a.deps.RepoRoot, filepath.FromSlash(runLock)),
			SharedBaseSnapshot: a.shared.BasePath,
		},
		OwnWorkspace:   workspace,
		SandboxHome:    sandboxHome,
		TMPDir:         filepath.Join(sandboxHome, "tmp"),
		ExtraDenyRead:  a.deps.Sandbox.DenyRead,
		ExtraDenyWrite: a.deps.Sandbox.DenyWrite,
	})
	policyPath := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(runtimeDir), "sandbox.json")
	if err := harness.WriteSandboxPolicy(policyPath, policy); err != nil {
		return prepared{}, fmt.Errorf("write sandbox policy for %s: %w", agentDef.ID, err)
	}

	artifactsRel, err := layout.AgentSubdirPath(types.DomainReview, a.reviewID, agentDef.ID, layout.SubdirArtifacts)
	if err != nil {
		return prepared{}, err
	}
	artifacts := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(artifactsRel))

	env := config.MergedEnv(a.deps.Environment, agentDef.Provider)
	for k, v := range authCtx.Result.EnvOverrides {
		env[k] = v
	}
	argv := config.ResolveArgv(agentDef, agentDef.Model)

	return prepared{
		agent:              agentDef,
		workspace:          workspace,
		policy:             policy,
		policyPath:         policyPath,
		promptPath:         promptPath,
		manifestPath:       manifestPath,
		reviewMDPath:       filepath.Join(artifacts, "review.md"),
		recommendationPath: filepath.Join(artifacts, "recommendation.json"),
		argv:               argv,
		env:                env,
		stdoutPath:         filepath.Join(artifacts, "stdout.log"),
		stderrPath:         filepath.Join(artifacts, "stderr.log"),
		forbidden:          forbidden,
		eligibleAliases:    a.eligibleAliases,
	}, nil
}

// ExecuteCandidate launches the reviewer binary under the runtime harness.
func (a *adapter) ExecuteCandidate(ctx context.Context, p prepared) (Outcome, error) {
	wcfg := a.deps.WatchdogConfig
	if len(wcfg.FatalPatterns) == 0 {
		wcfg.FatalPatterns = watchdog.ProviderFatalPatterns(p.agent.Provider)
	}
	res, err := harness.Invoke(ctx, harness.Spec{
		AgentID:        p.agent.ID,
		Binary:         p.agent.Binary,
		Argv:           p.argv,
		Cwd:            p.workspace,
		EnvOverride:    p.env,
		StdoutPath:     p.stdoutPath,
		StderrPath:     p.stderrPath,
		Policy:         p.policy,
		PolicyPath:     p.policyPath,
		WatchdogConfig: wcfg,
		OnBanner:       func(line string) { harness.AppendBanner(p.stderrPath, line) },
	})
	if err != nil {
		return Outcome{}, err
	}
	if res.WatchdogErr != nil {
		return Outcome{}, res.WatchdogErr
	}
	if res.ExitErr != nil {
		return Outcome{}, res.ExitErr
	}

	reviewMD, err := os.ReadFile(p.reviewMDPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read review.md: %v", types.ErrReviewGenerationFailed, err)
	}
	if err := AssertNoLeakage(string(reviewMD), p.forbidden); err != nil {
		return Outcome{}, err
	}

	raw, err := os.ReadFile(p.recommendationPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read recommendation.json: %v", types.ErrReviewGenerationFailed, err)
	}
	rec, err := ParseRecommendation(raw)
	if err != nil {
		return Outcome{}, err
	}
	if err := ValidateOutput(string(reviewMD), rec, p.eligibleAliases); err != nil {
		return Outcome{}, err
	}

	resolved, err := Dealias(a.shared.AliasMap, rec.PreferredAgents)
	if err != nil {
		return Outcome{}, err
	}
	rec.ResolvedPreferredAgents = resolved
	if err := WriteRecommendation(p.recommendationPath, rec); err != nil {
		return Outcome{}, fmt.Errorf("write resolved recommendation: %w", err)
	}

	return Outcome{
		AgentID:            p.agent.ID,
		Status:             types.StatusSucceeded,
		ReviewMDPath:       p.reviewMDPath,
		RecommendationPath: p.recommendationPath,
		ResolvedPreferred:  resolved,
	}, nil
}

// OnCandidateCompleted is a no-op: the review record's terminal status and
// output path are set once, after the whole competition returns, by the
// caller of Run — a single reviewer's success does not by itself finalize
// a multi-reviewer session.
func (a *adapter) OnCandidateCompleted(ctx context.Context, p prepared, result Outcome) {
}

// CaptureExecutionFailure converts a watchdog/exit/validation error into a
// synthetic failed (or aborted, for a watchdog trigger) outcome, so every
// prepared reviewer still produces exactly one result.
func (a *adapter) CaptureExecutionFailure(ctx context.Context, p prepared, err error) (Outcome, bool) {
	status := types.StatusFailed
	var wdErr *types.WatchdogTriggeredError
	if errors.As(err, &wdErr) {
		status = types.StatusAborted
	}
	return Outcome{
		AgentID: p.agent.ID,
		Status:  status,
		Error:   err.Error(),
	}, true
}

// FinalizeCompetition tears down every reviewer's staged auth context,
// regardless of success or failure, so a review session never leaks
// credentials even when preparation aborted partway through.
func (a *adapter) FinalizeCompetition(ctx context.Context, failed bool) {
	for _, c := range a.teardowns {
		_ = c.Teardown()
	}
}

func buildReviewPrompt(manifest Manifest) string {
	var b strings.Builder
	b.WriteString("You are reviewing ")
	b.WriteString(fmt.Sprintf("%d", len(manifest.Candidates)))
	b.WriteString(" anonymized candidate patches against the task described in inputs/spec.md.\n\n")
	b.WriteString("Candidates (read-only, under inputs/candidates/<alias>/diff.patch):\n")
	for _, c := range manifest.Candidates {
		b.WriteString("- ")
		b.WriteString(c.Alias)
		b.WriteString(": ")
		b.WriteString(c.DiffPath)
		b.WriteString("\n")
	}
	b.WriteString("\nThe unmodified base revision is checked out read-only at inputs/base/.\n")
	b.WriteString("Write your assessment to artifacts/review.md and your ranking to ")
	b.WriteString("artifacts/recommendation.json as {version, preferred_agents, rationale, next_actions}, ")
	b.WriteString("using only the candidate alias ids above. Never attempt to guess or state a ")
	b.WriteString("real agent name or model behind an alias.\n")
	return b.String()
}
