// Package runorch implements the run orchestrator (C7): it resolves a
// competition's agents into detached git worktrees, drives each one
// through the runtime harness via the shared competition engine, and
// captures its diff, diff statistics, summary, and eval results.
package runorch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/config"
	"github.com/voratiq/voratiq/internal/engine"
	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/harness"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/sandbox"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// Deps are the shared collaborators one run's adapter needs. Constructed
// once per `run` command invocation and threaded through like every other
// component's handle (no package-level singletons).
type Deps struct {
	RepoRoot       string
	Store          *store.Store
	Registry       *auth.Registry
	Sandbox        config.SandboxFile
	Environment    config.EnvironmentFile
	WatchdogConfig watchdog.Config
	Evals          []types.EvalDefinition

	// Runtime, if set, receives each agent's staged auth context as soon
	// as it is staged, so a SIGINT arriving mid-run can still tear down
	// credentials for an agent the lifecycle supervisor did not know
	// about at Register time.
	Runtime *lifecycle.Runtime
}

// Outcome is what one competing agent produced.
type Outcome struct {
	AgentID      string
	Status       types.Status
	Error        string
	DiffPath     string
	DiffStat     string
	SummaryPath  string
	Evals        []types.EvalResult
	ChatCaptured bool
	ChatFormat   types.ChatFormat
}

// prepared is the workspace-scaffolded form of one competing agent.
type prepared struct {
	agent        types.AgentDefinition
	workspace    string
	artifactsDir string
	evalsDir     string
	sandboxHome  string
	policy       types.SandboxPolicy
	policyPath   string
	argv         []string
	env          map[string]string
	stdoutPath   string
	stderrPath   string
}

// adapter implements engine.Adapter[types.AgentDefinition, prepared, Outcome]
// for one run session. Every agent's worktree already exists by the time
// adapter.PrepareCandidate runs — Run creates them upfront, before
// handing the plan to the competition engine.
type adapter struct {
	deps         Deps
	runID        string
	baseRevision string
	specText     string

	teardowns []*auth.Context
}

// Run validates preconditions, generates a run id, creates one detached
// worktree per agent, and drives agents through the run competition via
// the shared engine. It returns the competition outcome and the run id
// regardless of whether the competition as a whole succeeded, so a
// caller can always report which run failed.
func Run(ctx context.Context, deps Deps, specPath string, agents []types.AgentDefinition, maxParallel int) (*engine.Outcome[Outcome], string, error) {
	if err := ValidatePreconditions(ctx, deps.RepoRoot, specPath, agents, deps.Registry); err != nil {
		return nil, "", err
	}

	baseRevision, err := gitutil.HeadCommit(ctx, deps.RepoRoot, gitutil.DefaultTimeout)
	if err != nil {
		return nil, "", err
	}

	specBytes, err := os.ReadFile(specPath)
	if err != nil {
		return nil, "", fmt.Errorf("read spec %s: %w", specPath, err)
	}

	runID, err := GenerateRunID(time.Now())
	if err != nil {
		return nil, "", fmt.Errorf("generate run id: %w", err)
	}

	invocations := make([]types.AgentInvocation, len(agents))
	for i, a := range agents {
		invocations[i] = types.AgentInvocation{AgentID: a.ID, Model: a.Model, Status: types.StatusQueued}
	}

	record := &types.Record{
		ID:        runID,
		Domain:    types.DomainRun,
		CreatedAt: store.Now(),
		Status:    types.StatusRunning,
		Run: &types.RunPayload{
			BaseRevision: baseRevision,
			SpecPath:     specPath,
			Agents:       invocations,
		},
	}
	if err := deps.Store.Append(record); err != nil {
		return nil, "", fmt.Errorf("persist run record: %w", err)
	}

	if deps.Runtime != nil {
		if err := deps.Runtime.Register(lifecycle.ActiveSession{
			Domain:    types.DomainRun,
			SessionID: runID,
		}); err != nil {
			return nil, runID, err
		}
		defer deps.Runtime.Clear(runID)
	}

	for _, a := range agents {
		workspace, err := agentWorkspacePath(deps.RepoRoot, runID, a.ID)
		if err != nil {
			return nil, runID, err
		}
		if err := gitutil.CreateWorktree(ctx, deps.RepoRoot, baseRevision, workspace, gitutil.DefaultTimeout); err != nil {
			return nil, runID, fmt.Errorf("create worktree for %s: %w", a.ID, err)
		}
	}

	ad := &adapter{
		deps:         deps,
		runID:        runID,
		baseRevision: baseRevision,
		specText:     string(specBytes),
	}

	outcome, err := engine.Run[types.AgentDefinition, prepared, Outcome](ctx, ad, agents, engine.Options[Outcome]{
		MaxParallel: maxParallel,
	})
	if err != nil {
		_ = finalizeRunStatus(deps.Store, runID, types.StatusFailed)
		return nil, runID, err
	}

	finalStatus := types.StatusSucceeded
	if outcome.Failed {
		finalStatus = types.StatusFailed
	}
	for _, r := range outcome.Results {
		if r.Status != types.StatusSucceeded {
			finalStatus = types.StatusFailed
			break
		}
	}
	if err := finalizeRunStatus(deps.Store, runID, finalStatus); err != nil {
		return outcome, runID, fmt.Errorf("finalize run record: %w", err)
	}

	return outcome, runID, nil
}

func finalizeRunStatus(s *store.Store, runID string, status types.Status) error {
	return s.Rewrite(types.DomainRun, runID, func(r *types.Record) error {
		// A lifecycle-triggered abort may already have moved the record
		// to a terminal status (and disposed it) before the competition
		// returned; never downgrade an abort back to succeeded/failed.
		if r.Status.Terminal() {
			return nil
		}
		r.Status = status
		now := store.Now()
		r.CompletedAt = &now
		return nil
	})
}

func agentWorkspacePath(repoRoot, runID, agentID string) (string, error) {
	rel, err := layout.AgentSubdirPath(types.DomainRun, runID, agentID, layout.SubdirWorkspace)
	if err != nil {
		return "", err
	}
	return filepath.Join(repoRoot, filepath.FromSlash(rel)), nil
}

func updateAgentInvocation(rec *types.Record, agentID string, mutate func(*types.AgentInvocation)) error {
	if rec.Run == nil {
		return fmt.Errorf("run record %s has no run payload", rec.ID)
	}
	for i := range rec.Run.Agents {
		if rec.Run.Agents[i].AgentID == agentID {
			mutate(&rec.Run.Agents[i])
			return nil
		}
	}
	return fmt.Errorf("agent %s not found in run record %s", agentID, rec.ID)
}

func (a *adapter) siblingRunSessionDirs() ([]string, error) {
	entries, err := a.deps.Store.List(types.DomainRun)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.ID == a.runID {
			continue
		}
		root, err := layout.SessionRoot(types.DomainRun, e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.Join(a.deps.RepoRoot, filepath.FromSlash(root)))
	}
	return out, nil
}

// PrepareCandidate stages one agent's prompt, sandbox policy, and
// credentials, and transitions its invocation to running. The agent's
// worktree itself was already created by Run before the competition
// engine started.
func (a *adapter) PrepareCandidate(ctx context.Context, agentDef types.AgentDefinition) (prepared, error) {
	now := store.Now()
	if err := a.deps.Store.Rewrite(types.DomainRun, a.runID, func(r *types.Record) error {
		return updateAgentInvocation(r, agentDef.ID, func(inv *types.AgentInvocation) {
			inv.Status = types.StatusRunning
			inv.StartedAt = &now
		})
	}); err != nil {
		return prepared{}, fmt.Errorf("mark %s running: %w", agentDef.ID, err)
	}

	workspace, err := agentWorkspacePath(a.deps.RepoRoot, a.runID, agentDef.ID)
	if err != nil {
		return prepared{}, err
	}

	runtimeRel, err := layout.AgentSubdirPath(types.DomainRun, a.runID, agentDef.ID, layout.SubdirRuntime)
	if err != nil {
		return prepared{}, err
	}
	runtimeDir := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(runtimeRel))

	promptText := buildRunPrompt(a.specText, a.baseRevision)
	promptPath := filepath.Join(runtimeDir, "prompt.ephemeral.run.txt")
	if err := harness.WritePromptFile(promptPath, promptText); err != nil {
		return prepared{}, fmt.Errorf("write prompt for %s: %w", agentDef.ID, err)
	}

	sandboxRel, err := layout.AgentSubdirPath(types.DomainRun, a.runID, agentDef.ID, layout.SubdirSandbox)
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
		a.deps.Runtime.AttachAgentAuth(a.runID, lifecycle.AgentContext{
			AgentID:  agentDef.ID,
			Provider: agentDef.Provider,
			Auth:     authCtx,
		})
	}

	siblingRuns, err := a.siblingRunSessionDirs()
	if err != nil {
		return prepared{}, err
	}

	policy := sandbox.Compose(sandbox.PolicyInputs{
		RepoRoot:           a.deps.RepoRoot,
		SiblingSessionDirs: siblingRuns,
		OwnWorkspace:       workspace,
		SandboxHome:        sandboxHome,
		TMPDir:             filepath.Join(sandboxHome, "tmp"),
		ExtraDenyRead:      a.deps.Sandbox.DenyRead,
		ExtraDenyWrite:     a.deps.Sandbox.DenyWrite,
	})
	policyPath := filepath.Join(runtimeDir, "sandbox.json")
	if err := harness.WriteSandboxPolicy(policyPath, policy); err != nil {
		return prepared{}, fmt.Errorf("write sandbox policy for %s: %w", agentDef.ID, err)
	}

	artifactsRel, err := layout.AgentSubdirPath(types.DomainRun, a.runID, agentDef.ID, layout.SubdirArtifacts)
	if err != nil {
		return prepared{}, err
	}
	artifactsDir := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(artifactsRel))

	evalsRel, err := layout.AgentSubdirPath(types.DomainRun, a.runID, agentDef.ID, layout.SubdirEvals)
	if err != nil {
		return prepared{}, err
	}
	evalsDir := filepath.Join(a.deps.RepoRoot, filepath.FromSlash(evalsRel))

	env := config.MergedEnv(a.deps.Environment, agentDef.Provider)
	for k, v := range authCtx.Result.EnvOverrides {
		env[k] = v
	}

	return prepared{
		agent:        agentDef,
		workspace:    workspace,
		artifactsDir: artifactsDir,
		evalsDir:     evalsDir,
		sandboxHome:  sandboxHome,
		policy:       policy,
		policyPath:   policyPath,
		argv:         config.ResolveArgv(agentDef, agentDef.Model),
		env:          env,
		stdoutPath:   filepath.Join(artifactsDir, "stdout.log"),
		stderrPath:   filepath.Join(artifactsDir, "stderr.log"),
	}, nil
}

// ExecuteCandidate launches the agent binary under the runtime harness
// and, on a clean exit, captures its diff, diff statistics, summary, and
// eval results.
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

	diff, err := gitutil.Diff(ctx, p.workspace, gitutil.DefaultTimeout)
	if err != nil {
		return Outcome{}, fmt.Errorf("capture diff for %s: %w", p.agent.ID, err)
	}
	diffPath := filepath.Join(p.artifactsDir, "diff.patch")
	if err := os.MkdirAll(p.artifactsDir, 0700); err != nil {
		return Outcome{}, err
	}
	if err := os.WriteFile(diffPath, diff, 0600); err != nil {
		return Outcome{}, fmt.Errorf("write diff.patch for %s: %w", p.agent.ID, err)
	}

	diffStat, err := gitutil.DiffStat(ctx, p.workspace, gitutil.DefaultTimeout)
	if err != nil {
		return Outcome{}, fmt.Errorf("capture diffstat for %s: %w", p.agent.ID, err)
	}

	summaryPath := filepath.Join(p.artifactsDir, "summary.txt")
	if err := os.WriteFile(summaryPath, []byte(extractSummary(res.Stdout)), 0600); err != nil {
		return Outcome{}, fmt.Errorf("write summary.txt for %s: %w", p.agent.ID, err)
	}

	evalResults := runEvals(ctx, p.workspace, p.evalsDir, a.deps.Evals)

	chatFmt, chatOK := harness.CaptureChat(p.sandboxHome, p.agent.Provider, p.artifactsDir)

	return Outcome{
		AgentID:      p.agent.ID,
		Status:       types.StatusSucceeded,
		DiffPath:     diffPath,
		DiffStat:     diffStat,
		SummaryPath:  summaryPath,
		Evals:        evalResults,
		ChatCaptured: chatOK,
		ChatFormat:   chatFmt,
	}, nil
}

// OnCandidateCompleted persists one agent's successful outcome onto the
// run record: terminal status, artifact flags, diff statistics, and eval
// results.
func (a *adapter) OnCandidateCompleted(ctx context.Context, p prepared, result Outcome) {
	now := store.Now()
	_ = a.deps.Store.Rewrite(types.DomainRun, a.runID, func(r *types.Record) error {
		return updateAgentInvocation(r, p.agent.ID, func(inv *types.AgentInvocation) {
			inv.Status = types.StatusSucceeded
			inv.CompletedAt = &now
			inv.DiffStat = result.DiffStat
			inv.Evals = result.Evals
			inv.Artifacts = types.ArtifactFlags{
				Stdout:  true,
				Stderr:  true,
				Diff:    true,
				Summary: true,
				Chat:    result.ChatCaptured,
				ChatFmt: result.ChatFormat,
			}
		})
	})
}

// CaptureExecutionFailure converts a watchdog/exit error into a synthetic
// failed (or aborted, if a watchdog trigger killed the process) outcome,
// persists it onto the run record, and always returns ok=true so every
// prepared agent still produces exactly one result.
func (a *adapter) CaptureExecutionFailure(ctx context.Context, p prepared, err error) (Outcome, bool) {
	status := types.StatusFailed
	var wdErr *types.WatchdogTriggeredError
	if errors.As(err, &wdErr) {
		status = types.StatusAborted
	}

	// Even a killed agent may have left a transcript worth keeping.
	chatFmt, chatOK := harness.CaptureChat(p.sandboxHome, p.agent.Provider, p.artifactsDir)

	now := store.Now()
	_ = a.deps.Store.Rewrite(types.DomainRun, a.runID, func(r *types.Record) error {
		return updateAgentInvocation(r, p.agent.ID, func(inv *types.AgentInvocation) {
			inv.Status = status
			inv.CompletedAt = &now
			inv.Error = err.Error()
			inv.Artifacts.Stdout = true
			inv.Artifacts.Stderr = true
			inv.Artifacts.Chat = chatOK
			inv.Artifacts.ChatFmt = chatFmt
		})
	})

	return Outcome{
		AgentID:      p.agent.ID,
		Status:       status,
		Error:        err.Error(),
		ChatCaptured: chatOK,
		ChatFormat:   chatFmt,
	}, true
}

// FinalizeCompetition tears down every agent's staged auth context,
// regardless of success or failure, so a run never leaks credentials even
// when preparation aborted partway through.
func (a *adapter) FinalizeCompetition(ctx context.Context, failed bool) {
	for _, c := range a.teardowns {
		_ = c.Teardown()
	}
}
