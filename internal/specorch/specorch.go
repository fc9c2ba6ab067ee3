// Package specorch drives the spec-drafting workflow: a single agent is
// given a task description and asked to produce a specification document,
// which is saved to .voratiq/specs/<slug>.md and tracked as a spec
// session with its own record and iteration history.
//
// It is the single-candidate sibling of internal/runorch: the same
// harness/sandbox/auth wiring, minus worktrees and evals — a spec draft
// edits no repository files, so its workspace is a plain scratch
// directory rather than a git checkout.
package specorch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/config"
	"github.com/voratiq/voratiq/internal/harness"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/sandbox"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// Deps are the shared collaborators one spec session needs.
type Deps struct {
	RepoRoot       string
	Store          *store.Store
	Registry       *auth.Registry
	Sandbox        config.SandboxFile
	Environment    config.EnvironmentFile
	WatchdogConfig watchdog.Config
	Runtime        *lifecycle.Runtime
}

// Options describe one spec-drafting request.
type Options struct {
	Description string
	Title       string
	OutputPath  string // repo-relative; defaults to .voratiq/specs/<slug>.md
	Agent       types.AgentDefinition
}

// Result reports where the drafted spec landed.
type Result struct {
	SessionID  string
	Slug       string
	OutputPath string // repo-relative
}

const specIDSuffixLen = 5

const specIDTimeLayout = "20060102-150405"

// generateSpecID mirrors the run id shape for spec sessions so every
// session id in .voratiq sorts chronologically regardless of domain.
func generateSpecID(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	n := new(big.Int).SetBytes(id[:])
	encoded := strings.ToLower(n.Text(36))
	if len(encoded) < specIDSuffixLen {
		encoded = strings.Repeat("0", specIDSuffixLen-len(encoded)) + encoded
	}
	return now.UTC().Format(specIDTimeLayout) + "-" + encoded[:specIDSuffixLen], nil
}

// maxSlugLen bounds generated slugs so output filenames stay readable.
const maxSlugLen = 48

// Slugify derives a filesystem-safe slug from a title or description:
// lowercase alphanumerics with single-dash separators, truncated at a
// word boundary where possible.
func Slugify(s string) string {
	var b strings.Builder
	dash := true // suppress a leading dash
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		if i := strings.LastIndexByte(slug, '-'); i > 0 {
			slug = slug[:i]
		}
	}
	if slug == "" {
		return "spec"
	}
	return slug
}

// buildSpecPrompt composes the drafting prompt handed to the agent.
func buildSpecPrompt(description, title string) string {
	var b strings.Builder
	b.WriteString("You are drafting a software specification document.\n\n")
	if title != "" {
		b.WriteString("Title: ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString("Task description:\n")
	b.WriteString(description)
	b.WriteString("\n\nWrite a complete markdown specification for this task to a file named ")
	b.WriteString("spec.md in the current working directory. Cover goals, requirements, ")
	b.WriteString("edge cases, and acceptance criteria. Do not modify any other file.\n")
	return b.String()
}

// Run drafts one spec with opts.Agent and saves it to opts.OutputPath.
func Run(ctx context.Context, deps Deps, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.Description) == "" {
		return nil, fmt.Errorf("spec description must not be empty")
	}

	provider, err := deps.Registry.Lookup(opts.Agent.Provider)
	if err != nil {
		return nil, err
	}
	if err := provider.Verify(); err != nil {
		return nil, fmt.Errorf("verify provider %s: %w", opts.Agent.Provider, err)
	}

	title := opts.Title
	if title == "" {
		title = firstWords(opts.Description, 8)
	}
	slug := Slugify(title)

	outputRel := opts.OutputPath
	if outputRel == "" {
		outputRel = layout.RootDir + "/specs/" + slug + ".md"
	}
	outputRel = layout.NormalizeDisplay(outputRel)

	specID, err := generateSpecID(time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate spec id: %w", err)
	}

	record := &types.Record{
		ID:        specID,
		Domain:    types.DomainSpec,
		CreatedAt: store.Now(),
		Status:    types.StatusDrafting,
		Spec: &types.SpecPayload{
			Slug:       slug,
			Title:      title,
			OutputPath: outputRel,
		},
	}
	if err := deps.Store.Append(record); err != nil {
		return nil, fmt.Errorf("persist spec record: %w", err)
	}

	if deps.Runtime != nil {
		if err := deps.Runtime.Register(lifecycle.ActiveSession{
			Domain:    types.DomainSpec,
			SessionID: specID,
		}); err != nil {
			return nil, err
		}
		defer deps.Runtime.Clear(specID)
	}

	res, runErr := draft(ctx, deps, specID, opts, slug, title, outputRel)

	final := types.StatusSaved
	if runErr != nil {
		final = types.StatusFailed
		var wdErr *types.WatchdogTriggeredError
		if errors.As(runErr, &wdErr) {
			final = types.StatusAborted
		}
	}
	now := store.Now()
	if err := deps.Store.Rewrite(types.DomainSpec, specID, func(r *types.Record) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = final
		r.CompletedAt = &now
		if runErr == nil && r.Spec != nil {
			r.Spec.Iterations = append(r.Spec.Iterations, types.SpecIteration{
				IterationNumber: len(r.Spec.Iterations) + 1,
				CreatedAt:       now,
				Accepted:        true,
			})
		}
		return nil
	}); err != nil && runErr == nil {
		return nil, fmt.Errorf("finalize spec record: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

func draft(ctx context.Context, deps Deps, specID string, opts Options, slug, title, outputRel string) (*Result, error) {
	agent := opts.Agent

	subdir := func(sub layout.AgentSubdir) (string, error) {
		rel, err := layout.AgentSubdirPath(types.DomainSpec, specID, agent.ID, sub)
		if err != nil {
			return "", err
		}
		return filepath.Join(deps.RepoRoot, filepath.FromSlash(rel)), nil
	}

	workspace, err := subdir(layout.SubdirWorkspace)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workspace, 0700); err != nil {
		return nil, err
	}
	artifactsDir, err := subdir(layout.SubdirArtifacts)
	if err != nil {
		return nil, err
	}
	runtimeDir, err := subdir(layout.SubdirRuntime)
	if err != nil {
		return nil, err
	}
	sandboxHome, err := subdir(layout.SubdirSandbox)
	if err != nil {
		return nil, err
	}

	promptText := buildSpecPrompt(opts.Description, title)
	if err := harness.WritePromptFile(filepath.Join(runtimeDir, "prompt.ephemeral.spec.txt"), promptText); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}

	authCtx, err := harness.StageAuth(deps.Registry, agent.ID, agent.Provider, sandboxHome)
	if err != nil {
		return nil, fmt.Errorf("stage auth for %s: %w", agent.ID, err)
	}
	defer func() { _ = authCtx.Teardown() }()
	if deps.Runtime != nil {
		deps.Runtime.AttachAgentAuth(specID, lifecycle.AgentContext{
			AgentID:  agent.ID,
			Provider: agent.Provider,
			Auth:     authCtx,
		})
	}

	policy := sandbox.Compose(sandbox.PolicyInputs{
		RepoRoot:       deps.RepoRoot,
		OwnWorkspace:   workspace,
		SandboxHome:    sandboxHome,
		TMPDir:         filepath.Join(sandboxHome, "tmp"),
		ExtraDenyRead:  deps.Sandbox.DenyRead,
		ExtraDenyWrite: deps.Sandbox.DenyWrite,
	})
	policyPath := filepath.Join(runtimeDir, "sandbox.json")
	if err := harness.WriteSandboxPolicy(policyPath, policy); err != nil {
		return nil, fmt.Errorf("write sandbox policy: %w", err)
	}

	env := config.MergedEnv(deps.Environment, agent.Provider)
	for k, v := range authCtx.Result.EnvOverrides {
		env[k] = v
	}

	wcfg := deps.WatchdogConfig
	if len(wcfg.FatalPatterns) == 0 {
		wcfg.FatalPatterns = watchdog.ProviderFatalPatterns(agent.Provider)
	}

	stderrPath := filepath.Join(artifactsDir, "stderr.log")
	res, err := harness.Invoke(ctx, harness.Spec{
		AgentID:        agent.ID,
		Binary:         agent.Binary,
		Argv:           config.ResolveArgv(agent, agent.Model),
		Cwd:            workspace,
		EnvOverride:    env,
		StdoutPath:     filepath.Join(artifactsDir, "stdout.log"),
		StderrPath:     stderrPath,
		Policy:         policy,
		PolicyPath:     policyPath,
		WatchdogConfig: wcfg,
		OnBanner:       func(line string) { harness.AppendBanner(stderrPath, line) },
	})
	if err != nil {
		return nil, err
	}
	if res.WatchdogErr != nil {
		return nil, res.WatchdogErr
	}
	if res.ExitErr != nil {
		return nil, res.ExitErr
	}

	harness.CaptureChat(sandboxHome, agent.Provider, artifactsDir)

	draftText, err := os.ReadFile(filepath.Join(workspace, "spec.md"))
	if err != nil {
		// The agent answered on stdout instead of writing the file;
		// take its final message as the draft rather than failing the
		// whole session over a formality.
		if len(strings.TrimSpace(string(res.Stdout))) == 0 {
			return nil, fmt.Errorf("agent %s produced no spec draft", agent.ID)
		}
		draftText = res.Stdout
	}

	if err := deps.Store.Rewrite(types.DomainSpec, specID, func(r *types.Record) error {
		r.Status = types.StatusSaving
		return nil
	}); err != nil {
		return nil, err
	}

	outputAbs := filepath.Join(deps.RepoRoot, filepath.FromSlash(outputRel))
	if err := writeFileAtomic(outputAbs, draftText); err != nil {
		return nil, fmt.Errorf("save spec to %s: %w", outputRel, err)
	}

	return &Result{SessionID: specID, Slug: slug, OutputPath: outputRel}, nil
}

// firstWords returns the first n whitespace-separated words of s.
func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// writeFileAtomic writes data to path via a same-directory temp file and
// rename, the same protocol the record store uses.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
