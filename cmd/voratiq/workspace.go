package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/config"
	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// workspace bundles the handles every command needs: the repository root,
// the loaded configuration, the record store, the lifecycle runtime, and
// the provider registry. One is constructed per command invocation.
type workspace struct {
	repoRoot string
	cfg      *config.Files
	store    *store.Store
	runtime  *lifecycle.Runtime
	registry *auth.Registry
}

// openStores tracks every record store opened during this invocation so
// Execute can flush buffered records unconditionally before the process
// exits, whatever path the command took to get there.
var openStores []*store.Store

// flushOpenStores persists every buffered record in every opened store.
func flushOpenStores() {
	for _, s := range openStores {
		_ = s.FlushAll()
	}
}

// openWorkspace resolves the enclosing git repository and loads its
// configuration.
func openWorkspace(ctx context.Context) (*workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	root, err := gitutil.RepoRoot(ctx, cwd, gitutil.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	rt := lifecycle.New(root)
	openStores = append(openStores, rt.Store)
	return &workspace{
		repoRoot: root,
		cfg:      cfg,
		store:    rt.Store,
		runtime:  rt,
		registry: newProviderRegistry(),
	}, nil
}

// newProviderRegistry wires every credential provider voratiq ships.
func newProviderRegistry() *auth.Registry {
	r := auth.NewRegistry()
	r.Register(&auth.ClaudeProvider{})
	r.Register(auth.NewConfigDirProvider("codex", ".codex"))
	r.Register(auth.NewConfigDirProvider("gemini", ".gemini"))
	return r
}

// watchdogConfig builds the per-run watchdog configuration, applying any
// sandbox.yaml denial-timing overrides on top of the defaults.
func (w *workspace) watchdogConfig() watchdog.Config {
	cfg := watchdog.NewConfig()
	tuning := w.cfg.Sandbox.Denial
	if tuning.ResetWindow != "" {
		if d, err := time.ParseDuration(tuning.ResetWindow); err == nil && d > 0 {
			cfg.SandboxDenialWindow = d
		}
	}
	if tuning.Delay != "" {
		if d, err := time.ParseDuration(tuning.Delay); err == nil && d > 0 {
			cfg.SandboxDenialDelay = d
		}
	}
	return cfg
}

// agentByID returns the enabled agent definition with the given id.
func (w *workspace) agentByID(id string) (types.AgentDefinition, error) {
	for _, a := range w.cfg.Agents.Agents {
		if a.ID == id {
			if !a.IsEnabled() {
				return types.AgentDefinition{}, fmt.Errorf("agent %s is disabled in agents.yaml", id)
			}
			return a, nil
		}
	}
	return types.AgentDefinition{}, fmt.Errorf("unknown agent: %s", id)
}

// resolveRunAgents picks the ordered agent definitions for a run: explicit
// --agent flags beat a --profile's stage binding, which beats the full
// enabled catalog.
func (w *workspace) resolveRunAgents(profile string, explicit []string) ([]types.AgentDefinition, error) {
	if len(explicit) == 0 && profile == "" {
		var out []types.AgentDefinition
		for _, a := range w.cfg.Agents.Agents {
			if a.IsEnabled() {
				out = append(out, a)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no enabled agents in agents.yaml; run `voratiq init` or pass --agent")
		}
		return out, nil
	}

	ids, err := config.ResolveAgentIDs(w.cfg.Orchestration, profile, explicit)
	if err != nil {
		return nil, err
	}
	out := make([]types.AgentDefinition, 0, len(ids))
	for _, id := range ids {
		a, err := w.agentByID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// resolveReviewer picks exactly one reviewer agent: --agent beats the
// profile's reviewer binding, which beats orchestration.yaml's default.
func (w *workspace) resolveReviewer(explicit, profile string) (types.AgentDefinition, error) {
	id := explicit
	if id == "" && profile != "" {
		stage, ok := w.cfg.Orchestration.Stages[profile]
		if !ok {
			return types.AgentDefinition{}, fmt.Errorf("unknown profile: %s", profile)
		}
		id = stage.ReviewerAgent
	}
	if id == "" {
		id = w.cfg.Orchestration.ReviewerAgent
	}
	if id == "" {
		return types.AgentDefinition{}, fmt.Errorf("no reviewer selected: pass --agent or set reviewer_agent in orchestration.yaml")
	}
	return w.agentByID(id)
}

// resolveEvals returns the eval definitions a run should execute: the
// orchestration default set when configured, otherwise every enabled eval.
func (w *workspace) resolveEvals() []types.EvalDefinition {
	selected := w.cfg.Orchestration.Evals
	var out []types.EvalDefinition
	for _, e := range w.cfg.Evals.Evals {
		if !e.IsEnabled() {
			continue
		}
		if len(selected) > 0 && !containsString(selected, e.Slug) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// confirm prompts on stdout and reads a y/N answer from stdin.
func confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
