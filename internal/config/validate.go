package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/voratiq/voratiq/internal/types"
)

// knownProviders is the set of provider tags internal/auth.NewRegistry
// registers a Provider for.
var knownProviders = map[string]bool{
	"claude": true,
	"codex":  true,
	"gemini": true,
}

// ValidateAgents checks the duplicate-id, unknown-provider, and
// MODEL_PLACEHOLDER invariants from the Data Model section. Disabled
// agents are still validated: a malformed definition should fail loudly
// even if nobody would currently select it, rather than surface only once
// someone flips enabled back to true.
func ValidateAgents(agents []types.AgentDefinition) error {
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a.ID == "" {
			return fmt.Errorf("agent definition missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: %s", types.ErrDuplicateAgentID, a.ID)
		}
		seen[a.ID] = true

		if !knownProviders[a.Provider] {
			return fmt.Errorf("%w: agent %s: %s", types.ErrUnknownProvider, a.ID, a.Provider)
		}

		if err := validatePlaceholder(a); err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}

		if a.Binary == "" {
			return fmt.Errorf("agent %s: binary must not be empty", a.ID)
		}
	}
	return nil
}

// validatePlaceholder enforces the argv placeholder law (Testable
// Property #3): MODEL_PLACEHOLDER appears exactly once in argv_template,
// and --model never appears in extra_args.
func validatePlaceholder(a types.AgentDefinition) error {
	count := 0
	for _, tok := range a.ArgvTemplate {
		count += strings.Count(tok, "MODEL_PLACEHOLDER")
	}
	if count != 1 {
		return types.ErrPlaceholderMissing
	}
	for _, tok := range a.ExtraArgs {
		if tok == "--model" {
			return types.ErrModelFlagInExtraArgs
		}
	}
	return nil
}

// ResolveArgv substitutes MODEL_PLACEHOLDER with model and appends
// extra_args, realizing the argv placeholder law.
func ResolveArgv(a types.AgentDefinition, model string) []string {
	argv := make([]string, 0, len(a.ArgvTemplate)+len(a.ExtraArgs))
	for _, tok := range a.ArgvTemplate {
		argv = append(argv, strings.Replace(tok, "MODEL_PLACEHOLDER", model, 1))
	}
	argv = append(argv, a.ExtraArgs...)
	return argv
}

// BinaryExecutable verifies a's binary path exists and carries at least
// one execute bit, matching the "non-executable binary" Runtime error.
func BinaryExecutable(a types.AgentDefinition) error {
	info, err := os.Stat(a.Binary)
	if err != nil {
		return fmt.Errorf("agent %s: binary not found: %w", a.ID, err)
	}
	if info.IsDir() {
		return fmt.Errorf("agent %s: binary %s is a directory", a.ID, a.Binary)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("agent %s: binary %s is not executable", a.ID, a.Binary)
	}
	return nil
}

// ValidateOrchestration checks that every agent id referenced by a stage
// binding or the default reviewer_agent names an entry in agents, per the
// "unknown orchestration stage agent" Configuration error.
func ValidateOrchestration(o OrchestrationFile, agents []types.AgentDefinition) error {
	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a.ID] = true
	}

	check := func(id string) error {
		if id != "" && !known[id] {
			return fmt.Errorf("unknown orchestration stage agent: %s", id)
		}
		return nil
	}

	if err := check(o.ReviewerAgent); err != nil {
		return err
	}
	for name, stage := range o.Stages {
		for _, id := range stage.Agents {
			if err := check(id); err != nil {
				return fmt.Errorf("stage %s: %w", name, err)
			}
		}
		if err := check(stage.ReviewerAgent); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return nil
}

// ResolveAgentIDs picks the ordered agent id list for a run, returning an
// error if any id appears more than once:
// explicit --agent flags take precedence over a --profile's stage
// binding, which takes precedence over no selection at all.
func ResolveAgentIDs(o OrchestrationFile, profile string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return dedupOrdered(explicit)
	}
	if profile != "" {
		stage, ok := o.Stages[profile]
		if !ok {
			return nil, fmt.Errorf("unknown profile: %s", profile)
		}
		return dedupOrdered(stage.Agents)
	}
	return nil, fmt.Errorf("no agents selected: pass --agent or --profile")
}

func dedupOrdered(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("duplicate agent: %s", id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
