// Package config loads and validates voratiq's five .voratiq/*.yaml files.
// Each file is decoded twice: once into a yaml.Node tree so validation
// errors can carry a line number, and once into its typed struct via
// gopkg.in/yaml.v3 struct tags. No caller outside this package ever sees
// an untyped map[string]any — every accessor returns a typed record.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/voratiq/voratiq/internal/types"
)

// AgentsFile is the decoded form of .voratiq/agents.yaml.
type AgentsFile struct {
	Agents []types.AgentDefinition `yaml:"agents"`
}

// EvalsFile is the decoded form of .voratiq/evals.yaml.
type EvalsFile struct {
	Evals []types.EvalDefinition `yaml:"evals"`
}

// ProviderEnv is one provider's environment passthrough policy.
type ProviderEnv struct {
	Allowlist []string `yaml:"allowlist"`
}

// EnvironmentFile is the decoded form of .voratiq/environment.yaml.
type EnvironmentFile struct {
	Providers map[string]ProviderEnv `yaml:"providers"`
	Env       map[string]string      `yaml:"env"`
}

// StageBinding is one named orchestration profile: the run agents it
// selects, in order, and the reviewer agent it binds for that profile.
type StageBinding struct {
	Agents        []string `yaml:"agents"`
	ReviewerAgent string   `yaml:"reviewer_agent"`
}

// OrchestrationFile is the decoded form of .voratiq/orchestration.yaml.
type OrchestrationFile struct {
	MaxParallel   int                     `yaml:"max_parallel"`
	Evals         []string                `yaml:"evals"`
	ReviewerAgent string                  `yaml:"reviewer_agent"`
	Stages        map[string]StageBinding `yaml:"stages"`
}

// SandboxDenialTuning overrides the watchdog's sandbox-denial backoff
// timings (the escalation ladder itself is fixed). Durations are Go
// duration strings; empty fields keep the built-in defaults.
type SandboxDenialTuning struct {
	ResetWindow string `yaml:"reset_window"`
	Delay       string `yaml:"delay"`
}

// SandboxFile is the decoded form of .voratiq/sandbox.yaml.
type SandboxFile struct {
	DenyRead  []string            `yaml:"deny_read"`
	DenyWrite []string            `yaml:"deny_write"`
	Denial    SandboxDenialTuning `yaml:"denial"`
}

// Files is every config file loaded for one repository root, resolved
// once per command invocation and threaded through as a handle.
type Files struct {
	Agents        AgentsFile
	Evals         EvalsFile
	Environment   EnvironmentFile
	Orchestration OrchestrationFile
	Sandbox       SandboxFile
}

// The five fixed filenames under .voratiq/, matching
// internal/layout.RootDir.
const (
	agentsFilename        = "agents.yaml"
	evalsFilename         = "evals.yaml"
	environmentFilename   = "environment.yaml"
	orchestrationFilename = "orchestration.yaml"
	sandboxFilename       = "sandbox.yaml"
)

// Load reads and validates every .voratiq/*.yaml file under repoRoot/.voratiq.
// A missing file decodes to its zero value rather than erroring — `init`
// is what creates these files; a freshly-cloned repo running a read-only
// command (e.g. `list`) should not fail just because evals.yaml is absent.
func Load(repoRoot string) (*Files, error) {
	dir := filepath.Join(repoRoot, ".voratiq")

	var f Files
	if err := loadYAML(filepath.Join(dir, agentsFilename), &f.Agents); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, evalsFilename), &f.Evals); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, environmentFilename), &f.Environment); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, orchestrationFilename), &f.Orchestration); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(dir, sandboxFilename), &f.Sandbox); err != nil {
		return nil, err
	}

	if f.Orchestration.MaxParallel <= 0 {
		f.Orchestration.MaxParallel = DefaultMaxParallel
	}

	if err := ValidateAgents(f.Agents.Agents); err != nil {
		return nil, &types.ConfigError{Path: agentsFilename, Err: err}
	}
	if err := ValidateOrchestration(f.Orchestration, f.Agents.Agents); err != nil {
		return nil, &types.ConfigError{Path: orchestrationFilename, Err: err}
	}

	return &f, nil
}

// DefaultMaxParallel is used when orchestration.yaml omits max_parallel or
// sets it non-positive.
const DefaultMaxParallel = 4

// loadYAML decodes path into out via the generic tree model first (to
// surface a line-bearing syntax error distinct from a validation error),
// then into the typed struct. A missing file leaves out at its zero value.
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var tree yaml.Node
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return &types.ConfigError{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		line := 0
		if len(tree.Content) > 0 {
			line = tree.Content[0].Line
		}
		return &types.ConfigError{Path: path, Err: fmt.Errorf("line %d: decode: %w", line, err)}
	}
	return nil
}
