package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/types"
)

var (
	initPreset string
	initYes    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .voratiq/ in the current repository",
	Long: `Set up a repository for voratiq: the .voratiq/ data directory, session
storage for runs/specs/reviews, and the five configuration files.

Presets:
  pro      agents.yaml pre-filled for claude, codex, and gemini
  lite     agents.yaml pre-filled for claude only
  manual   empty agents.yaml to fill in by hand

Existing files are never overwritten — init only fills in what is
missing. Safe to run multiple times.`,
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().StringVar(&initPreset, "preset", "pro", "Config preset (pro, lite, manual)")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(initCmd)
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	agentsTemplate, ok := agentsPresets[initPreset]
	if !ok {
		return fmt.Errorf("unknown preset: %s (expected pro, lite, or manual)", initPreset)
	}

	ctx := cmd.Context()
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root, err := gitutil.RepoRoot(ctx, cwd, gitutil.DefaultTimeout)
	if err != nil {
		return err
	}

	if !initYes {
		proceed, err := confirm(fmt.Sprintf("Initialize voratiq in %s?", root))
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	files := map[string]string{
		"agents.yaml":        agentsTemplate,
		"evals.yaml":         evalsTemplate,
		"environment.yaml":   environmentTemplate,
		"orchestration.yaml": orchestrationTemplate,
		"sandbox.yaml":       sandboxTemplate,
	}
	dir := filepath.Join(root, layout.RootDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", layout.RootDir, err)
	}

	var created []string
	for _, name := range []string{"agents.yaml", "evals.yaml", "environment.yaml", "orchestration.yaml", "sandbox.yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			VerbosePrintf("%s/%s exists, leaving it alone\n", layout.RootDir, name)
			continue
		}
		if err := os.WriteFile(path, []byte(files[name]), 0600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		created = append(created, layout.RootDir+"/"+name)
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	for _, domain := range []types.Domain{types.DomainRun, types.DomainSpec, types.DomainReview} {
		if err := ws.store.Init(domain); err != nil {
			return fmt.Errorf("initialize %s storage: %w", domain, err)
		}
	}

	if err := ensureGitignoreEntry(root); err != nil {
		return err
	}

	fmt.Printf("Initialized voratiq in %s\n", root)
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, f := range created {
			fmt.Printf("  %s\n", f)
		}
	}
	fmt.Printf("  %s/{runs,specs,reviews}/sessions/\n", layout.RootDir)
	return nil
}

// ensureGitignoreEntry appends ".voratiq/" to the repository .gitignore if
// absent, so session records never dirty the working tree a run requires
// to be clean.
func ensureGitignoreEntry(root string) error {
	path := filepath.Join(root, ".gitignore")
	entry := layout.RootDir + "/"

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("update .gitignore: %w", err)
	}
	return nil
}

var agentsPresets = map[string]string{
	"pro": `# Competing agents. Each needs its vendor CLI installed and authenticated.
# argv_template must contain MODEL_PLACEHOLDER exactly once.
agents:
  - id: claude
    provider: claude
    model: claude-sonnet-4-5
    binary: /usr/local/bin/claude
    argv_template: ["--model", "MODEL_PLACEHOLDER", "--print"]
  - id: codex
    provider: codex
    model: gpt-5-codex
    binary: /usr/local/bin/codex
    argv_template: ["exec", "--model", "MODEL_PLACEHOLDER"]
  - id: gemini
    provider: gemini
    model: gemini-2.5-pro
    binary: /usr/local/bin/gemini
    argv_template: ["--model", "MODEL_PLACEHOLDER"]
`,
	"lite": `# Competing agents. Each needs its vendor CLI installed and authenticated.
# argv_template must contain MODEL_PLACEHOLDER exactly once.
agents:
  - id: claude
    provider: claude
    model: claude-sonnet-4-5
    binary: /usr/local/bin/claude
    argv_template: ["--model", "MODEL_PLACEHOLDER", "--print"]
`,
	"manual": `# Competing agents. Each needs its vendor CLI installed and authenticated.
# argv_template must contain MODEL_PLACEHOLDER exactly once.
#
# agents:
#   - id: claude
#     provider: claude          # claude | codex | gemini
#     model: claude-sonnet-4-5
#     binary: /usr/local/bin/claude
#     argv_template: ["--model", "MODEL_PLACEHOLDER", "--print"]
#     extra_args: []
#     enabled: true
agents: []
`,
}

const evalsTemplate = `# Deterministic checks run in each agent's workspace after it finishes.
# Failures are recorded but do not fail the run.
#
# evals:
#   - slug: test
#     command: go
#     args: ["test", "./..."]
evals: []
`

const environmentTemplate = `# Extra environment passed to sandboxed agents, per provider.
#
# providers:
#   claude:
#     allowlist: ["NO_PROXY"]
# env:
#   CI: "true"
providers: {}
env: {}
`

const orchestrationTemplate = `# Run defaults and named profiles.
max_parallel: 4
# evals: []            # restrict runs to these eval slugs (default: all)
# reviewer_agent: claude
# stages:
#   quick:
#     agents: [claude]
#     reviewer_agent: claude
stages: {}
`

const sandboxTemplate = `# Extra deny rules layered onto the built-in sandbox policy, and
# sandbox-denial backoff timing overrides.
deny_read: []
deny_write: []
# denial:
#   reset_window: 120s
#   delay: 300ms
denial: {}
`
