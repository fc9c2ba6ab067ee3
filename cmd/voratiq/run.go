package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/runorch"
	"github.com/voratiq/voratiq/internal/types"
)

var (
	runSpecPath    string
	runAgentIDs    []string
	runProfile     string
	runMaxParallel int
	runBranch      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compete agents against a spec",
	Long: `Launch every selected agent in its own sandboxed git worktree against
the same spec, capture each agent's diff and summary, and run the
configured evals in each workspace.

Agents are selected by repeatable --agent flags (order preserved), a
named --profile from orchestration.yaml, or — with neither — every
enabled agent in agents.yaml.`,
	RunE: runRunCmd,
}

func init() {
	runCmd.Flags().StringVar(&runSpecPath, "spec", "", "Path to the spec file (required)")
	runCmd.Flags().StringArrayVar(&runAgentIDs, "agent", nil, "Agent id to run (repeatable, order preserved)")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "Orchestration profile to run")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Concurrent agent cap (default from orchestration.yaml)")
	runCmd.Flags().BoolVar(&runBranch, "branch", false, "Commit each succeeded agent's result to a local branch")
	_ = runCmd.MarkFlagRequired("spec")
	rootCmd.AddCommand(runCmd)
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	if runMaxParallel < 0 {
		return fmt.Errorf("--max-parallel must be positive")
	}
	maxParallel := runMaxParallel
	if maxParallel == 0 {
		maxParallel = ws.cfg.Orchestration.MaxParallel
	}

	agents, err := ws.resolveRunAgents(runProfile, runAgentIDs)
	if err != nil {
		return err
	}

	stop := lifecycle.WatchSignals(ctx, ws.runtime)
	defer stop()

	deps := runorch.Deps{
		RepoRoot:       ws.repoRoot,
		Store:          ws.store,
		Registry:       ws.registry,
		Sandbox:        ws.cfg.Sandbox,
		Environment:    ws.cfg.Environment,
		WatchdogConfig: ws.watchdogConfig(),
		Evals:          ws.resolveEvals(),
		Runtime:        ws.runtime,
	}

	fmt.Printf("Running %d agent(s) against %s (max-parallel %d)\n", len(agents), runSpecPath, maxParallel)
	outcome, runID, err := runorch.Run(ctx, deps, runSpecPath, agents, maxParallel)
	if runID != "" {
		fmt.Printf("Run id: %s\n", runID)
	}
	if err != nil {
		return err
	}

	printRunOutcomes(outcome.Results)

	if runBranch {
		if err := branchSucceededAgents(cmd, ws, runID, outcome.Results); err != nil {
			return err
		}
	}

	for _, r := range outcome.Results {
		if r.Status != types.StatusSucceeded {
			return fmt.Errorf("run %s finished with failures", runID)
		}
	}
	if outcome.Failed {
		return fmt.Errorf("run %s finished with failures", runID)
	}
	return nil
}

func printRunOutcomes(results []runorch.Outcome) {
	for _, r := range results {
		line := fmt.Sprintf("  %-12s %s", r.AgentID, r.Status)
		if r.DiffStat != "" {
			line += "  " + r.DiffStat
		}
		if r.Error != "" {
			line += "  (" + firstLine(r.Error) + ")"
		}
		fmt.Println(line)
		for _, e := range r.Evals {
			fmt.Printf("    eval %-10s %s (exit %d)\n", e.Slug, e.Status, e.ExitCode)
		}
	}
}

// branchSucceededAgents commits each succeeded agent's worktree onto a
// branch named voratiq/<run-id>/<agent-id>, using its summary as the
// commit subject.
func branchSucceededAgents(cmd *cobra.Command, ws *workspace, runID string, results []runorch.Outcome) error {
	for _, r := range results {
		if r.Status != types.StatusSucceeded {
			continue
		}
		rel, err := layout.AgentSubdirPath(types.DomainRun, runID, r.AgentID, layout.SubdirWorkspace)
		if err != nil {
			return err
		}
		worktree := filepath.Join(ws.repoRoot, filepath.FromSlash(rel))
		branch := fmt.Sprintf("voratiq/%s/%s", runID, r.AgentID)
		subject := branchSubject(r.SummaryPath, runID, r.AgentID)
		if err := gitutil.CommitWorktreeToBranch(cmd.Context(), worktree, branch, subject, gitutil.DefaultTimeout); err != nil {
			return fmt.Errorf("branch %s: %w", branch, err)
		}
		fmt.Printf("  branch %s\n", branch)
	}
	return nil
}

func branchSubject(summaryPath, runID, agentID string) string {
	if data, err := os.ReadFile(summaryPath); err == nil {
		if s := firstLine(string(data)); s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s from run %s", agentID, runID)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
