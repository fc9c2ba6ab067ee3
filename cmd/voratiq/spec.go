package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/specorch"
)

var (
	specDescription string
	specAgentID     string
	specProfile     string
	specTitle       string
	specOutput      string
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Draft a specification with a single agent",
	Long: `Hand a task description to one agent and save the specification it
drafts to .voratiq/specs/<slug>.md (or --output).

Exactly one agent must resolve: pass --agent, or a --profile whose stage
binds a single agent.`,
	RunE: runSpecCmd,
}

func init() {
	specCmd.Flags().StringVar(&specDescription, "description", "", "Task description to expand into a spec (required)")
	specCmd.Flags().StringVar(&specAgentID, "agent", "", "Agent id to draft with")
	specCmd.Flags().StringVar(&specProfile, "profile", "", "Orchestration profile naming the drafting agent")
	specCmd.Flags().StringVar(&specTitle, "title", "", "Spec title (default derived from the description)")
	specCmd.Flags().StringVar(&specOutput, "output", "", "Repo-relative output path (default .voratiq/specs/<slug>.md)")
	_ = specCmd.MarkFlagRequired("description")
	rootCmd.AddCommand(specCmd)
}

func runSpecCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	var explicit []string
	if specAgentID != "" {
		explicit = []string{specAgentID}
	}
	agents, err := ws.resolveRunAgents(specProfile, explicit)
	if err != nil {
		return err
	}
	if len(agents) != 1 {
		return fmt.Errorf("spec drafting needs exactly one agent, got %d; pass --agent", len(agents))
	}

	stop := lifecycle.WatchSignals(ctx, ws.runtime)
	defer stop()

	res, err := specorch.Run(ctx, specorch.Deps{
		RepoRoot:       ws.repoRoot,
		Store:          ws.store,
		Registry:       ws.registry,
		Sandbox:        ws.cfg.Sandbox,
		Environment:    ws.cfg.Environment,
		WatchdogConfig: ws.watchdogConfig(),
		Runtime:        ws.runtime,
	}, specorch.Options{
		Description: specDescription,
		Title:       specTitle,
		OutputPath:  specOutput,
		Agent:       agents[0],
	})
	if err != nil {
		return err
	}

	fmt.Printf("Spec saved: %s (session %s)\n", res.OutputPath, res.SessionID)
	return nil
}
