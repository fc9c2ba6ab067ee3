package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/review"
	"github.com/voratiq/voratiq/internal/runorch"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
)

var (
	autoSpecPath      string
	autoRunAgentIDs   []string
	autoReviewAgentID string
	autoProfile       string
	autoApply         bool
	autoCommit        bool
)

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "run + review + apply in one go",
	Long: `Compete agents against a spec, blindly review the results, and — with
--apply — apply the reviewer's top pick to the working tree. --commit
additionally commits the applied change and requires --apply.`,
	RunE: runAutoCmd,
}

func init() {
	autoCmd.Flags().StringVar(&autoSpecPath, "spec", "", "Path to the spec file (required)")
	autoCmd.Flags().StringArrayVar(&autoRunAgentIDs, "run-agent", nil, "Agent id to run (repeatable, order preserved)")
	autoCmd.Flags().StringVar(&autoReviewAgentID, "review-agent", "", "Reviewer agent id")
	autoCmd.Flags().StringVar(&autoProfile, "profile", "", "Orchestration profile")
	autoCmd.Flags().BoolVar(&autoApply, "apply", false, "Apply the reviewer's preferred diff")
	autoCmd.Flags().BoolVar(&autoCommit, "commit", false, "Commit the applied change (requires --apply)")
	_ = autoCmd.MarkFlagRequired("spec")
	rootCmd.AddCommand(autoCmd)
}

func runAutoCmd(cmd *cobra.Command, args []string) error {
	if autoCommit && !autoApply {
		return fmt.Errorf("--commit requires --apply")
	}

	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	agents, err := ws.resolveRunAgents(autoProfile, autoRunAgentIDs)
	if err != nil {
		return err
	}
	reviewer, err := ws.resolveReviewer(autoReviewAgentID, autoProfile)
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

	fmt.Printf("Running %d agent(s) against %s\n", len(agents), autoSpecPath)
	outcome, runID, err := runorch.Run(ctx, deps, autoSpecPath, agents, ws.cfg.Orchestration.MaxParallel)
	if runID != "" {
		fmt.Printf("Run id: %s\n", runID)
	}
	if err != nil {
		return err
	}
	printRunOutcomes(outcome.Results)

	anySucceeded := false
	for _, r := range outcome.Results {
		if r.Status == types.StatusSucceeded {
			anySucceeded = true
		}
	}
	if !anySucceeded {
		return fmt.Errorf("run %s produced no successful candidate to review", runID)
	}

	preferred, err := autoReview(cmd, ws, runID, reviewer)
	if err != nil {
		return err
	}
	if preferred == "" {
		return fmt.Errorf("review recommended no agent")
	}
	fmt.Printf("Reviewer preferred: %s\n", preferred)

	if !autoApply {
		fmt.Printf("Next: voratiq apply --run %s --agent %s\n", runID, preferred)
		return nil
	}

	res, err := runorch.Apply(ctx, ws.store, ws.repoRoot, runID, runorch.ApplyOptions{
		AgentID: preferred,
		Commit:  autoCommit,
	})
	if err != nil {
		return err
	}
	if res.Committed {
		fmt.Printf("Applied %s and committed %s\n", preferred, res.CommitSHA)
	} else {
		fmt.Printf("Applied %s to the working tree\n", preferred)
	}
	return nil
}

// autoReview runs the blinded review leg and returns the reviewer's top
// de-aliased pick.
func autoReview(cmd *cobra.Command, ws *workspace, runID string, reviewer types.AgentDefinition) (string, error) {
	ctx := cmd.Context()

	runRec, err := ws.store.Read(types.DomainRun, runID)
	if err != nil {
		return "", err
	}

	reviewID, err := newReviewID(store.Now())
	if err != nil {
		return "", err
	}
	outputRel, err := reviewOutputPath(reviewID, reviewer.ID)
	if err != nil {
		return "", err
	}

	record := &types.Record{
		ID:        reviewID,
		Domain:    types.DomainReview,
		CreatedAt: store.Now(),
		Status:    types.StatusRunning,
		Review: &types.ReviewPayload{
			RunID:      runID,
			ReviewerID: reviewer.ID,
			OutputPath: outputRel,
		},
	}
	if err := ws.store.Append(record); err != nil {
		return "", fmt.Errorf("persist review record: %w", err)
	}
	if err := ws.runtime.Register(lifecycle.ActiveSession{
		Domain:    types.DomainReview,
		SessionID: reviewID,
	}); err != nil {
		return "", err
	}
	defer ws.runtime.Clear(reviewID)

	fmt.Printf("Reviewing run %s with %s (review id %s)\n", runID, reviewer.ID, reviewID)
	outcome, err := review.Run(ctx, review.Deps{
		RepoRoot:       ws.repoRoot,
		Store:          ws.store,
		Registry:       ws.registry,
		Sandbox:        ws.cfg.Sandbox,
		Environment:    ws.cfg.Environment,
		WatchdogConfig: ws.watchdogConfig(),
		Runtime:        ws.runtime,
	}, runID, reviewID, runRec.Run.SpecPath, runRec.Run.BaseRevision, runRec.Run.Agents, []types.AgentDefinition{reviewer}, 1)
	if err != nil {
		_ = finalizeReviewStatus(ws.store, reviewID, types.StatusFailed)
		return "", err
	}

	final := types.StatusSucceeded
	preferred := ""
	for _, r := range outcome.Results {
		if r.Status != types.StatusSucceeded {
			final = types.StatusFailed
			continue
		}
		if len(r.ResolvedPreferred) > 0 && preferred == "" {
			preferred = r.ResolvedPreferred[0]
		}
	}
	if outcome.Failed {
		final = types.StatusFailed
	}
	if err := finalizeReviewStatus(ws.store, reviewID, final); err != nil {
		return "", err
	}
	if final != types.StatusSucceeded {
		return "", fmt.Errorf("review %s failed", reviewID)
	}
	return preferred, nil
}
