package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/lifecycle"
	"github.com/voratiq/voratiq/internal/review"
	"github.com/voratiq/voratiq/internal/runorch"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
)

var (
	reviewRunID   string
	reviewAgentID string
	reviewProfile string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Blindly review a completed run",
	Long: `Stage every diff-producing agent of a run under a random alias, hand
the blinded candidates to a reviewer agent, validate its recommendation
against the eligible alias set, and de-alias the result.

The reviewer never sees which vendor produced which diff.`,
	RunE: runReviewCmd,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRunID, "run", "", "Run id to review (required)")
	reviewCmd.Flags().StringVar(&reviewAgentID, "agent", "", "Reviewer agent id")
	reviewCmd.Flags().StringVar(&reviewProfile, "profile", "", "Orchestration profile naming the reviewer")
	_ = reviewCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(reviewCmd)
}

func runReviewCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	reviewer, err := ws.resolveReviewer(reviewAgentID, reviewProfile)
	if err != nil {
		return err
	}

	runRec, err := ws.store.Read(types.DomainRun, reviewRunID)
	if err != nil {
		return err
	}
	if runRec.Run == nil {
		return fmt.Errorf("session %s is not a run", reviewRunID)
	}
	if !runRec.Status.Terminal() {
		return fmt.Errorf("run %s is still %s; review requires a finished run", reviewRunID, runRec.Status)
	}

	reviewID, err := newReviewID(time.Now())
	if err != nil {
		return err
	}

	outputRel, err := reviewOutputPath(reviewID, reviewer.ID)
	if err != nil {
		return err
	}

	record := &types.Record{
		ID:        reviewID,
		Domain:    types.DomainReview,
		CreatedAt: store.Now(),
		Status:    types.StatusRunning,
		Review: &types.ReviewPayload{
			RunID:      reviewRunID,
			ReviewerID: reviewer.ID,
			OutputPath: outputRel,
		},
	}
	if err := ws.store.Append(record); err != nil {
		return fmt.Errorf("persist review record: %w", err)
	}

	if err := ws.runtime.Register(lifecycle.ActiveSession{
		Domain:    types.DomainReview,
		SessionID: reviewID,
	}); err != nil {
		return err
	}
	defer ws.runtime.Clear(reviewID)

	stop := lifecycle.WatchSignals(ctx, ws.runtime)
	defer stop()

	fmt.Printf("Reviewing run %s with %s (review id %s)\n", reviewRunID, reviewer.ID, reviewID)
	outcome, err := review.Run(ctx, review.Deps{
		RepoRoot:       ws.repoRoot,
		Store:          ws.store,
		Registry:       ws.registry,
		Sandbox:        ws.cfg.Sandbox,
		Environment:    ws.cfg.Environment,
		WatchdogConfig: ws.watchdogConfig(),
		Runtime:        ws.runtime,
	}, reviewRunID, reviewID, runRec.Run.SpecPath, runRec.Run.BaseRevision, runRec.Run.Agents, []types.AgentDefinition{reviewer}, 1)
	if err != nil {
		_ = finalizeReviewStatus(ws.store, reviewID, types.StatusFailed)
		return err
	}

	final := types.StatusSucceeded
	var firstErr string
	for _, r := range outcome.Results {
		if r.Status != types.StatusSucceeded {
			final = types.StatusFailed
			if firstErr == "" {
				firstErr = r.Error
			}
		}
	}
	if outcome.Failed {
		final = types.StatusFailed
	}
	if err := finalizeReviewStatus(ws.store, reviewID, final); err != nil {
		return err
	}

	for _, r := range outcome.Results {
		if r.Status == types.StatusSucceeded {
			fmt.Printf("Review complete: %s\n", r.ReviewMDPath)
			if len(r.ResolvedPreferred) > 0 {
				fmt.Printf("Preferred agents: %s\n", strings.Join(r.ResolvedPreferred, ", "))
			}
		}
	}
	if final != types.StatusSucceeded {
		if firstErr != "" {
			return fmt.Errorf("review %s failed: %s", reviewID, firstErr)
		}
		return fmt.Errorf("review %s failed", reviewID)
	}
	return nil
}

// newReviewID mirrors the run id shape so every session id under
// .voratiq sorts chronologically regardless of domain.
func newReviewID(now time.Time) (string, error) {
	return runorch.GenerateRunID(now)
}

// reviewOutputPath is the repo-relative path of a reviewer's review.md.
func reviewOutputPath(reviewID, reviewerID string) (string, error) {
	rel, err := layout.AgentSubdirPath(types.DomainReview, reviewID, reviewerID, layout.SubdirArtifacts)
	if err != nil {
		return "", err
	}
	return rel + "/review.md", nil
}

func finalizeReviewStatus(s *store.Store, reviewID string, status types.Status) error {
	err := s.Rewrite(types.DomainReview, reviewID, func(r *types.Record) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = status
		now := store.Now()
		r.CompletedAt = &now
		return nil
	})
	if err != nil && errors.Is(err, types.ErrSessionNotFound) {
		return nil
	}
	return err
}
