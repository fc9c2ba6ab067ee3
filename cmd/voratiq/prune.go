package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/worker"
)

var (
	pruneRunID string
	pruneAll   bool
	prunePurge bool
	pruneYes   bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Mark sessions pruned and optionally delete artifacts",
	Long: `Mark one run (or every finished run) as pruned. The session record and
its index entry survive so history stays auditable; with --purge the
per-agent artifact directories are deleted as well.`,
	RunE: runPruneCmd,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneRunID, "run", "", "Run id to prune")
	pruneCmd.Flags().BoolVar(&pruneAll, "all", false, "Prune every finished run")
	pruneCmd.Flags().BoolVar(&prunePurge, "purge", false, "Also delete session artifacts on disk")
	pruneCmd.Flags().BoolVarP(&pruneYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(pruneCmd)
}

func runPruneCmd(cmd *cobra.Command, args []string) error {
	if (pruneRunID == "") == (!pruneAll) {
		return fmt.Errorf("pass exactly one of --run <id> or --all")
	}

	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	var targets []string
	if pruneRunID != "" {
		rec, err := ws.store.Read(types.DomainRun, pruneRunID)
		if err != nil {
			return err
		}
		if !rec.Status.Terminal() {
			return fmt.Errorf("run %s is still %s; only finished runs can be pruned", pruneRunID, rec.Status)
		}
		targets = []string{pruneRunID}
	} else {
		entries, err := ws.store.List(types.DomainRun)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Status.Terminal() && e.Status != types.StatusPruned {
				targets = append(targets, e.ID)
			}
		}
		if len(targets) == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
	}

	if !pruneYes {
		what := fmt.Sprintf("Prune %d run(s)", len(targets))
		if prunePurge {
			what += " and delete their artifacts"
		}
		proceed, err := confirm(what + "?")
		if err != nil {
			return err
		}
		if !proceed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, id := range targets {
		if err := markPruned(ws, id); err != nil {
			return err
		}
	}

	if prunePurge {
		if err := purgeSessions(ctx, ws, targets); err != nil {
			return err
		}
	}

	fmt.Printf("Pruned %d run(s)\n", len(targets))
	return nil
}

func markPruned(ws *workspace, runID string) error {
	now := store.Now()
	return ws.store.Rewrite(types.DomainRun, runID, func(r *types.Record) error {
		r.Status = types.StatusPruned
		if r.Run != nil {
			r.Run.DeletedAt = &now
		}
		return nil
	})
}

// purgeSessions deletes the per-agent directories of each pruned session
// concurrently, keeping record.json so the session stays listable.
func purgeSessions(ctx context.Context, ws *workspace, runIDs []string) error {
	pool := worker.NewPool[string, int](0)
	results := pool.Process(ctx, runIDs, func(_ context.Context, runID string) (int, error) {
		return purgeSessionArtifacts(ws.repoRoot, runID)
	})

	var firstErr error
	for _, r := range results {
		if r.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("purge %s: %w", r.Item, r.Err)
		}
		VerbosePrintf("purged %d entries from %s\n", r.Value, r.Item)
	}
	if firstErr == nil {
		// Deleting workspace directories orphans their worktree
		// registrations; drop them so future runs start clean.
		if err := gitutil.PruneWorktrees(ctx, ws.repoRoot, gitutil.DefaultTimeout); err != nil {
			VerbosePrintf("%v\n", err)
		}
	}
	return firstErr
}

// purgeSessionArtifacts removes everything under a run's session directory
// except record.json, returning how many entries were deleted.
func purgeSessionArtifacts(repoRoot, runID string) (int, error) {
	rel, err := layout.SessionRoot(types.DomainRun, runID)
	if err != nil {
		return 0, err
	}
	root := filepath.Join(repoRoot, filepath.FromSlash(rel))

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.Name() == "record.json" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
