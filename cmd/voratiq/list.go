package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/formatter"
	"github.com/voratiq/voratiq/internal/types"
)

var (
	listLimit         int
	listSpecPath      string
	listRunID         string
	listIncludePruned bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent sessions",
	Long: `List runs, specs, and reviews newest-first. Corrupt or missing records
are reported as warnings and skipped rather than aborting the listing.`,
	RunE: runListCmd,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 10, "Maximum sessions to show")
	listCmd.Flags().StringVar(&listSpecPath, "spec", "", "Only runs for this spec path")
	listCmd.Flags().StringVar(&listRunID, "run", "", "Only this run (and its reviews)")
	listCmd.Flags().BoolVar(&listIncludePruned, "include-pruned", false, "Include pruned sessions")
	rootCmd.AddCommand(listCmd)
}

func runListCmd(cmd *cobra.Command, args []string) error {
	if listLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	onWarning := func(warnErr error) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", warnErr)
	}

	var records []*types.Record
	for _, domain := range []types.Domain{types.DomainRun, types.DomainSpec, types.DomainReview} {
		recs, err := ws.store.Query(domain, func(r *types.Record) bool {
			return matchListFilters(r)
		}, listLimit, onWarning)
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > listLimit {
		records = records[:listLimit]
	}

	if len(records) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	tbl := formatter.NewTable("ID", "KIND", "STATUS", "CREATED", "COMPLETED", "DETAILS")
	tbl.SetMaxWidth(5, 48)
	for _, r := range records {
		completed := "-"
		if r.CompletedAt != nil {
			completed = formatter.Timestamp(*r.CompletedAt)
		}
		tbl.AddRow(
			r.ID,
			kindOf(r),
			string(r.Status),
			formatter.Timestamp(r.CreatedAt),
			completed,
			detailsOf(r),
		)
	}
	return tbl.Render(os.Stdout)
}

func matchListFilters(r *types.Record) bool {
	if !listIncludePruned && r.Status == types.StatusPruned {
		return false
	}
	if listRunID != "" {
		switch {
		case r.Domain == types.DomainRun && r.ID == listRunID:
		case r.Domain == types.DomainReview && r.Review != nil && r.Review.RunID == listRunID:
		default:
			return false
		}
	}
	if listSpecPath != "" {
		if r.Domain != types.DomainRun || r.Run == nil || r.Run.SpecPath != listSpecPath {
			return false
		}
	}
	return true
}

func kindOf(r *types.Record) string {
	switch r.Domain {
	case types.DomainRun:
		return "run"
	case types.DomainSpec:
		return "spec"
	case types.DomainReview:
		return "review"
	}
	return string(r.Domain)
}

func detailsOf(r *types.Record) string {
	switch {
	case r.Run != nil:
		parts := make([]string, 0, len(r.Run.Agents))
		for _, a := range r.Run.Agents {
			parts = append(parts, fmt.Sprintf("%s:%s", a.AgentID, a.Status))
		}
		details := strings.Join(parts, " ")
		if r.Run.ApplyStatus != nil {
			details += fmt.Sprintf(" applied:%s", r.Run.ApplyStatus.Status)
		}
		return details
	case r.Spec != nil:
		return r.Spec.OutputPath
	case r.Review != nil:
		return fmt.Sprintf("run:%s reviewer:%s", r.Review.RunID, r.Review.ReviewerID)
	}
	return ""
}
