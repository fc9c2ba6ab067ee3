package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voratiq/voratiq/internal/runorch"
)

var (
	applyRunID        string
	applyAgentID      string
	applyIgnoreBase   bool
	applyCommitResult bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply one agent's captured diff to the working tree",
	Long: `Take the diff.patch one agent produced in a run and apply it to the
repository working tree. HEAD must still be the run's recorded base
revision unless --ignore-base-mismatch is passed. With --commit the
change is committed using the agent's summary as the subject.`,
	RunE: runApplyCmd,
}

func init() {
	applyCmd.Flags().StringVar(&applyRunID, "run", "", "Run id to apply from (required)")
	applyCmd.Flags().StringVar(&applyAgentID, "agent", "", "Agent whose diff to apply (required)")
	applyCmd.Flags().BoolVar(&applyIgnoreBase, "ignore-base-mismatch", false, "Apply even if HEAD moved past the recorded base revision")
	applyCmd.Flags().BoolVar(&applyCommitResult, "commit", false, "Commit the applied change")
	_ = applyCmd.MarkFlagRequired("run")
	_ = applyCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(applyCmd)
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	res, err := runorch.Apply(ctx, ws.store, ws.repoRoot, applyRunID, runorch.ApplyOptions{
		AgentID:            applyAgentID,
		IgnoreBaseMismatch: applyIgnoreBase,
		Commit:             applyCommitResult,
	})
	if err != nil {
		return err
	}

	if res.Committed {
		fmt.Printf("Applied %s from run %s and committed %s\n", res.AgentID, applyRunID, res.CommitSHA)
	} else {
		fmt.Printf("Applied %s from run %s to the working tree\n", res.AgentID, applyRunID)
	}
	if res.IgnoredBaseMismatch {
		fmt.Println("Warning: base revision mismatch was ignored; the patch applied against a moved HEAD")
	}
	return nil
}
