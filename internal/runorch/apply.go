package runorch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
)

// ApplyOptions selects which agent's captured diff to apply and how.
type ApplyOptions struct {
	AgentID            string
	IgnoreBaseMismatch bool
	Commit             bool
}

// ApplyResult reports what Apply did to the working tree.
type ApplyResult struct {
	AgentID             string
	Committed           bool
	CommitSHA           string
	IgnoredBaseMismatch bool
}

// Apply takes the captured diff.patch of one agent from a completed run
// and applies it to the repository working tree. HEAD must still be the
// run's recorded base revision unless opts.IgnoreBaseMismatch is set.
// With opts.Commit, the change is committed using the first line of the
// agent's summary.txt as the subject. The outcome — success or failure —
// is persisted onto the run record as its applyStatus.
func Apply(ctx context.Context, st *store.Store, repoRoot, runID string, opts ApplyOptions) (*ApplyResult, error) {
	rec, err := st.Read(types.DomainRun, runID)
	if err != nil {
		return nil, err
	}
	if rec.Run == nil {
		return nil, fmt.Errorf("session %s is not a run", runID)
	}

	var inv *types.AgentInvocation
	for i := range rec.Run.Agents {
		if rec.Run.Agents[i].AgentID == opts.AgentID {
			inv = &rec.Run.Agents[i]
			break
		}
	}
	if inv == nil {
		return nil, fmt.Errorf("agent %s not found in run %s", opts.AgentID, runID)
	}

	result, err := applyDiff(ctx, repoRoot, runID, rec.Run.BaseRevision, opts)

	status := types.ApplyStatus{
		Status:      "succeeded",
		AgentID:     opts.AgentID,
		AttemptedAt: store.Now(),
	}
	if err != nil {
		status.Status = "failed"
		status.Error = err.Error()
	} else {
		status.IgnoredBaseMismatch = result.IgnoredBaseMismatch
		status.Committed = result.Committed
	}
	if perr := st.Rewrite(types.DomainRun, runID, func(r *types.Record) error {
		if r.Run == nil {
			return fmt.Errorf("run record %s has no run payload", runID)
		}
		r.Run.ApplyStatus = &status
		return nil
	}); perr != nil {
		if err == nil {
			return nil, fmt.Errorf("persist apply status: %w", perr)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyDiff(ctx context.Context, repoRoot, runID, baseRevision string, opts ApplyOptions) (*ApplyResult, error) {
	artifactsRel, err := layout.AgentSubdirPath(types.DomainRun, runID, opts.AgentID, layout.SubdirArtifacts)
	if err != nil {
		return nil, err
	}
	artifactsDir := filepath.Join(repoRoot, filepath.FromSlash(artifactsRel))

	patch, err := os.ReadFile(filepath.Join(artifactsDir, "diff.patch"))
	if err != nil {
		return nil, fmt.Errorf("read captured diff for %s: %w", opts.AgentID, err)
	}

	if err := gitutil.IsClean(ctx, repoRoot, gitutil.DefaultTimeout); err != nil {
		return nil, err
	}

	head, err := gitutil.HeadCommit(ctx, repoRoot, gitutil.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	res := &ApplyResult{AgentID: opts.AgentID}
	if head != baseRevision {
		if !opts.IgnoreBaseMismatch {
			return nil, &types.BaseMismatchError{Expected: baseRevision, Actual: head}
		}
		res.IgnoredBaseMismatch = true
	}

	if err := gitutil.ApplyPatch(ctx, repoRoot, patch, gitutil.DefaultTimeout); err != nil {
		if errors.Is(err, gitutil.ErrEmptyPatch) {
			return nil, fmt.Errorf("agent %s captured an empty diff: %w", opts.AgentID, err)
		}
		return nil, err
	}

	if opts.Commit {
		subject := applyCommitSubject(artifactsDir, runID, opts.AgentID)
		sha, err := gitutil.CommitAll(ctx, repoRoot, subject, gitutil.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		res.Committed = true
		res.CommitSHA = sha
	}
	return res, nil
}

// applyCommitSubject uses the first non-empty line of the agent's
// summary.txt as the commit subject, falling back to a generated one when
// the summary is absent or blank.
func applyCommitSubject(artifactsDir, runID, agentID string) string {
	data, err := os.ReadFile(filepath.Join(artifactsDir, "summary.txt"))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if s := strings.TrimSpace(line); s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("apply %s from run %s", agentID, runID)
}
