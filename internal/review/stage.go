package review

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/types"
)

// Candidate is one eligible run agent: a real agent id with a captured
// diff on disk.
type Candidate struct {
	AgentID  string
	DiffPath string // absolute path to the real diff.patch
}

// Eligible filters a run's agent invocations down to those with a
// captured diff. Returns types.ErrNoEligibleCandidates
// if none qualify.
func Eligible(repoRoot, runID string, agents []types.AgentInvocation) ([]Candidate, error) {
	var out []Candidate
	for _, a := range agents {
		if !a.Artifacts.Diff {
			continue
		}
		artifactsDir, err := layout.AgentSubdirPath(types.DomainRun, runID, a.AgentID, layout.SubdirArtifacts)
		if err != nil {
			return nil, err
		}
		diffPath := filepath.Join(repoRoot, filepath.FromSlash(artifactsDir), "diff.patch")
		if _, err := os.Stat(diffPath); err != nil {
			continue
		}
		out = append(out, Candidate{AgentID: a.AgentID, DiffPath: diffPath})
	}
	if len(out) == 0 {
		return nil, types.ErrNoEligibleCandidates
	}
	return out, nil
}

// SharedInputs is the result of staging one review session's shared,
// read-only inputs.
type SharedInputs struct {
	SpecPath string            // absolute path to the staged spec.md copy
	BasePath string            // absolute path to the shared base/ worktree
	AliasMap map[string]string // alias -> real agent id
}

// StageShared copies specSourcePath into the review's shared inputs,
// creates the shared detached base/ worktree at baseRevision, generates a
// unique alias for every eligible candidate, and copies each candidate's
// real diff into candidates/<alias>/diff.patch. The returned alias map
// must be persisted on the review record before any reviewer starts,
// per the Blinded candidate invariant.
func StageShared(ctx context.Context, repoRoot, reviewID, specSourcePath, baseRevision string, eligible []Candidate) (*SharedInputs, error) {
	specRel, err := layout.ReviewSharedSpec(reviewID)
	if err != nil {
		return nil, err
	}
	specDst := filepath.Join(repoRoot, filepath.FromSlash(specRel))
	if err := copyFile(specSourcePath, specDst); err != nil {
		return nil, fmt.Errorf("stage spec: %w", err)
	}

	baseRel, err := layout.ReviewSharedBase(reviewID)
	if err != nil {
		return nil, err
	}
	baseDst := filepath.Join(repoRoot, filepath.FromSlash(baseRel))
	if err := gitutil.CreateWorktree(ctx, repoRoot, baseRevision, baseDst, 60*time.Second); err != nil {
		return nil, fmt.Errorf("stage base worktree: %w", err)
	}

	aliasMap := make(map[string]string, len(eligible))
	for _, c := range eligible {
		alias, err := GenerateUniqueAlias(aliasMap)
		if err != nil {
			return nil, fmt.Errorf("generate alias for %s: %w", c.AgentID, err)
		}
		aliasMap[alias] = c.AgentID

		diffRel, err := layout.ReviewCandidateDiff(reviewID, alias)
		if err != nil {
			return nil, err
		}
		diffDst := filepath.Join(repoRoot, filepath.FromSlash(diffRel))
		if err := copyFile(c.DiffPath, diffDst); err != nil {
			return nil, fmt.Errorf("stage candidate diff for %s: %w", c.AgentID, err)
		}
	}

	return &SharedInputs{SpecPath: specDst, BasePath: baseDst, AliasMap: aliasMap}, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}

// LinkReviewerInputs symlinks the reviewer's own workspace/inputs to the
// shared review inputs directory. On platforms without symlink support
// (Windows without privilege) the caller should fall back to a junction;
// voratiq targets unix hosts per the sandbox launcher's platform
// precheck, so only os.Symlink is implemented here.
func LinkReviewerInputs(repoRoot, reviewID, reviewerAgentID string) error {
	workspaceRel, err := layout.AgentSubdirPath(types.DomainReview, reviewID, reviewerAgentID, layout.SubdirWorkspace)
	if err != nil {
		return err
	}
	workspace := filepath.Join(repoRoot, filepath.FromSlash(workspaceRel))
	if err := os.MkdirAll(workspace, 0700); err != nil {
		return err
	}

	sharedRel, err := layout.ReviewSharedInputs(reviewID)
	if err != nil {
		return err
	}
	shared := filepath.Join(repoRoot, filepath.FromSlash(sharedRel))

	linkRel, err := layout.ReviewerInputsLink(reviewID, reviewerAgentID)
	if err != nil {
		return err
	}
	link := filepath.Join(repoRoot, filepath.FromSlash(linkRel))

	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(shared, link)
}
