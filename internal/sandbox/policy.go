// Package sandbox composes per-agent filesystem access policies and
// launches agent processes under them.
package sandbox

import (
	"path/filepath"
	"sort"

	"github.com/voratiq/voratiq/internal/types"
)

// baselineConfigFiles lists the repo-relative config files every agent is
// denied, regardless of stage. Compose joins them against RepoRoot so the
// emitted policy carries only absolute paths.
var baselineConfigFiles = []string{
	".voratiq/agents.yaml",
	".voratiq/evals.yaml",
	".voratiq/environment.yaml",
	".voratiq/orchestration.yaml",
	".voratiq/sandbox.yaml",
}

// PolicyInputs carries everything Compose needs to build one agent's
// policy.
type PolicyInputs struct {
	// RepoRoot is the absolute repository root the baseline config-file
	// denials are anchored to.
	RepoRoot string

	// SiblingSessionDirs are other sessions' directories under the same
	// domain, denied to every agent.
	SiblingSessionDirs []string

	// RunWorkspace is the parent run's workspace directory, denied during
	// review.
	RunWorkspace string

	// Review, when non-nil, adds the review-specific denials.
	Review *ReviewPolicyInputs

	// OwnWorkspace and SandboxHome are the agent's own writable roots.
	OwnWorkspace string
	SandboxHome  string

	// TMPDir is the agent's private temp directory, also writable.
	TMPDir string

	// ExtraDenyRead/ExtraDenyWrite come from .voratiq/sandbox.yaml and are
	// layered on top of the baseline.
	ExtraDenyRead  []string
	ExtraDenyWrite []string
}

// ReviewPolicyInputs is the additional denial set applied only while a
// reviewer agent is running.
type ReviewPolicyInputs struct {
	// OtherReviewerRoots are sibling reviewers' session roots.
	OtherReviewerRoots []string
	// RunIndexPath and RunLockPath are the run domain's index/lock files.
	RunIndexPath string
	RunLockPath  string
	// SharedBaseSnapshot is the shared read-only base worktree.
	SharedBaseSnapshot string
}

// Compose unions the baseline policy with stage-specific additions,
// producing the SandboxPolicy a launcher enforces.
func Compose(in PolicyInputs) types.SandboxPolicy {
	baseline := make([]string, 0, len(baselineConfigFiles))
	for _, rel := range baselineConfigFiles {
		baseline = append(baseline, filepath.Join(in.RepoRoot, filepath.FromSlash(rel)))
	}

	denyRead := append([]string{}, baseline...)
	denyWrite := append([]string{}, baseline...)

	denyRead = append(denyRead, in.SiblingSessionDirs...)
	denyWrite = append(denyWrite, in.SiblingSessionDirs...)

	if in.RunWorkspace != "" {
		denyRead = append(denyRead, in.RunWorkspace)
		denyWrite = append(denyWrite, in.RunWorkspace)
	}

	if in.Review != nil {
		denyRead = append(denyRead, in.Review.OtherReviewerRoots...)
		if in.Review.RunIndexPath != "" {
			denyRead = append(denyRead, in.Review.RunIndexPath)
		}
		if in.Review.RunLockPath != "" {
			denyRead = append(denyRead, in.Review.RunLockPath)
		}
		if in.Review.SharedBaseSnapshot != "" {
			denyWrite = append(denyWrite, in.Review.SharedBaseSnapshot)
		}
	}

	// sandbox.yaml entries are written repo-relative; anchor them so the
	// emitted policy stays all-absolute.
	denyRead = append(denyRead, anchor(in.RepoRoot, in.ExtraDenyRead)...)
	denyWrite = append(denyWrite, anchor(in.RepoRoot, in.ExtraDenyWrite)...)

	allowWrite := []string{}
	for _, p := range []string{in.OwnWorkspace, in.SandboxHome, in.TMPDir} {
		if p != "" {
			allowWrite = append(allowWrite, p)
		}
	}

	return types.SandboxPolicy{
		DenyRead:   dedupClean(denyRead),
		DenyWrite:  dedupClean(denyWrite),
		AllowWrite: dedupClean(allowWrite),
	}
}

// anchor joins relative paths against root, passing absolute ones through.
func anchor(root string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, filepath.FromSlash(p))
		}
		out = append(out, p)
	}
	return out
}

// dedupClean removes empty entries and duplicates, then sorts, so two
// Compose calls with the same inputs always serialize identically.
func dedupClean(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = filepath.Clean(s)
		if s == "" || s == "." || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
