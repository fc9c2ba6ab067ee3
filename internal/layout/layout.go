// Package layout computes repo-relative, traversal-safe paths for every
// artifact of every session and agent. It is the single source of truth for
// where on disk a session's workspace, artifacts, sandbox home, and eval
// logs live.
package layout

import (
	"path"
	"strings"

	"github.com/voratiq/voratiq/internal/types"
)

// RootDir is the top-level voratiq data directory inside a repository.
const RootDir = ".voratiq"

// Segment validates one path segment: non-empty, no separators, no "..".
func Segment(s string) error {
	if s == "" {
		return &InvalidSegmentError{Segment: s, Reason: "empty"}
	}
	if strings.ContainsAny(s, "/\\") {
		return &InvalidSegmentError{Segment: s, Reason: "contains a path separator"}
	}
	if s == "." || s == ".." || strings.Contains(s, "..") {
		return &InvalidSegmentError{Segment: s, Reason: "contains a traversal component"}
	}
	return nil
}

// InvalidSegmentError is returned by Segment and the Join helpers when a
// path segment fails validation.
type InvalidSegmentError struct {
	Segment string
	Reason  string
}

func (e *InvalidSegmentError) Error() string {
	return "invalid path segment \"" + e.Segment + "\": " + e.Reason
}

// validSlug reports whether s matches the agent/eval slug schema: lowercase
// alnum plus hyphen/underscore, 1-64 chars.
func validSlug(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Slug validates an agent id or eval slug against the shared schema.
func Slug(s string) error {
	if err := Segment(s); err != nil {
		return err
	}
	if !validSlug(s) {
		return &InvalidSegmentError{Segment: s, Reason: "must be lowercase alphanumeric with - or _"}
	}
	return nil
}

// join builds a forward-slash repo-relative path. segments[0] is RootDir or
// a path this package already built (and validated); every later segment is
// validated with Segment.
func join(segments ...string) (string, error) {
	for _, s := range segments[1:] {
		if err := Segment(s); err != nil {
			return "", err
		}
	}
	return path.Join(segments...), nil
}

// DomainRoot returns ".voratiq/<domain>".
func DomainRoot(domain types.Domain) (string, error) {
	return join(RootDir, string(domain))
}

// IndexPath returns ".voratiq/<domain>/index.json".
func IndexPath(domain types.Domain) (string, error) {
	return join(RootDir, string(domain), "index.json")
}

// LockPath returns ".voratiq/<domain>/history.lock".
func LockPath(domain types.Domain) (string, error) {
	return join(RootDir, string(domain), "history.lock")
}

// SessionRoot returns ".voratiq/<domain>/sessions/<session-id>".
func SessionRoot(domain types.Domain, sessionID string) (string, error) {
	return join(RootDir, string(domain), "sessions", sessionID)
}

// RecordPath returns ".voratiq/<domain>/sessions/<session-id>/record.json".
func RecordPath(domain types.Domain, sessionID string) (string, error) {
	return join(RootDir, string(domain), "sessions", sessionID, "record.json")
}

// AgentRoot returns ".voratiq/<domain>/sessions/<session-id>/<agent-id>".
func AgentRoot(domain types.Domain, sessionID, agentID string) (string, error) {
	if err := Slug(agentID); err != nil {
		return "", err
	}
	return join(RootDir, string(domain), "sessions", sessionID, agentID)
}

// AgentSubdir is one of an agent root's fixed subdirectories.
type AgentSubdir string

const (
	SubdirWorkspace AgentSubdir = "workspace"
	SubdirArtifacts AgentSubdir = "artifacts"
	SubdirRuntime   AgentSubdir = "runtime"
	SubdirSandbox   AgentSubdir = "sandbox"
	SubdirEvals     AgentSubdir = "evals"
)

// AgentSubdirPath returns the path to one of an agent's fixed subdirectories.
func AgentSubdirPath(domain types.Domain, sessionID, agentID string, sub AgentSubdir) (string, error) {
	root, err := AgentRoot(domain, sessionID, agentID)
	if err != nil {
		return "", err
	}
	return join(root, string(sub))
}

// EvalLogPath returns ".../<agent-id>/evals/<slug>.log".
func EvalLogPath(domain types.Domain, sessionID, agentID, slug string) (string, error) {
	if err := Slug(slug); err != nil {
		return "", err
	}
	dir, err := AgentSubdirPath(domain, sessionID, agentID, SubdirEvals)
	if err != nil {
		return "", err
	}
	return dir + "/" + slug + ".log", nil
}

// ReviewSharedInputs returns
// ".voratiq/reviews/sessions/<review-id>/.shared/inputs".
func ReviewSharedInputs(reviewID string) (string, error) {
	return join(RootDir, "reviews", "sessions", reviewID, ".shared", "inputs")
}

// ReviewCandidateDiff returns the path to one aliased candidate's staged
// diff under the shared review inputs.
func ReviewCandidateDiff(reviewID, alias string) (string, error) {
	shared, err := ReviewSharedInputs(reviewID)
	if err != nil {
		return "", err
	}
	if err := Segment(alias); err != nil {
		return "", err
	}
	return join(shared, "candidates", alias, "diff.patch")
}

// ReviewSharedSpec returns the shared staged copy of the spec under a
// review session's inputs.
func ReviewSharedSpec(reviewID string) (string, error) {
	shared, err := ReviewSharedInputs(reviewID)
	if err != nil {
		return "", err
	}
	return join(shared, "spec.md")
}

// ReviewSharedBase returns the shared read-only base-revision worktree
// under a review session's inputs.
func ReviewSharedBase(reviewID string) (string, error) {
	shared, err := ReviewSharedInputs(reviewID)
	if err != nil {
		return "", err
	}
	return join(shared, "base")
}

// ReviewerInputsLink returns the path, inside one reviewer's own
// workspace, of the symlink (junction on Windows) pointing at the shared
// review inputs directory.
func ReviewerInputsLink(reviewID, reviewerAgentID string) (string, error) {
	workspace, err := AgentSubdirPath(types.DomainReview, reviewID, reviewerAgentID, SubdirWorkspace)
	if err != nil {
		return "", err
	}
	return join(workspace, "inputs")
}

// ReviewerManifestPath returns the path of one reviewer's
// artifact-information.json manifest, which names only blinded aliases.
func ReviewerManifestPath(reviewID, reviewerAgentID string) (string, error) {
	dir, err := AgentSubdirPath(types.DomainReview, reviewID, reviewerAgentID, SubdirRuntime)
	if err != nil {
		return "", err
	}
	return join(dir, "artifact-information.json")
}

// NormalizeDisplay converts any OS path separators to forward slashes so
// display paths never contain a backslash.
func NormalizeDisplay(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
