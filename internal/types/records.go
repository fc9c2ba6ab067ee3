// Package types holds the session record model shared by the store, the
// competition engine, the run orchestrator, and the review pipeline.
package types

import "time"

// Status is a session or agent-invocation lifecycle state.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusDrafting         Status = "drafting"
	StatusSaving           Status = "saving"
	StatusRefining         Status = "refining"
	StatusAwaitingFeedback Status = "awaiting-feedback"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusAborted          Status = "aborted"
	StatusPruned           Status = "pruned"
	StatusSaved            Status = "saved"
	StatusDrafted          Status = "drafted"
)

// Terminal reports whether status forbids further mutation (except a later
// transition to StatusPruned).
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusPruned, StatusSaved:
		return true
	default:
		return false
	}
}

// Domain identifies which session kind a record belongs to.
type Domain string

const (
	DomainRun    Domain = "runs"
	DomainSpec   Domain = "specs"
	DomainReview Domain = "reviews"
)

// ChatFormat is the transcript format captured for an agent invocation.
type ChatFormat string

const (
	ChatFormatJSON  ChatFormat = "json"
	ChatFormatJSONL ChatFormat = "jsonl"
)

// ArtifactFlags tracks which artifact kinds were captured for an invocation.
type ArtifactFlags struct {
	Stdout  bool       `json:"stdout"`
	Stderr  bool       `json:"stderr"`
	Diff    bool       `json:"diff"`
	Summary bool       `json:"summary"`
	Chat    bool       `json:"chat"`
	ChatFmt ChatFormat `json:"chat_format,omitempty"`
}

// EvalResult is the outcome of one configured eval command.
type EvalResult struct {
	Slug     string `json:"slug"`
	Status   string `json:"status"` // "pass" | "fail"
	ExitCode int    `json:"exit_code"`
	HasLog   bool   `json:"has_log"`
}

// AgentInvocation records one candidate agent's run within a session.
type AgentInvocation struct {
	AgentID     string        `json:"agent_id"`
	Model       string        `json:"model"`
	Status      Status        `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DiffStat    string        `json:"diff_stat,omitempty"`
	Evals       []EvalResult  `json:"evals,omitempty"`
	Artifacts   ArtifactFlags `json:"artifacts"`
	Warnings    []string      `json:"warnings,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ApplyStatus records the most recent `apply` attempt against a run.
type ApplyStatus struct {
	Status              string    `json:"status"` // "succeeded" | "failed"
	AgentID             string    `json:"agent_id"`
	AttemptedAt         time.Time `json:"attempted_at"`
	IgnoredBaseMismatch bool      `json:"ignored_base_mismatch,omitempty"`
	Committed           bool      `json:"committed,omitempty"`
	Error               string    `json:"error,omitempty"`
}

// RunPayload is the Run-session domain payload.
type RunPayload struct {
	BaseRevision string            `json:"base_revision"`
	SpecPath     string            `json:"spec_path"`
	Agents       []AgentInvocation `json:"agents"`
	ApplyStatus  *ApplyStatus      `json:"apply_status,omitempty"`
	DeletedAt    *time.Time        `json:"deleted_at,omitempty"`
}

// BlindedMetadata is the alias map persisted once a review session starts.
type BlindedMetadata struct {
	Enabled  bool              `json:"enabled"`
	AliasMap map[string]string `json:"alias_map"` // alias -> real agent id
}

// ReviewPayload is the Review-session domain payload.
type ReviewPayload struct {
	RunID      string          `json:"run_id"`
	ReviewerID string          `json:"reviewer_id"`
	OutputPath string          `json:"output_path,omitempty"`
	Blinded    BlindedMetadata `json:"blinded"`
}

// SpecIteration is one draft/refine cycle of a spec session.
type SpecIteration struct {
	IterationNumber int       `json:"iteration_number"`
	CreatedAt       time.Time `json:"created_at"`
	Accepted        bool      `json:"accepted"`
}

// SpecPayload is the Spec-session domain payload.
type SpecPayload struct {
	Slug       string          `json:"slug"`
	Title      string          `json:"title"`
	OutputPath string          `json:"output_path"`
	Iterations []SpecIteration `json:"iterations"`
}

// Record is the sum type persisted by the store: exactly one of Run, Spec,
// or Review is non-nil, selected by Domain.
type Record struct {
	ID          string     `json:"id"`
	Domain      Domain     `json:"domain"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      Status     `json:"status"`

	Run    *RunPayload    `json:"run,omitempty"`
	Spec   *SpecPayload   `json:"spec,omitempty"`
	Review *ReviewPayload `json:"review,omitempty"`
}

// IndexEntry is one row of a domain's index.json, newest-appended-last.
type IndexEntry struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Summary     string     `json:"summary,omitempty"`
}

// Index is the on-disk `{version, sessions}` projection for one domain.
type Index struct {
	Version  int          `json:"version"`
	Sessions []IndexEntry `json:"sessions"`
}

// AgentDefinition is one entry of .voratiq/agents.yaml.
type AgentDefinition struct {
	ID           string   `yaml:"id" json:"id"`
	Provider     string   `yaml:"provider" json:"provider"`
	Model        string   `yaml:"model" json:"model"`
	Binary       string   `yaml:"binary" json:"binary"`
	ArgvTemplate []string `yaml:"argv_template" json:"argv_template"`
	ExtraArgs    []string `yaml:"extra_args" json:"extra_args"`
	Enabled      *bool    `yaml:"enabled" json:"enabled"`
}

// IsEnabled returns the agent's enabled flag, defaulting to true when unset.
func (a AgentDefinition) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// EvalDefinition is one entry of .voratiq/evals.yaml.
type EvalDefinition struct {
	Slug    string   `yaml:"slug" json:"slug"`
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
	Enabled *bool    `yaml:"enabled" json:"enabled"`
}

// IsEnabled returns the eval's enabled flag, defaulting to true when unset.
func (e EvalDefinition) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// SandboxPolicy is the composed per-agent filesystem access policy.
type SandboxPolicy struct {
	DenyRead   []string `json:"deny_read"`
	DenyWrite  []string `json:"deny_write"`
	AllowWrite []string `json:"allow_write"`
}
