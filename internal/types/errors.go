package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions with no useful parameters, matched with
// errors.Is.
var (
	// ErrPlaceholderMissing is returned when an agent's argv template does
	// not contain MODEL_PLACEHOLDER exactly once.
	ErrPlaceholderMissing = errors.New("argv_template must contain MODEL_PLACEHOLDER exactly once")

	// ErrModelFlagInExtraArgs is returned when extra_args contains --model.
	ErrModelFlagInExtraArgs = errors.New("extra_args must not contain --model")

	// ErrDuplicateAgentID is returned when two agent definitions share an id.
	ErrDuplicateAgentID = errors.New("duplicate agent id")

	// ErrUnknownProvider is returned when an agent names an unrecognized provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoEligibleCandidates is returned when a review has no agent with a
	// captured diff to review.
	ErrNoEligibleCandidates = errors.New("no eligible review candidates")

	// ErrLeakageValidationFailed is returned when reviewer-visible text
	// contains a real agent id or model.
	ErrLeakageValidationFailed = errors.New("leakage validation failed")

	// ErrReviewGenerationFailed is returned when a reviewer's output fails
	// schema or subset validation.
	ErrReviewGenerationFailed = errors.New("review generation failed")

	// ErrAliasMapDivergence names two reviewers in the same session
	// observing different alias maps. No function in this module returns it.
	ErrAliasMapDivergence = errors.New("alias map diverged across reviewers")

	// ErrWorkspacePathEscape names a computed path that would resolve
	// outside the repository root. No function in this module returns it;
	// internal/layout rejects unsafe segments with *InvalidSegmentError.
	ErrWorkspacePathEscape = errors.New("workspace path escapes repository root")

	// ErrRecordMutationRefused is returned when a mutate function attempts
	// to change a record's id.
	ErrRecordMutationRefused = errors.New("record mutation refused: id must not change")

	// ErrSessionNotFound is returned when a session has no persisted record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRecordAlreadyExists is returned by append when record.json already exists.
	ErrRecordAlreadyExists = errors.New("record already exists")
)

// ParseError wraps a record/config parse failure with its display path.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotFoundError is returned when a requested record does not exist on disk.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s", e.SessionID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}

// BaseMismatchError is returned by apply when the working tree HEAD no
// longer matches the run's recorded base revision.
type BaseMismatchError struct {
	Expected string
	Actual   string
}

func (e *BaseMismatchError) Error() string {
	return fmt.Sprintf("base revision mismatch: run recorded %s, working tree is at %s", e.Expected, e.Actual)
}

// WatchdogTriggeredError is returned when a watchdog kills the supervised process.
type WatchdogTriggeredError struct {
	Trigger string // "silence" | "wall-clock" | "fatal-pattern" | "sandbox-denial"
	Reason  string
}

func (e *WatchdogTriggeredError) Error() string {
	return fmt.Sprintf("watchdog triggered (%s): %s", e.Trigger, e.Reason)
}

// SandboxDenialError carries the operation/target pair of a fail-fast
// sandbox-denial trigger.
type SandboxDenialError struct {
	Operation string
	Target    string
}

func (e *SandboxDenialError) Error() string {
	return fmt.Sprintf("sandbox denial fail-fast: %s %s", e.Operation, e.Target)
}

// ConfigError wraps a configuration validation failure with the file it
// came from.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
