// Package lifecycle holds the process-wide "active session" registry and
// the SIGINT/uncaught-failure termination path. There are no module-level
// singletons: a Runtime value is constructed by openWorkspace in
// cmd/voratiq/workspace.go and threaded through the command.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/harness"
	"github.com/voratiq/voratiq/internal/layout"
	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
)

// AgentContext is one participating agent's identity plus its staged auth
// context, so termination can mark it aborted and tear down its auth in
// one pass.
type AgentContext struct {
	AgentID  string
	Provider string
	Auth     *auth.Context
}

// ActiveSession is the single in-flight run/spec/review context the
// Runtime tracks at any moment.
type ActiveSession struct {
	Domain    types.Domain
	SessionID string
	Agents    []AgentContext
}

// Runtime is the handle threaded through every CLI command. It owns the
// record store and the active-session registry; tests construct an
// isolated Runtime per case rather than relying on package state.
type Runtime struct {
	Store *store.Store

	repoRoot string

	mu          sync.Mutex
	active      *ActiveSession
	terminating bool
}

// New constructs a Runtime rooted at repoRoot.
func New(repoRoot string) *Runtime {
	return &Runtime{Store: store.Open(repoRoot), repoRoot: repoRoot}
}

// Register sets the Runtime's active session. It is an error to register
// a second session while one is already active — a single CLI invocation
// drives exactly one run/spec/review at a time.
func (r *Runtime) Register(session ActiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("active session already registered: %s", r.active.SessionID)
	}
	r.active = &session
	return nil
}

// AttachAgentAuth appends one staged agent's auth context to the active
// session's agent list, so a SIGINT arriving mid-run can still tear down
// credentials for an agent that was staged after Register was called.
// A mismatched or absent sessionID is a no-op rather than an error, since
// the caller may be racing a termination that already cleared it.
func (r *Runtime) AttachAgentAuth(sessionID string, agent AgentContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.SessionID != sessionID {
		return
	}
	r.active.Agents = append(r.active.Agents, agent)
}

// Clear resets the active session unless a termination is in flight, in
// which case it is a no-op — terminate owns the final Clear call.
func (r *Runtime) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminating {
		return
	}
	if r.active != nil && r.active.SessionID == sessionID {
		r.active = nil
	}
}

// Active returns the current active session, or nil if none is registered.
func (r *Runtime) Active() *ActiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Terminate converts the active session (if any) into a terminal status,
// per C9's four-step sequence: mark agents aborted (for aborts), dispose
// the record buffer, teardown every agent's auth context exactly once,
// then unregister. Errors during teardown are collected but never mask
// the primary termination cause returned to the caller.
func (r *Runtime) Terminate(ctx context.Context, status types.Status) error {
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return nil
	}
	session := *r.active
	r.terminating = true
	r.mu.Unlock()

	var errs []error

	if status != types.StatusSucceeded {
		if err := r.markTerminal(session, status); err != nil {
			errs = append(errs, err)
		}
	}

	if err := r.Store.Dispose(session.Domain, session.SessionID); err != nil {
		errs = append(errs, err)
	}

	// Unconditional: a termination is a process-exit path, and any other
	// session's buffered mutations must not die with the process.
	if err := r.Store.FlushAll(); err != nil {
		errs = append(errs, err)
	}

	// Chat transcripts live inside the sandbox homes being torn down;
	// preserve what exists before the teardown pass destroys it.
	r.preserveChatTranscripts(session)

	for _, a := range session.Agents {
		if a.Auth == nil {
			continue
		}
		if err := a.Auth.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("teardown auth for %s: %w", a.AgentID, err))
		}
	}

	r.mu.Lock()
	r.active = nil
	r.terminating = false
	r.mu.Unlock()

	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// preserveChatTranscripts copies each agent's transcript out of its
// sandbox home into its artifacts directory, best-effort. Failures here
// never surface: transcript salvage must not mask the termination cause.
func (r *Runtime) preserveChatTranscripts(session ActiveSession) {
	for _, a := range session.Agents {
		if a.Auth == nil || a.Auth.Result.SandboxPath == "" {
			continue
		}
		rel, err := layout.AgentSubdirPath(session.Domain, session.SessionID, a.AgentID, layout.SubdirArtifacts)
		if err != nil {
			continue
		}
		artifactsDir := filepath.Join(r.repoRoot, filepath.FromSlash(rel))
		harness.CaptureChat(a.Auth.Result.SandboxPath, a.Provider, artifactsDir)
	}
}

// markTerminal marks the session status and, for an abort, every
// queued/running agent invocation as aborted with the spec-mandated
// warning. Run sessions are the only domain with per-agent invocations;
// spec/review sessions only carry the top-level status.
func (r *Runtime) markTerminal(session ActiveSession, status types.Status) error {
	now := store.Now()
	return r.Store.Rewrite(session.Domain, session.SessionID, func(rec *types.Record) error {
		rec.Status = status
		rec.CompletedAt = &now

		if rec.Run == nil || status != types.StatusAborted {
			return nil
		}
		for i := range rec.Run.Agents {
			a := &rec.Run.Agents[i]
			if a.Status == types.StatusQueued || a.Status == types.StatusRunning {
				a.Status = types.StatusAborted
				a.CompletedAt = &now
				a.Warnings = append(a.Warnings, "Run aborted before agent completed.")
			}
		}
		return nil
	})
}

// WatchSignals installs SIGINT handling that maps to
// Terminate(types.StatusAborted): an interactive interrupt aborts the
// active session rather than leaving it half-written. It returns a stop function the caller must
// invoke (via defer) once the command completes normally, to release the
// signal handler without terminating anything.
func WatchSignals(ctx context.Context, r *Runtime) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			_ = r.Terminate(ctx, types.StatusAborted)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
