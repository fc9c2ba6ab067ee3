package lifecycle

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/voratiq/voratiq/internal/store"
	"github.com/voratiq/voratiq/internal/types"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	root := t.TempDir()
	s := store.Open(root)
	if err := s.Init(types.DomainRun); err != nil {
		t.Fatal(err)
	}
	return &Runtime{Store: s}
}

func seedRunningRecord(t *testing.T, r *Runtime, sessionID string) {
	t.Helper()
	rec := &types.Record{
		ID:        sessionID,
		Domain:    types.DomainRun,
		CreatedAt: store.Now(),
		Status:    types.StatusRunning,
		Run: &types.RunPayload{
			BaseRevision: "deadbeef",
			SpecPath:     ".voratiq/specs/x.md",
			Agents: []types.AgentInvocation{
				{AgentID: "alpha", Status: types.StatusRunning},
				{AgentID: "beta", Status: types.StatusQueued},
			},
		},
	}
	if err := r.Store.Append(rec); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterRejectsSecondActiveSession(t *testing.T) {
	r := newTestRuntime(t)
	if err := r.Register(ActiveSession{Domain: types.DomainRun, SessionID: "s1"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(ActiveSession{Domain: types.DomainRun, SessionID: "s2"}); err == nil {
		t.Fatal("expected error registering a second active session")
	}
}

func TestClearNoopDuringTermination(t *testing.T) {
	r := newTestRuntime(t)
	seedRunningRecord(t, r, "s1")
	if err := r.Register(ActiveSession{Domain: types.DomainRun, SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	r.terminating = true
	r.mu.Unlock()

	r.Clear("s1")

	if r.Active() == nil {
		t.Fatal("Clear during termination should not have cleared the active session")
	}
}

func TestTerminateAbortedMarksQueuedAndRunningAgents(t *testing.T) {
	r := newTestRuntime(t)
	seedRunningRecord(t, r, "s1")
	if err := r.Register(ActiveSession{Domain: types.DomainRun, SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	if err := r.Terminate(context.Background(), types.StatusAborted); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	rec, err := r.Store.Read(types.DomainRun, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusAborted {
		t.Fatalf("record status = %s, want aborted", rec.Status)
	}
	for _, a := range rec.Run.Agents {
		if a.Status != types.StatusAborted {
			t.Errorf("agent %s status = %s, want aborted", a.AgentID, a.Status)
		}
		found := false
		for _, w := range a.Warnings {
			if w == "Run aborted before agent completed." {
				found = true
			}
		}
		if !found {
			t.Errorf("agent %s missing abort warning: %v", a.AgentID, a.Warnings)
		}
	}

	if r.Active() != nil {
		t.Fatal("Terminate should clear the active session")
	}
}

func TestTerminateNoActiveSessionIsNoop(t *testing.T) {
	r := newTestRuntime(t)
	if err := r.Terminate(context.Background(), types.StatusAborted); err != nil {
		t.Fatalf("Terminate with no active session: %v", err)
	}
}

func TestWatchSignalsTerminatesOnInterrupt(t *testing.T) {
	r := newTestRuntime(t)
	seedRunningRecord(t, r, "s1")
	if err := r.Register(ActiveSession{Domain: types.DomainRun, SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	stop := WatchSignals(context.Background(), r)
	defer stop()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Active() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for SIGINT to terminate active session")
}
