package watchdog

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/voratiq/voratiq/internal/types"
)

type fakeSignaler struct {
	mu      sync.Mutex
	signals []Signal
	exited  bool
}

func (f *fakeSignaler) Signal(sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeSignaler) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeSignaler) setExited(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = v
}

func (f *fakeSignaler) sequence() []Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Signal, len(f.signals))
	copy(out, f.signals)
	return out
}

func testConfig() Config {
	cfg := NewConfig()
	cfg.SilenceTimeout = 40 * time.Millisecond
	cfg.WallClockCap = time.Hour
	cfg.CheckInterval = 5 * time.Millisecond
	cfg.TerminateGrace = 10 * time.Millisecond
	cfg.HardAbort = 10 * time.Millisecond
	cfg.FatalRetryWindow = 50 * time.Millisecond
	cfg.SandboxDenialWindow = time.Second
	cfg.SandboxDenialDelay = 5 * time.Millisecond
	return cfg
}

func TestSilenceTriggersAfterTimeout(t *testing.T) {
	sig := &fakeSignaler{}
	var banners []string
	var mu sync.Mutex
	w := New(context.Background(), testConfig(), sig, func(s string) {
		mu.Lock()
		banners = append(banners, s)
		mu.Unlock()
	})

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog did not trigger on silence")
	}

	var werr *types.WatchdogTriggeredError
	if !errors.As(w.Err(), &werr) {
		t.Fatalf("Err() = %v, want *WatchdogTriggeredError", w.Err())
	}
	if werr.Trigger != "silence" {
		t.Errorf("Trigger = %q, want silence", werr.Trigger)
	}

	time.Sleep(50 * time.Millisecond)
	seq := sig.sequence()
	if len(seq) < 1 || seq[0] != SignalTerm {
		t.Errorf("signal sequence = %v, want to start with SIGTERM", seq)
	}
}

func TestActivityResetsSilenceTimer(t *testing.T) {
	sig := &fakeSignaler{}
	w := New(context.Background(), testConfig(), sig, nil)
	defer w.Stop()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.RecordActivity()
			}
		}
	}()

	select {
	case <-w.Done():
		close(stop)
		t.Fatal("watchdog triggered despite ongoing activity")
	case <-time.After(150 * time.Millisecond):
		close(stop)
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	sig := &fakeSignaler{}
	w := New(context.Background(), testConfig(), sig, nil)
	w.trigger("silence", "first")
	w.trigger("wall-clock", "second")

	var werr *types.WatchdogTriggeredError
	if !errors.As(w.Err(), &werr) {
		t.Fatalf("Err() = %v", w.Err())
	}
	if werr.Trigger != "silence" {
		t.Errorf("Trigger = %q, want silence (first trigger wins)", werr.Trigger)
	}
}

func TestNoKillSignalIfAlreadyExited(t *testing.T) {
	sig := &fakeSignaler{}
	sig.setExited(true)
	w := New(context.Background(), testConfig(), sig, nil)
	w.trigger("silence", "test")
	time.Sleep(50 * time.Millisecond)

	if len(sig.sequence()) != 0 {
		t.Errorf("expected no signals sent to an already-exited process, got %v", sig.sequence())
	}
}

func TestFatalPatternRequiresTwoHitsWithinWindow(t *testing.T) {
	sig := &fakeSignaler{}
	cfg := testConfig()
	cfg.SilenceTimeout = time.Hour
	cfg.FatalPatterns = []*regexp.Regexp{regexp.MustCompile(`(?i)authentication failed`)}
	w := New(context.Background(), cfg, sig, nil)
	defer w.Stop()

	w.RecordLine("authentication failed: token expired")
	select {
	case <-w.Done():
		t.Fatal("single fatal-pattern match must not trigger")
	case <-time.After(30 * time.Millisecond):
	}

	w.RecordLine("authentication failed again")
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("second fatal-pattern match within window should trigger")
	}

	var werr *types.WatchdogTriggeredError
	if !errors.As(w.Err(), &werr) || werr.Trigger != "fatal-pattern" {
		t.Fatalf("Err() = %v, want fatal-pattern trigger", w.Err())
	}
}

func TestSandboxDenialEscalation(t *testing.T) {
	sig := &fakeSignaler{}
	cfg := testConfig()
	cfg.SilenceTimeout = time.Hour
	w := New(context.Background(), cfg, sig, nil)
	defer w.Stop()

	line := "[SandboxDebug] Denied by config rule: registry.npmjs.org:443"

	w.RecordLine(line) // 1st: record only
	select {
	case <-w.Done():
		t.Fatal("first hit must not trigger")
	case <-time.After(20 * time.Millisecond):
	}

	w.RecordLine(line) // 2nd: warn
	w.RecordLine(line) // 3rd: delay (stop/cont)
	time.Sleep(20 * time.Millisecond)

	w.RecordLine(line) // 4th: fail-fast
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("fourth hit should trigger sandbox-denial")
	}

	var werr *types.WatchdogTriggeredError
	if !errors.As(w.Err(), &werr) || werr.Trigger != "sandbox-denial" {
		t.Fatalf("Err() = %v, want sandbox-denial trigger", w.Err())
	}

	seq := sig.sequence()
	hasStop, hasCont := false, false
	for _, s := range seq {
		if s == SignalStop {
			hasStop = true
		}
		if s == SignalCont {
			hasCont = true
		}
	}
	if !hasStop || !hasCont {
		t.Errorf("expected a SIGSTOP/SIGCONT pair before fail-fast, got %v", seq)
	}
}

func TestSandboxDenialIndependentPerTarget(t *testing.T) {
	tracker := newSandboxDenialTracker(time.Second)
	a := "[SandboxDebug] Denied by config rule: a.example.com:443"
	b := "[SandboxDebug] Denied by config rule: b.example.com:443"

	if action := tracker.observe(a); action != sandboxActionNone {
		t.Errorf("first hit on a = %v, want none", action)
	}
	if action := tracker.observe(b); action != sandboxActionNone {
		t.Errorf("first hit on b = %v, want none", action)
	}
	if action := tracker.observe(a); action != sandboxActionWarn {
		t.Errorf("second hit on a = %v, want warn", action)
	}
	if action := tracker.observe(b); action != sandboxActionWarn {
		t.Errorf("second hit on b = %v, want warn", action)
	}
}

func TestSandboxDenialResetsAfterWindow(t *testing.T) {
	tracker := newSandboxDenialTracker(30 * time.Millisecond)
	line := "[SandboxDebug] Denied by config rule: a.example.com:443"

	tracker.observe(line)
	time.Sleep(50 * time.Millisecond)
	if action := tracker.observe(line); action != sandboxActionNone {
		t.Errorf("hit after window reset = %v, want none (counter reset)", action)
	}
}
