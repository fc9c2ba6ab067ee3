// Package watchdog attaches to a launched agent process and enforces the
// silence timeout, wall-clock cap, fatal-pattern retry window, and
// sandbox-denial backoff, terminating the process group when a trigger
// fires.
package watchdog

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/voratiq/voratiq/internal/types"
)

// Default trigger constants, per spec.
const (
	DefaultSilenceTimeout      = 15 * time.Minute
	DefaultWallClockCap        = 120 * time.Minute
	DefaultFatalRetryWindow    = 60 * time.Second
	DefaultSandboxDenialWindow = 120 * time.Second
	DefaultCheckInterval       = 5 * time.Second

	DefaultTerminateGrace = 5 * time.Second
	DefaultHardAbort      = 10 * time.Second
)

// Signaler abstracts process-group signal delivery so the watchdog is
// testable without a real subprocess.
type Signaler interface {
	// Signal delivers sig to the process group (negative pid), tolerating
	// "no such process" as a benign race against a process that already
	// exited.
	Signal(sig Signal) error
	// Exited reports whether the supervised process has already exited.
	Exited() bool
}

// Signal is a process-control signal the watchdog may deliver.
type Signal int

const (
	SignalTerm Signal = iota
	SignalKill
	SignalStop
	SignalCont
)

// Config carries every tunable trigger constant, defaulted by NewConfig.
type Config struct {
	SilenceTimeout      time.Duration
	WallClockCap        time.Duration
	FatalRetryWindow    time.Duration
	SandboxDenialWindow time.Duration
	CheckInterval       time.Duration
	TerminateGrace      time.Duration
	HardAbort           time.Duration

	// FatalPatterns are per-provider vendor auth/quota/panic regexes.
	FatalPatterns []*regexp.Regexp

	// SandboxDenialDelay is how long a SIGSTOP'd process group is held
	// before SIGCONT on the third sandbox-denial hit.
	SandboxDenialDelay time.Duration
}

// NewConfig returns a Config with every unset duration defaulted.
func NewConfig() Config {
	return Config{
		SilenceTimeout:      DefaultSilenceTimeout,
		WallClockCap:        DefaultWallClockCap,
		FatalRetryWindow:    DefaultFatalRetryWindow,
		SandboxDenialWindow: DefaultSandboxDenialWindow,
		CheckInterval:       DefaultCheckInterval,
		TerminateGrace:      DefaultTerminateGrace,
		HardAbort:           DefaultHardAbort,
		SandboxDenialDelay:  300 * time.Millisecond,
	}
}

// Watchdog supervises one launched process. Construct with New, call
// RecordActivity on every stdout/stderr byte observed and RecordLine on
// every line for pattern matching, and select on Done()/Err() for the
// trigger outcome.
type Watchdog struct {
	cfg      Config
	signaler Signaler
	onBanner func(string)

	startedAt        time.Time
	lastActivityUnix atomic.Int64
	triggered        atomic.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc

	sandbox *sandboxDenialTracker
	fatal   *fatalPatternTracker
}

// New starts the watchdog's background timers against parent. Call
// Stop() exactly once when the supervised process exits cleanly.
func New(parent context.Context, cfg Config, signaler Signaler, onBanner func(string)) *Watchdog {
	ctx, cancel := context.WithCancelCause(parent)
	w := &Watchdog{
		cfg:       cfg,
		signaler:  signaler,
		onBanner:  onBanner,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		sandbox:   newSandboxDenialTracker(cfg.SandboxDenialWindow),
		fatal:     newFatalPatternTracker(cfg.FatalPatterns, cfg.FatalRetryWindow),
	}
	w.lastActivityUnix.Store(w.startedAt.UnixNano())

	go w.runSilenceWatchdog()
	go w.runWallClockWatchdog()

	return w
}

// Done returns a channel closed once a trigger fires or the watchdog is
// stopped.
func (w *Watchdog) Done() <-chan struct{} {
	return w.ctx.Done()
}

// Err returns the *types.WatchdogTriggeredError that caused Done() to
// close, or nil if the watchdog was stopped cleanly.
func (w *Watchdog) Err() error {
	cause := context.Cause(w.ctx)
	if cause == nil || cause == context.Canceled {
		return nil
	}
	return cause
}

// RecordActivity marks that stdout/stderr bytes were observed, resetting
// the silence timer.
func (w *Watchdog) RecordActivity() {
	w.lastActivityUnix.Store(time.Now().UnixNano())
}

// RecordLine feeds one stdout/stderr line through the fatal-pattern and
// sandbox-denial detectors, triggering as appropriate.
func (w *Watchdog) RecordLine(line string) {
	w.RecordActivity()

	if w.fatal.observe(line) {
		w.trigger("fatal-pattern", fmt.Sprintf("fatal pattern matched twice within %s", w.cfg.FatalRetryWindow))
		return
	}

	switch w.sandbox.observe(line) {
	case sandboxActionWarn:
		w.banner(fmt.Sprintf("SandboxBackoff: WARN (%s)", line))
	case sandboxActionDelay:
		w.banner(fmt.Sprintf("SandboxBackoff: ERROR (%s)", line))
		_ = w.signaler.Signal(SignalStop)
		time.AfterFunc(w.cfg.SandboxDenialDelay, func() {
			_ = w.signaler.Signal(SignalCont)
		})
	case sandboxActionFailFast:
		op, target := w.sandbox.lastKey()
		w.trigger("sandbox-denial", fmt.Sprintf("sandbox denial fail-fast: %s %s", op, target))
	}
}

func (w *Watchdog) runSilenceWatchdog() {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, w.lastActivityUnix.Load())
			if time.Since(last) > w.cfg.SilenceTimeout {
				w.trigger("silence", fmt.Sprintf("no output for %s", w.cfg.SilenceTimeout))
				return
			}
		}
	}
}

func (w *Watchdog) runWallClockWatchdog() {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(w.startedAt) > w.cfg.WallClockCap {
				w.trigger("wall-clock", fmt.Sprintf("exceeded wall-clock cap of %s", w.cfg.WallClockCap))
				return
			}
		}
	}
}

// trigger is idempotent: once state.triggered is set it does not change
// and exactly one termination sequence runs.
func (w *Watchdog) trigger(kind, reason string) {
	if !w.triggered.CompareAndSwap(false, true) {
		return
	}

	err := &types.WatchdogTriggeredError{Trigger: kind, Reason: reason}
	w.banner(fmt.Sprintf("[WATCHDOG: %s] %s", kind, reason))
	w.cancel(err)

	go w.terminateSequence()
}

func (w *Watchdog) banner(line string) {
	if w.onBanner != nil {
		w.onBanner(line)
	}
}

// terminateSequence runs SIGTERM -> (grace) -> SIGKILL -> (hard-abort) on
// the process group, skipping any remaining step once the child has
// already exited.
func (w *Watchdog) terminateSequence() {
	if w.signaler.Exited() {
		return
	}
	_ = w.signaler.Signal(SignalTerm)

	time.Sleep(w.cfg.TerminateGrace)
	if w.signaler.Exited() {
		return
	}
	_ = w.signaler.Signal(SignalKill)

	time.Sleep(w.cfg.HardAbort)
	// The hard-abort timeout itself is surfaced via Err()/Done(); callers
	// awaiting process exit should treat a still-running process past
	// this point as a hard-abort condition.
}

// Stop cancels the watchdog's background timers without recording a
// trigger, for use on clean process exit. Calling Stop after a trigger
// has already fired is a no-op.
func (w *Watchdog) Stop() {
	w.cancel(nil)
}
