// Package harness launches one agent subprocess under an already composed
// sandbox policy and the watchdog, and classifies the outcome; it also
// provides the helpers callers use to stage credentials and write the
// prompt and policy files. Both the run orchestrator and the
// review pipeline build an engine.Adapter around this single entry point
// rather than duplicating the auth/sandbox/watchdog wiring twice.
package harness

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/sandbox"
	"github.com/voratiq/voratiq/internal/types"
	"github.com/voratiq/voratiq/internal/watchdog"
)

// pollInterval is how often Invoke re-scans the launched process's
// stdout/stderr tee buffers for new lines to feed the watchdog.
const pollInterval = 250 * time.Millisecond

// Spec describes one agent invocation, already resolved to a concrete
// binary and argv (placeholder substitution and sandbox composition are
// the caller's job; harness only launches and supervises).
type Spec struct {
	AgentID     string
	Binary      string
	Argv        []string
	Cwd         string
	EnvOverride map[string]string
	StdoutPath  string
	StderrPath  string

	// Policy is the composed filesystem policy the launcher's sandboxing
	// wrapper enforces.
	Policy types.SandboxPolicy

	// PolicyPath is the same policy serialized to the agent's runtime
	// directory, exported to the child for auditing.
	PolicyPath string

	WatchdogConfig watchdog.Config
	// OnBanner receives every watchdog banner line (trigger fired,
	// sandbox backoff state change) so the caller can append it to the
	// invocation's own log.
	OnBanner func(string)
}

// Result is what one supervised invocation produced.
type Result struct {
	Stdout      []byte
	Stderr      []byte
	ExitErr     error // non-nil if the process exited non-zero or failed to run
	WatchdogErr error // non-nil if a watchdog trigger killed the process
}

// Invoke launches spec under ctx and blocks until the process exits or a
// watchdog trigger kills it. It never returns an error itself except for
// launch failure (binary not found, directories not creatable) — process
// exit and watchdog conditions are reported on Result.
func Invoke(ctx context.Context, spec Spec) (*Result, error) {
	runner := resolveRunner()
	proc, err := sandbox.Launch(ctx, sandbox.LaunchSpec{
		Binary:      spec.Binary,
		Argv:        spec.Argv,
		Cwd:         spec.Cwd,
		EnvOverride: spec.EnvOverride,
		StdoutPath:  spec.StdoutPath,
		StderrPath:  spec.StderrPath,
		Policy:      spec.Policy,
		PolicyPath:  spec.PolicyPath,
		Runner:      &runner,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.AgentID, err)
	}
	if runner.Fallback && runner.Reason != "" {
		// Recorded once per invocation so a missing wrapper is visible
		// in the agent's own log, not silently absorbed.
		AppendBanner(spec.StderrPath, "[sandbox] "+runner.Reason)
	}

	sig := newProcessGroupSignaler(proc)
	wd := watchdog.New(ctx, spec.WatchdogConfig, sig, spec.OnBanner)

	waitDone := make(chan error, 1)
	go func() { waitDone <- proc.Wait() }()

	pollDone := make(chan struct{})
	go pollActivity(proc, wd, pollDone)

	var waitErr error
	var wdErr error
	select {
	case waitErr = <-waitDone:
		sig.markExited()
		wd.Stop()
	case <-wd.Done():
		wdErr = wd.Err()
		// The watchdog's own terminate sequence (SIGTERM/SIGKILL) drives
		// the process to exit; still wait for it so Result carries a
		// final stdout/stderr snapshot and the goroutine above is
		// reaped.
		waitErr = <-waitDone
		sig.markExited()
	}
	close(pollDone)

	return &Result{
		Stdout:      proc.StdoutBytes(),
		Stderr:      proc.StderrBytes(),
		ExitErr:     waitErr,
		WatchdogErr: wdErr,
	}, nil
}

// pollActivity re-scans the process's tee buffers for newly written lines
// and feeds them to the watchdog's fatal-pattern/sandbox-denial detectors,
// stopping when done is closed. The launcher's tee buffers are append-only
// for the life of the process, so tracking a byte offset per stream is
// sufficient to avoid re-scanning the same line twice.
func pollActivity(proc *sandbox.Process, wd *watchdog.Watchdog, done <-chan struct{}) {
	var stdoutOff, stderrOff int
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			stdoutOff = scanNewLines(proc.StdoutBytes(), stdoutOff, wd)
			stderrOff = scanNewLines(proc.StderrBytes(), stderrOff, wd)
		}
	}
}

func scanNewLines(buf []byte, offset int, wd *watchdog.Watchdog) int {
	if len(buf) <= offset {
		return offset
	}
	fresh := buf[offset:]
	if len(fresh) == 0 {
		return offset
	}
	wd.RecordActivity()

	scanner := bufio.NewScanner(bytes.NewReader(fresh))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lastNewline := offset
	consumed := offset
	for scanner.Scan() {
		end := consumed + len(scanner.Bytes()) + 1 // +1 for the newline scanner.Bytes() excludes
		if end > len(buf) {
			break // partial final line: no trailing newline yet
		}
		wd.RecordLine(scanner.Text())
		consumed = end
		lastNewline = consumed
	}
	// Only advance past input that ended on a full line; a partial final
	// line (no trailing newline yet) is rescanned next tick once complete.
	if bytes.HasSuffix(buf, []byte("\n")) {
		return offset + len(fresh)
	}
	return lastNewline
}

// resolveRunner picks the sandboxing wrapper for this invocation.
// Darwin's sandbox-exec ships with the OS and is adopted automatically;
// Linux wrappers vary too much across hosts (user namespaces, setuid
// policy) to adopt unprobed, so they require the VORATIQ_RUNNER override.
// VORATIQ_RUNNER=off forces direct execution everywhere.
func resolveRunner() sandbox.RunnerResolution {
	if name := os.Getenv("VORATIQ_RUNNER"); name != "" {
		if name == "off" {
			return sandbox.RunnerResolution{Fallback: true}
		}
		if path, err := exec.LookPath(name); err == nil {
			return sandbox.RunnerResolution{Command: name, Path: path}
		}
		return sandbox.RunnerResolution{Fallback: true, Reason: "VORATIQ_RUNNER not found on PATH: " + name}
	}
	res := sandbox.ResolveRunner(nil)
	if res.Command == "sandbox-exec" {
		return res
	}
	if res.Command != "" {
		return sandbox.RunnerResolution{Fallback: true, Reason: res.Command + " found but not adopted; set VORATIQ_RUNNER=" + res.Command + " to enable it"}
	}
	return res
}

// StageAuth resolves and stages credentials for one agent, returning the
// auth.Context the caller must register with the lifecycle supervisor for
// guaranteed teardown.
func StageAuth(registry *auth.Registry, agentID, provider, sandboxHome string) (*auth.Context, error) {
	plan, err := registry.Plan([]auth.AgentRequest{{
		AgentID:     agentID,
		Provider:    provider,
		SandboxHome: sandboxHome,
	}})
	if err != nil {
		return nil, err
	}
	return plan[0], nil
}

// ClassifyOutcome maps an Invoke Result to the AgentInvocation terminal
// status and warning/error text it should record.
func ClassifyOutcome(res *Result) (status types.Status, warnings []string, errText string) {
	if res.WatchdogErr != nil {
		return types.StatusAborted, nil, res.WatchdogErr.Error()
	}
	if res.ExitErr != nil {
		return types.StatusFailed, nil, res.ExitErr.Error()
	}
	return types.StatusSucceeded, nil, ""
}

// AppendBanner appends a watchdog banner line to an agent's stderr log,
// realizing the "banners appear on stderr before any kill signal"
// ordering guarantee independent of the supervised process's own output.
// Shared by the run orchestrator and the review pipeline, both of which
// pass this as their Spec.OnBanner.
func AppendBanner(stderrPath, line string) {
	f, err := os.OpenFile(stderrPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line + "\n")
}

// WritePromptFile writes an agent's ephemeral prompt text to path,
// creating its parent directory if needed.
func WritePromptFile(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0600)
}

// WriteSandboxPolicy marshals policy as pretty JSON to path, creating its
// parent directory if needed.
func WriteSandboxPolicy(path string, policy types.SandboxPolicy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0600)
}
