package watchdog

import (
	"regexp"
	"sync"
	"time"
)

// fatalPatternTracker implements the "first hit tolerated, second hit
// within the window triggers" rule, applied uniformly
// as specified with no per-provider variance.
type fatalPatternTracker struct {
	patterns []*regexp.Regexp
	window   time.Duration

	mu      sync.Mutex
	firstAt time.Time
	armed   bool
}

func newFatalPatternTracker(patterns []*regexp.Regexp, window time.Duration) *fatalPatternTracker {
	return &fatalPatternTracker{patterns: patterns, window: window}
}

// observe returns true the second time any pattern matches within window
// of the first match; a single match is recorded but does not trigger.
func (t *fatalPatternTracker) observe(line string) bool {
	matched := false
	for _, p := range t.patterns {
		if p.MatchString(line) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.armed {
		t.armed = true
		t.firstAt = now
		return false
	}
	if now.Sub(t.firstAt) < t.window {
		return true
	}
	// Outside the window: this match restarts the one-tolerated-hit cycle.
	t.firstAt = now
	return false
}

// sandboxAction is the escalation outcome of one sandbox-denial
// observation.
type sandboxAction int

const (
	sandboxActionNone sandboxAction = iota
	sandboxActionWarn
	sandboxActionDelay
	sandboxActionFailFast
)

// sandboxDenialLine matches the two phrasings of a SandboxDebug denial
// banner on stderr, capturing only the host:port target (the operation is
// not captured; parseSandboxDenial fixes it to "connect").
var sandboxDenialLine = regexp.MustCompile(`(?i)\[SandboxDebug\].*denied.*?([a-zA-Z0-9.\-]+:\d+)`)

// sandboxDenialLineAlt matches the "Denied by config rule" phrasing seen
// in the concrete scenario fixtures.
var sandboxDenialLineAlt = regexp.MustCompile(`(?i)\[SandboxDebug\]\s*Denied by config rule:\s*([a-zA-Z0-9.\-]+:\d+)`)

// sandboxDenialTracker maintains the per-(operation,target) hit counter
// and 120s reset window.
type sandboxDenialTracker struct {
	window time.Duration

	mu      sync.Mutex
	hits    map[string]int
	firstAt map[string]time.Time
	lastOp  string
	lastTgt string
}

func newSandboxDenialTracker(window time.Duration) *sandboxDenialTracker {
	return &sandboxDenialTracker{
		window:  window,
		hits:    make(map[string]int),
		firstAt: make(map[string]time.Time),
	}
}

// observe parses line for a sandbox-denial banner and advances that
// target's hit counter, resetting it if 120s have passed since the first
// hit in the current window.
func (t *sandboxDenialTracker) observe(line string) sandboxAction {
	op, target, ok := parseSandboxDenial(line)
	if !ok {
		return sandboxActionNone
	}

	key := op + "|" + target
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if first, seen := t.firstAt[key]; seen && now.Sub(first) > t.window {
		t.hits[key] = 0
	}
	if t.hits[key] == 0 {
		t.firstAt[key] = now
	}
	t.hits[key]++
	t.lastOp, t.lastTgt = op, target

	switch t.hits[key] {
	case 1:
		return sandboxActionNone
	case 2:
		return sandboxActionWarn
	case 3:
		return sandboxActionDelay
	default:
		return sandboxActionFailFast
	}
}

// lastKey returns the (operation, target) pair of the most recent
// observed hit, for use in trigger/banner messages.
func (t *sandboxDenialTracker) lastKey() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOp, t.lastTgt
}

// parseSandboxDenial extracts (operation, target) from either recognized
// phrasing. Operation is fixed to "connect" since both phrasings describe
// a denied network connection; only the target varies.
func parseSandboxDenial(line string) (operation, target string, ok bool) {
	if m := sandboxDenialLineAlt.FindStringSubmatch(line); m != nil {
		return "connect", m[1], true
	}
	if m := sandboxDenialLine.FindStringSubmatch(line); m != nil {
		return "connect", m[1], true
	}
	return "", "", false
}

// providerFatalPatterns holds the vendor-specific auth/quota/panic strings
// whose repeated appearance on an agent's output means the process is
// spinning on an unrecoverable condition and should be put down rather
// than left to burn its wall-clock budget.
var providerFatalPatterns = map[string][]*regexp.Regexp{
	"claude": {
		regexp.MustCompile(`(?i)invalid api key`),
		regexp.MustCompile(`(?i)credit balance is too low`),
		regexp.MustCompile(`(?i)oauth token (?:has )?expired`),
		regexp.MustCompile(`(?i)rate limit(?:ed| exceeded)`),
	},
	"codex": {
		regexp.MustCompile(`(?i)incorrect api key provided`),
		regexp.MustCompile(`(?i)exceeded your current quota`),
		regexp.MustCompile(`(?i)you must be authenticated`),
	},
	"gemini": {
		regexp.MustCompile(`(?i)api key not valid`),
		regexp.MustCompile(`(?i)resource(?:_| )exhausted`),
		regexp.MustCompile(`(?i)permission(?:_| )denied`),
	},
}

// genericFatalPatterns match regardless of vendor: a crashed runtime is
// fatal no matter whose CLI crashed.
var genericFatalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`panic: `),
	regexp.MustCompile(`(?i)fatal error: `),
}

// ProviderFatalPatterns returns the fatal-pattern list for provider:
// vendor-specific patterns (if the provider is known) plus the generic
// crash patterns. The returned slice is freshly allocated; callers may
// append to it.
func ProviderFatalPatterns(provider string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(genericFatalPatterns)+4)
	out = append(out, providerFatalPatterns[provider]...)
	out = append(out, genericFatalPatterns...)
	return out
}
