package auth

import (
	"fmt"
	"path/filepath"
)

// ClaudeProvider discovers and stages Claude credentials. Discovery is
// platform-specific (claude_darwin.go / claude_other.go); this file holds
// the shared Stage/env-override shape.
type ClaudeProvider struct{}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) Verify() error {
	return claudeVerify()
}

func (p *ClaudeProvider) Stage(sandboxHome string) (StageResult, error) {
	cred, err := claudeDiscover()
	if err != nil {
		return StageResult{}, err
	}

	dirs, err := BuildSandboxHome(sandboxHome)
	if err != nil {
		return StageResult{}, err
	}

	credPath := filepath.Join(dirs["config"], "claude", ".credentials.json")
	handle, err := StageCredentialFile(credPath, cred.data)
	if err != nil {
		return StageResult{}, fmt.Errorf("stage claude credential: %w", err)
	}

	return StageResult{
		EnvOverrides: map[string]string{
			"HOME":            sandboxHome,
			"XDG_CONFIG_HOME": dirs["config"],
			"XDG_CACHE_HOME":  dirs["cache"],
			"XDG_DATA_HOME":   dirs["data"],
			"XDG_STATE_HOME":  dirs["state"],
			"TMPDIR":          dirs["tmp"],
		},
		SandboxPath: sandboxHome,
		Handles:     []SecretHandle{handle},
	}, nil
}

// claudeCredential is the raw material claudeDiscover returns, independent
// of whether it came from a keychain, a credential file, or the whole
// content of the fallback config file.
type claudeCredential struct {
	data []byte
}
