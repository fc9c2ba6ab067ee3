//go:build !darwin

package auth

import (
	"fmt"
	"os"
	"path/filepath"
)

// claudeCredentialFile is where the Linux/other Claude CLI persists its
// on-disk credential.
const claudeCredentialFile = ".claude/.credentials.json"

// claudeConfigFile is the vendor config file claudeDiscover falls back to
// when no credential file is present; its whole content is staged as-is.
const claudeConfigFile = ".config/claude/config.json"

func claudeVerify() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	credPath := filepath.Join(home, claudeCredentialFile)
	if _, err := os.Stat(credPath); err == nil {
		return nil
	}
	configPath := filepath.Join(home, claudeConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	return fmt.Errorf("no claude credential found at %s or %s (sign in to Claude once interactively)", credPath, configPath)
}

func claudeDiscover() (claudeCredential, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return claudeCredential{}, fmt.Errorf("resolve home directory: %w", err)
	}

	credPath := filepath.Join(home, claudeCredentialFile)
	if data, err := os.ReadFile(credPath); err == nil {
		return claudeCredential{data: data}, nil
	} else if !os.IsNotExist(err) {
		return claudeCredential{}, fmt.Errorf("read %s: %w", credPath, err)
	}

	configPath := filepath.Join(home, claudeConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return claudeCredential{}, fmt.Errorf("read claude config %s: %w", configPath, err)
	}
	return claudeCredential{data: data}, nil
}
