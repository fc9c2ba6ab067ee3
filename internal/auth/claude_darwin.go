//go:build darwin

package auth

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// claudeKeychainService is the login-keychain service name Claude's CLI
// registers its credential under.
const claudeKeychainService = "claude-service"

// claudeVerify fails fast when the login keychain file itself is absent,
// with a guidance hint, before ever shelling out to `security`.
func claudeVerify() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	keychainPath := filepath.Join(home, "Library", "Keychains", "login.keychain-db")
	if _, err := os.Stat(keychainPath); os.IsNotExist(err) {
		return fmt.Errorf("macOS login keychain not found at %s (run `security unlock-keychain` or sign in to Claude once interactively)", keychainPath)
	}
	if _, err := exec.LookPath("security"); err != nil {
		return fmt.Errorf("'security' tool not found on PATH: %w", err)
	}
	return nil
}

func claudeDiscover() (claudeCredential, error) {
	account := os.Getenv("USER")
	if account == "" {
		account = "default"
	}

	// #nosec G204 -- service/account are fixed/environment-derived, not
	// attacker-controlled, and exec.Command does not invoke a shell.
	cmd := exec.Command("security", "find-generic-password", "-s", claudeKeychainService, "-a", account, "-w")
	out, err := cmd.Output()
	if err != nil {
		return claudeCredential{}, fmt.Errorf("read claude credential from keychain service %q: %w", claudeKeychainService, err)
	}
	secret := strings.TrimSpace(string(out))
	if secret == "" {
		return claudeCredential{}, fmt.Errorf("claude keychain entry for service %q is empty", claudeKeychainService)
	}
	return claudeCredential{data: []byte(secret)}, nil
}
