// Package auth discovers, stages, and tears down per-vendor agent
// credentials. Staging builds an isolated sandbox HOME tree and copies the
// minimum credential material into it so an agent process never sees the
// operator's real credential files.
package auth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/voratiq/voratiq/internal/types"
)

// Provider is the uniform contract every vendor credential source
// implements: verify is a cheap, disk-read-only pre-flight; stage builds
// the sandbox HOME tree and returns the overrides a launcher must apply
// plus the secret handles it created. Providers have no teardown method;
// Context.Teardown disposes those handles.
type Provider interface {
	// Name identifies the provider for error messages and stage-plan
	// dedup ("verify is invoked once per unique provider").
	Name() string

	// Verify performs a cheap pre-flight check without mutating disk.
	Verify() error

	// Stage builds sandboxHome (already created with mode 0700) and
	// returns the environment overrides and secret handles it produced.
	Stage(sandboxHome string) (StageResult, error)
}

// StageResult is what Stage returns on success.
type StageResult struct {
	// EnvOverrides are merged into the launched process's environment:
	// HOME, XDG_CONFIG_HOME/XDG_CACHE_HOME/XDG_DATA_HOME/XDG_STATE_HOME,
	// TMPDIR, plus any provider-specific variables.
	EnvOverrides map[string]string

	// SandboxPath is the root of the staged HOME tree.
	SandboxPath string

	// Handles are every secret file Stage wrote, tracked so Teardown can
	// overwrite-then-delete each one.
	Handles []SecretHandle
}

// SecretHandle tracks one credential file written during staging so
// teardown can securely dispose of it.
type SecretHandle struct {
	Path string
}

// sandboxHomeDirs are the fixed subdirectories of a staged sandbox HOME,
// mirroring a conventional XDG layout plus tmp.
var sandboxHomeDirs = []string{"config", "cache", "data", "state", "logs", "tmp"}

// BuildSandboxHome creates the fixed subdirectory tree under root with
// mode 0700 and returns the per-directory paths.
func BuildSandboxHome(root string) (map[string]string, error) {
	paths := make(map[string]string, len(sandboxHomeDirs))
	for _, d := range sandboxHomeDirs {
		p := filepath.Join(root, d)
		if err := os.MkdirAll(p, 0700); err != nil {
			return nil, fmt.Errorf("create sandbox home dir %s: %w", p, err)
		}
		paths[d] = p
	}
	return paths, nil
}

// StageCredentialFile copies data into path with mode 0600 via the same
// temp-then-rename discipline as the record store, and returns the
// resulting SecretHandle.
func StageCredentialFile(path string, data []byte) (SecretHandle, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return SecretHandle{}, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return SecretHandle{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return SecretHandle{}, fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return SecretHandle{}, fmt.Errorf("sync credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return SecretHandle{}, fmt.Errorf("close credential: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return SecretHandle{}, fmt.Errorf("chmod credential: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return SecretHandle{}, fmt.Errorf("rename credential into place: %w", err)
	}
	success = true
	return SecretHandle{Path: path}, nil
}

// Dispose overwrites a staged secret file with zero bytes of its original
// length before deleting it, so the plaintext credential does not survive
// in a filesystem block after unlink.
func (h SecretHandle) Dispose() error {
	info, err := os.Stat(h.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat secret handle %s: %w", h.Path, err)
	}

	zeros := make([]byte, info.Size())
	if err := os.WriteFile(h.Path, zeros, 0600); err != nil {
		return fmt.Errorf("zero secret handle %s: %w", h.Path, err)
	}
	if err := os.Remove(h.Path); err != nil {
		return fmt.Errorf("remove secret handle %s: %w", h.Path, err)
	}
	return nil
}

// Context is what the lifecycle supervisor registers per staged agent so
// it can teardown exactly once on termination.
type Context struct {
	AgentID  string
	Provider string
	Result   StageResult

	torndown bool
}

// Teardown disposes every secret handle in Result. Calling Teardown more
// than once is a no-op on the second and later calls.
func (c *Context) Teardown() error {
	if c.torndown {
		return nil
	}
	c.torndown = true

	var firstErr error
	for _, h := range c.Result.Handles {
		if err := h.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// errUnknownProvider wraps types.ErrUnknownProvider for a plan that
// references a provider with no registered Provider implementation.
func errUnknownProvider(provider string) error {
	return fmt.Errorf("%w: %s", types.ErrUnknownProvider, provider)
}
