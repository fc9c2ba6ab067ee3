package auth

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ConfigDirProvider stages a vendor by copying its entire home-rooted
// config directory (e.g. ~/.codex, ~/.gemini) into the sandbox home.
type ConfigDirProvider struct {
	name    string
	dirName string
}

// NewConfigDirProvider returns a Provider for vendors whose only
// credential material is a whole config directory, no finer-grained
// secret extraction required.
func NewConfigDirProvider(name, dirName string) *ConfigDirProvider {
	return &ConfigDirProvider{name: name, dirName: dirName}
}

func (p *ConfigDirProvider) Name() string { return p.name }

func (p *ConfigDirProvider) Verify() error {
	dir, err := p.sourceDir()
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s config directory %s: %w", p.name, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s config path %s is not a directory", p.name, dir)
	}
	return nil
}

func (p *ConfigDirProvider) Stage(sandboxHome string) (StageResult, error) {
	src, err := p.sourceDir()
	if err != nil {
		return StageResult{}, err
	}

	dirs, err := BuildSandboxHome(sandboxHome)
	if err != nil {
		return StageResult{}, err
	}
	dest := filepath.Join(dirs["config"], p.dirName)

	var handles []SecretHandle
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(destPath, 0700)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		handle, err := StageCredentialFile(destPath, data)
		if err != nil {
			return err
		}
		handles = append(handles, handle)
		return nil
	})
	if walkErr != nil {
		for _, h := range handles {
			_ = h.Dispose()
		}
		return StageResult{}, fmt.Errorf("stage %s config directory: %w", p.name, walkErr)
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
		Handles:     handles,
	}, nil
}

func (p *ConfigDirProvider) sourceDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, p.dirName), nil
}
