package harness

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/voratiq/voratiq/internal/types"
)

// chatSearchRoots lists, per provider, the sandbox-home-relative
// directories the vendor CLI writes its session transcript under. Vendors
// disagree on XDG compliance, so both the bare-dotdir and staged-config
// locations are searched.
var chatSearchRoots = map[string][]string{
	"claude": {".claude/projects", "config/claude"},
	"codex":  {".codex/sessions", "config/.codex/sessions"},
	"gemini": {".gemini/tmp", "config/.gemini/tmp"},
}

// CaptureChat copies the newest transcript file the provider's CLI left in
// the sandbox home into artifactsDir as chat.json or chat.jsonl. It is
// best-effort: a provider that wrote no transcript yields ok=false, never
// an error, since a missing transcript must not fail an otherwise
// complete invocation.
func CaptureChat(sandboxHome, provider, artifactsDir string) (format types.ChatFormat, ok bool) {
	var newest string
	var newestMod int64

	for _, rel := range chatSearchRoots[provider] {
		root := filepath.Join(sandboxHome, filepath.FromSlash(rel))
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".json" && ext != ".jsonl" {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
				newest = path
				newestMod = mod
			}
			return nil
		})
	}
	if newest == "" {
		return "", false
	}

	format = types.ChatFormatJSON
	name := "chat.json"
	if strings.HasSuffix(newest, ".jsonl") {
		format = types.ChatFormatJSONL
		name = "chat.jsonl"
	}

	data, err := os.ReadFile(newest)
	if err != nil {
		return "", false
	}
	if err := os.MkdirAll(artifactsDir, 0700); err != nil {
		return "", false
	}
	if err := os.WriteFile(filepath.Join(artifactsDir, name), data, 0600); err != nil {
		return "", false
	}
	return format, true
}
