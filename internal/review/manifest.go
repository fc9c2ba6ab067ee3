package review

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// ManifestCandidate is one blinded candidate entry in a reviewer's
// artifact-information.json, naming only its alias and the repo-relative
// path (relative to the reviewer's inputs/ symlink) of its staged diff.
type ManifestCandidate struct {
	Alias    string `json:"alias"`
	DiffPath string `json:"diff_path"`
}

// Manifest is the reviewer-visible artifact-information.json: alias ids
// only, never a real agent id or model.
type Manifest struct {
	Candidates []ManifestCandidate `json:"candidates"`
}

// BuildManifest builds the alias-only manifest for aliasMap, sorted by
// alias for deterministic output.
func BuildManifest(aliasMap map[string]string) Manifest {
	aliases := make([]string, 0, len(aliasMap))
	for alias := range aliasMap {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	m := Manifest{Candidates: make([]ManifestCandidate, 0, len(aliases))}
	for _, alias := range aliases {
		m.Candidates = append(m.Candidates, ManifestCandidate{
			Alias:    alias,
			DiffPath: "candidates/" + alias + "/diff.patch",
		})
	}
	return m
}

// WriteManifest serializes m as pretty JSON with a trailing newline to
// path, matching the record store's serialization convention.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Text renders the manifest as the text a leakage check scans — the JSON
// form is sufficient since that is exactly what a reviewer reads.
func (m Manifest) Text() string {
	data, _ := json.Marshal(m)
	return string(data)
}
