package review

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildManifestSortedByAlias(t *testing.T) {
	aliasMap := map[string]string{
		"r_zzzzzzzzzz": "alpha",
		"r_aaaaaaaaaa": "beta",
	}
	m := BuildManifest(aliasMap)
	if len(m.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(m.Candidates))
	}
	if m.Candidates[0].Alias != "r_aaaaaaaaaa" || m.Candidates[1].Alias != "r_zzzzzzzzzz" {
		t.Fatalf("expected sorted aliases, got %+v", m.Candidates)
	}
	if m.Candidates[0].DiffPath != "candidates/r_aaaaaaaaaa/diff.patch" {
		t.Fatalf("unexpected diff path: %s", m.Candidates[0].DiffPath)
	}
}

func TestManifestTextNeverContainsRealAgentID(t *testing.T) {
	aliasMap := map[string]string{"r_aaaaaaaaaa": "alpha-secret-agent"}
	m := BuildManifest(aliasMap)
	if strings.Contains(m.Text(), "alpha-secret-agent") {
		t.Fatal("manifest text must only contain aliases, never real agent ids")
	}
}

func TestWriteManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime", "artifact-information.json")
	m := BuildManifest(map[string]string{"r_aaaaaaaaaa": "alpha"})
	if err := WriteManifest(path, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !strings.Contains(string(data), "r_aaaaaaaaaa") {
		t.Fatalf("expected alias in written manifest, got %s", data)
	}
}
