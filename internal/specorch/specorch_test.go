package specorch

import (
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-03-15T04:05:06Z")
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Add OAuth2 login flow", "add-oauth2-login-flow"},
		{"  --weird   punctuation!! ", "weird-punctuation"},
		{"", "spec"},
		{"!!!", "spec"},
		{"UPPER case", "upper-case"},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSlugifyTruncatesAtWordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 30)
	slug := Slugify(long)
	if len(slug) > maxSlugLen {
		t.Errorf("slug length %d exceeds %d", len(slug), maxSlugLen)
	}
	if strings.HasSuffix(slug, "-") || strings.HasPrefix(slug, "-") {
		t.Errorf("slug %q has dangling dash", slug)
	}
}

func TestGenerateSpecIDShape(t *testing.T) {
	id, err := generateSpecID(mustParse(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != len("20260101-120000-abcde") {
		t.Fatalf("id %q has unexpected length", id)
	}
	if !strings.HasPrefix(id, "20260315-040506-") {
		t.Errorf("id %q missing timestamp prefix", id)
	}
}

func TestBuildSpecPromptMentionsOutputFile(t *testing.T) {
	p := buildSpecPrompt("make a widget", "Widget")
	for _, want := range []string{"spec.md", "make a widget", "Widget"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestFirstWords(t *testing.T) {
	if got := firstWords("a b c d", 2); got != "a b" {
		t.Errorf("firstWords = %q", got)
	}
	if got := firstWords("one", 5); got != "one" {
		t.Errorf("firstWords = %q", got)
	}
}
