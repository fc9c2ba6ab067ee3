package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voratiq/voratiq/internal/types"
)

func TestCaptureChatPicksNewestTranscript(t *testing.T) {
	home := t.TempDir()
	artifacts := t.TempDir()

	sessions := filepath.Join(home, ".codex", "sessions")
	if err := os.MkdirAll(sessions, 0700); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(sessions, "old.jsonl")
	if err := os.WriteFile(old, []byte("{\"old\":true}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sessions, "new.jsonl"), []byte("{\"new\":true}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	format, ok := CaptureChat(home, "codex", artifacts)
	if !ok {
		t.Fatal("CaptureChat found nothing")
	}
	if format != types.ChatFormatJSONL {
		t.Errorf("format = %q, want jsonl", format)
	}
	data, err := os.ReadFile(filepath.Join(artifacts, "chat.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\"new\":true}\n" {
		t.Errorf("captured content = %q", data)
	}
}

func TestCaptureChatJSONFormat(t *testing.T) {
	home := t.TempDir()
	artifacts := t.TempDir()

	dir := filepath.Join(home, ".gemini", "tmp")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "chat.json"), []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	format, ok := CaptureChat(home, "gemini", artifacts)
	if !ok {
		t.Fatal("CaptureChat found nothing")
	}
	if format != types.ChatFormatJSON {
		t.Errorf("format = %q, want json", format)
	}
	if _, err := os.Stat(filepath.Join(artifacts, "chat.json")); err != nil {
		t.Errorf("chat.json not written: %v", err)
	}
}

func TestCaptureChatNoTranscriptIsNotAnError(t *testing.T) {
	if _, ok := CaptureChat(t.TempDir(), "claude", t.TempDir()); ok {
		t.Error("expected ok=false for an empty sandbox home")
	}
}

func TestCaptureChatUnknownProvider(t *testing.T) {
	if _, ok := CaptureChat(t.TempDir(), "nope", t.TempDir()); ok {
		t.Error("expected ok=false for an unknown provider")
	}
}
