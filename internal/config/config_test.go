package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent != "claude" || cfg.Sessions != 2 || cfg.BaseBranch != "main" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.KeepCheckpoints != 10 {
		t.Errorf("KeepCheckpoints = %d, want 10", cfg.KeepCheckpoints)
	}
}

func TestLoadMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{"agent": "codex", "sessions": 4}`)
	project := writeConfig(t, dir, "project.json", `{"sessions": 3, "test_command": "go test ./..."}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Agent != "codex" {
		t.Errorf("Agent = %q, want codex (from global)", cfg.Agent)
	}
	if cfg.Sessions != 3 {
		t.Errorf("Sessions = %d, want 3 (project overrides global)", cfg.Sessions)
	}
	if cfg.TestCommand != "go test ./..." {
		t.Errorf("TestCommand = %q", cfg.TestCommand)
	}
	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want default main", cfg.BaseBranch)
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent != "claude" {
		t.Errorf("Agent = %q, want default", cfg.Agent)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfig(t, dir, "bad.json", `{"agent": `)

	if _, err := Load(bad, ""); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/c"

	if got := cfg.MarkerDir("user-auth"); got != "/tmp/c/completions/user-auth" {
		t.Errorf("MarkerDir = %q", got)
	}
	if got := cfg.CheckpointDir(); got != "/tmp/c/state/checkpoints" {
		t.Errorf("CheckpointDir = %q", got)
	}
}
