// Package config loads orchestration configuration from JSON files,
// merging project settings over global settings over defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level orchestration configuration.
type Config struct {
	Agent               string `json:"agent"`                 // Agent kind: "claude", "codex", "goose"
	Sessions            int    `json:"sessions"`              // Concurrent session count
	BaseBranch          string `json:"base_branch"`           // Branch sessions fork from and merge into
	TasksDocument       string `json:"tasks_document"`        // Path to the human-authored task document
	DataDir             string `json:"data_dir"`              // Tool-private directory
	PollIntervalSeconds int    `json:"poll_interval_seconds"` // Completion poll cadence
	LockWaitSeconds     int    `json:"lock_wait_seconds"`     // Bounded state-lock acquisition wait
	KeepCheckpoints     int    `json:"keep_checkpoints"`      // Checkpoints retained after cleanup
	TestCommand         string `json:"test_command"`          // Validation command for the integration branch
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent:               "claude",
		Sessions:            2,
		BaseBranch:          "main",
		TasksDocument:       "tasks.md",
		DataDir:             ".conductor",
		PollIntervalSeconds: 5,
		LockWaitSeconds:     10,
		KeepCheckpoints:     10,
	}
}

// PollInterval returns the completion poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LockWait returns the bounded lock acquisition wait as a duration.
func (c *Config) LockWait() time.Duration {
	return time.Duration(c.LockWaitSeconds) * time.Second
}

// StateDir returns the directory holding orchestration state.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, "state")
}

// CheckpointDir returns the directory holding state checkpoints.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.StateDir(), "checkpoints")
}

// MarkerDir returns the per-spec completion marker directory.
func (c *Config) MarkerDir(specID string) string {
	return filepath.Join(c.DataDir, "completions", specID)
}

// WorktreeDir returns the directory session workspaces are created under.
func (c *Config) WorktreeDir() string {
	return filepath.Join(c.DataDir, "worktrees")
}

// JournalPath returns the run journal database location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// Load reads and merges configuration from global and project paths.
// Precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := Default()

	if globalPath != "" {
		if err := mergeFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from the conventional paths:
// ~/.conductor/config.json then .conductor/config.json.
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(
		filepath.Join(homeDir, ".conductor", "config.json"),
		filepath.Join(".conductor", "config.json"),
	)
}

// mergeFile overlays the non-zero fields of a JSON config file onto base.
// Missing files are silently skipped.
func mergeFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Agent != "" {
		base.Agent = loaded.Agent
	}
	if loaded.Sessions != 0 {
		base.Sessions = loaded.Sessions
	}
	if loaded.BaseBranch != "" {
		base.BaseBranch = loaded.BaseBranch
	}
	if loaded.TasksDocument != "" {
		base.TasksDocument = loaded.TasksDocument
	}
	if loaded.DataDir != "" {
		base.DataDir = loaded.DataDir
	}
	if loaded.PollIntervalSeconds != 0 {
		base.PollIntervalSeconds = loaded.PollIntervalSeconds
	}
	if loaded.LockWaitSeconds != 0 {
		base.LockWaitSeconds = loaded.LockWaitSeconds
	}
	if loaded.KeepCheckpoints != 0 {
		base.KeepCheckpoints = loaded.KeepCheckpoints
	}
	if loaded.TestCommand != "" {
		base.TestCommand = loaded.TestCommand
	}
	return nil
}
