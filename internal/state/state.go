// Package state provides crash-safe persistence of orchestration
// progress: a single mutable state document written atomically behind an
// exclusive lock file, plus immutable timestamped checkpoints.
package state

import "time"

// SchemaVersion tags the persisted state document.
const SchemaVersion = "1.0"

// Timestamp is the fixed textual format used for every persisted time.
const Timestamp = time.RFC3339

// Status values shared by sessions and tasks.
const (
	StatusPending     = "pending"
	StatusActive      = "active"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Merge status values.
const (
	MergeNone       = ""
	MergeInProgress = "in_progress"
	MergeCompleted  = "completed"
	MergeFailed     = "failed"
)

// SessionState is the persisted record of one session.
type SessionState struct {
	ID             int      `json:"id"`
	WorkspacePath  string   `json:"workspace_path"`
	Branch         string   `json:"branch"`
	CurrentTask    string   `json:"current_task,omitempty"`
	CompletedTasks []string `json:"completed_tasks"`
	Status         string   `json:"status"`
}

// TaskState is the persisted record of one task.
type TaskState struct {
	Status      string `json:"status"`
	Session     int    `json:"session"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// RunState is the durable snapshot of one orchestration run. It is owned
// exclusively by the coordinator, persisted through Store, and never held
// for write by two processes at once (the lock file enforces this).
type RunState struct {
	Version         string               `json:"version"`
	SpecID          string               `json:"spec_id"`
	AgentType       string               `json:"agent_type"`
	SessionCount    int                  `json:"session_count"`
	BaseBranch      string               `json:"base_branch"`
	StartedAt       string               `json:"started_at"`
	UpdatedAt       string               `json:"updated_at"`
	CurrentPhase    string               `json:"current_phase"`
	CompletedPhases []string             `json:"completed_phases"`
	Sessions        []SessionState       `json:"sessions"`
	Tasks           map[string]TaskState `json:"tasks"`
	MergeStatus     string               `json:"merge_status,omitempty"`
}

// Now returns the current time in the persisted timestamp format.
func Now() string {
	return time.Now().UTC().Format(Timestamp)
}
