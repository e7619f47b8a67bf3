package events

import "time"

// Event is the base interface for all events.
type Event interface {
	EventType() string
}

// Topic constants
const (
	TopicOrchestration = "orchestration"
	TopicMerge         = "merge"
)

// Event type constants
const (
	EventTypePhaseStarted   = "phase.started"
	EventTypePhaseCompleted = "phase.completed"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeSessionReady   = "session.ready"
	EventTypeInterrupted    = "run.interrupted"
	EventTypeRunCompleted   = "run.completed"
	EventTypeMergeFinished  = "merge.finished"
)

// PhaseStartedEvent is published when the coordinator enters a phase.
type PhaseStartedEvent struct {
	Phase     string
	TaskIDs   []string
	Timestamp time.Time
}

func (e PhaseStartedEvent) EventType() string { return EventTypePhaseStarted }

// PhaseCompletedEvent is published after a phase's checkpoint is durable.
type PhaseCompletedEvent struct {
	Phase     string
	Timestamp time.Time
}

func (e PhaseCompletedEvent) EventType() string { return EventTypePhaseCompleted }

// TaskCompletedEvent is published when a task is observed complete.
type TaskCompletedEvent struct {
	ID        string
	Session   int
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }

// SessionReadyEvent is published when a session's workspace is prepared.
type SessionReadyEvent struct {
	Session       int
	WorkspacePath string
	Branch        string
	Timestamp     time.Time
}

func (e SessionReadyEvent) EventType() string { return EventTypeSessionReady }

// InterruptedEvent is published when a run is interrupted; state has
// already been saved when subscribers see it.
type InterruptedEvent struct {
	Phase     string
	Timestamp time.Time
}

func (e InterruptedEvent) EventType() string { return EventTypeInterrupted }

// RunCompletedEvent is published after the final phase checkpoint.
type RunCompletedEvent struct {
	SpecID    string
	Phases    int
	Timestamp time.Time
}

func (e RunCompletedEvent) EventType() string { return EventTypeRunCompleted }

// MergeFinishedEvent is published after a sequential merge attempt.
type MergeFinishedEvent struct {
	Success         bool
	MergedSessions  []int
	ConflictSession int
	ConflictFiles   []string
	Timestamp       time.Time
}

func (e MergeFinishedEvent) EventType() string { return EventTypeMergeFinished }
