package agent

import (
	"fmt"
	"io"

	"github.com/aristath/conductor/internal/scheduler"
)

// Agent prepares a session workspace for one kind of coding agent and
// tells the user how to launch it there. The orchestrator never spawns
// the agent process itself.
type Agent interface {
	// Kind returns the agent identifier used in configuration.
	Kind() string

	// SetupSession writes the agent's guidance file into the workspace
	// with the session's task briefing.
	SetupSession(wsPath string, tasks []*scheduler.Task) error

	// NotifyUser writes launch instructions for the session to w.
	NotifyUser(w io.Writer, session int, wsPath string, tasks []*scheduler.Task) error

	// ContextFilePath returns the path of the guidance file SetupSession
	// writes for the given workspace.
	ContextFilePath(wsPath string) string

	// FilesToWatch returns workspace files whose modification suggests
	// the agent is active.
	FilesToWatch(wsPath string) []string
}

// New creates an agent adapter for the given kind.
func New(kind string) (Agent, error) {
	switch kind {
	case "claude":
		return &ClaudeAgent{}, nil
	case "codex":
		return &CodexAgent{}, nil
	case "goose":
		return &GooseAgent{}, nil
	default:
		return nil, fmt.Errorf("unknown agent kind: %s", kind)
	}
}
