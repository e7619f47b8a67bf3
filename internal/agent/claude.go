package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aristath/conductor/internal/scheduler"
)

// ClaudeAgent prepares workspaces for Claude Code sessions. Guidance is
// written to CLAUDE.md, which the CLI reads on startup.
type ClaudeAgent struct{}

func (a *ClaudeAgent) Kind() string { return "claude" }

func (a *ClaudeAgent) ContextFilePath(wsPath string) string {
	return filepath.Join(wsPath, "CLAUDE.md")
}

func (a *ClaudeAgent) SetupSession(wsPath string, tasks []*scheduler.Task) error {
	path := a.ContextFilePath(wsPath)
	if err := os.WriteFile(path, []byte(buildBriefing(tasks)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (a *ClaudeAgent) NotifyUser(w io.Writer, session int, wsPath string, tasks []*scheduler.Task) error {
	return writeLaunchNotice(w, session, wsPath, "claude", tasks)
}

func (a *ClaudeAgent) FilesToWatch(wsPath string) []string {
	return []string{a.ContextFilePath(wsPath)}
}
