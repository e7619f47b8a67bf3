package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aristath/conductor/internal/scheduler"
)

// CodexAgent prepares workspaces for Codex CLI sessions. Guidance is
// written to AGENTS.md.
type CodexAgent struct{}

func (a *CodexAgent) Kind() string { return "codex" }

func (a *CodexAgent) ContextFilePath(wsPath string) string {
	return filepath.Join(wsPath, "AGENTS.md")
}

func (a *CodexAgent) SetupSession(wsPath string, tasks []*scheduler.Task) error {
	path := a.ContextFilePath(wsPath)
	if err := os.WriteFile(path, []byte(buildBriefing(tasks)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (a *CodexAgent) NotifyUser(w io.Writer, session int, wsPath string, tasks []*scheduler.Task) error {
	return writeLaunchNotice(w, session, wsPath, "codex", tasks)
}

func (a *CodexAgent) FilesToWatch(wsPath string) []string {
	return []string{a.ContextFilePath(wsPath)}
}
