package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aristath/conductor/internal/scheduler"
)

// GooseAgent prepares workspaces for Goose sessions. Guidance is written
// to .goosehints, which Goose loads as workspace context.
type GooseAgent struct{}

func (a *GooseAgent) Kind() string { return "goose" }

func (a *GooseAgent) ContextFilePath(wsPath string) string {
	return filepath.Join(wsPath, ".goosehints")
}

func (a *GooseAgent) SetupSession(wsPath string, tasks []*scheduler.Task) error {
	path := a.ContextFilePath(wsPath)
	if err := os.WriteFile(path, []byte(buildBriefing(tasks)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (a *GooseAgent) NotifyUser(w io.Writer, session int, wsPath string, tasks []*scheduler.Task) error {
	return writeLaunchNotice(w, session, wsPath, "goose session", tasks)
}

func (a *GooseAgent) FilesToWatch(wsPath string) []string {
	return []string{a.ContextFilePath(wsPath)}
}
