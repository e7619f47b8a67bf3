package agent

import (
	"fmt"
	"io"
	"strings"

	"github.com/aristath/conductor/internal/scheduler"
)

// buildBriefing renders the markdown task briefing placed in each
// workspace guidance file. All agent kinds share the same briefing; only
// the file name differs.
func buildBriefing(tasks []*scheduler.Task) string {
	var b strings.Builder

	b.WriteString("# Session Briefing\n\n")
	b.WriteString("You are one of several parallel sessions working on the same feature.\n")
	b.WriteString("Work only on the tasks listed below, in order. Stay inside the files\n")
	b.WriteString("each task names where files are given.\n\n")
	b.WriteString("When a task is done, tick its checkbox in the shared tasks document\n")
	b.WriteString("at the repository root and commit your work before moving on.\n\n")
	b.WriteString("## Tasks\n\n")

	for _, task := range tasks {
		fmt.Fprintf(&b, "### [%s] %s\n\n", task.ID, task.Name)
		if task.Story != "" {
			fmt.Fprintf(&b, "Story: %s\n\n", task.Story)
		}
		if task.Description != "" {
			b.WriteString(task.Description)
			b.WriteString("\n\n")
		}
		if len(task.DependsOn) > 0 {
			fmt.Fprintf(&b, "Depends on: %s\n\n", strings.Join(task.DependsOn, ", "))
		}
		if len(task.Files) > 0 {
			fmt.Fprintf(&b, "Files: %s\n\n", strings.Join(task.Files, ", "))
		}
	}

	return b.String()
}

// writeLaunchNotice prints the standard launch instructions for a
// session. command is the shell command that starts the agent in the
// workspace.
func writeLaunchNotice(w io.Writer, session int, wsPath, command string, tasks []*scheduler.Task) error {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}

	_, err := fmt.Fprintf(w, "Session %d ready: %s\n  tasks: %s\n  launch: cd %s && %s\n",
		session, wsPath, strings.Join(ids, ", "), wsPath, command)
	return err
}
