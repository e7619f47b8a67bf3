// Package status renders orchestration progress as plain text. Every
// renderer writes to an explicit io.Writer handed to it; nothing in this
// package touches global output state.
package status

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/state"
)

// Renderer prints event lines to a writer as they arrive.
type Renderer struct {
	w io.Writer
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Consume prints a line per event until the channel closes.
func (r *Renderer) Consume(ch <-chan events.Event) {
	for ev := range ch {
		r.Render(ev)
	}
}

// Render prints one event. Unknown event types print their type name.
func (r *Renderer) Render(ev events.Event) {
	switch e := ev.(type) {
	case events.SessionReadyEvent:
		fmt.Fprintf(r.w, "session %d ready on %s (%s)\n", e.Session, e.Branch, e.WorkspacePath)
	case events.PhaseStartedEvent:
		fmt.Fprintf(r.w, "%s started: %s\n", e.Phase, strings.Join(e.TaskIDs, ", "))
	case events.TaskCompletedEvent:
		fmt.Fprintf(r.w, "  [x] %s (session %d)\n", e.ID, e.Session)
	case events.PhaseCompletedEvent:
		fmt.Fprintf(r.w, "%s complete\n", e.Phase)
	case events.InterruptedEvent:
		fmt.Fprintf(r.w, "interrupted during %s; state saved, resume with `conductor run`\n", e.Phase)
	case events.RunCompletedEvent:
		fmt.Fprintf(r.w, "run complete: %s (%d phases)\n", e.SpecID, e.Phases)
	case events.MergeFinishedEvent:
		if e.Success {
			fmt.Fprintf(r.w, "merge complete: sessions %s\n", joinInts(e.MergedSessions))
		} else {
			fmt.Fprintf(r.w, "merge conflict in session %d: %s (rolled back)\n", e.ConflictSession, strings.Join(e.ConflictFiles, ", "))
		}
	default:
		fmt.Fprintf(r.w, "%s\n", ev.EventType())
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}

// WriteState prints a snapshot of a persisted run, for the status verb.
func WriteState(w io.Writer, st *state.RunState) {
	fmt.Fprintf(w, "spec: %s\n", st.SpecID)
	fmt.Fprintf(w, "agent: %s, sessions: %d, base: %s\n", st.AgentType, st.SessionCount, st.BaseBranch)
	if st.CurrentPhase != "" {
		fmt.Fprintf(w, "current phase: %s\n", st.CurrentPhase)
	}
	fmt.Fprintf(w, "completed phases: %d\n", len(st.CompletedPhases))
	if st.MergeStatus != state.MergeNone {
		fmt.Fprintf(w, "merge: %s\n", st.MergeStatus)
	}

	for _, s := range st.Sessions {
		fmt.Fprintf(w, "session %d [%s] %s", s.ID, s.Status, s.Branch)
		if s.CurrentTask != "" {
			fmt.Fprintf(w, " working on %s", s.CurrentTask)
		}
		fmt.Fprintf(w, " (%d done)\n", len(s.CompletedTasks))
	}

	ids := make([]string, 0, len(st.Tasks))
	for id := range st.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ts := st.Tasks[id]
		mark := " "
		if ts.Status == state.StatusCompleted {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %s (%s, session %d)\n", mark, id, ts.Status, ts.Session)
	}
}
