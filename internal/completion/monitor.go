// Package completion detects task completion from two independent
// signals: durable marker files written by sessions and checkbox lines in
// the externally-owned task document. Either signal alone marks a task
// done; the monitor unions them.
package completion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Monitor tracks task completion for one specification.
type Monitor struct {
	markerDir string
}

// NewMonitor creates a monitor over the given per-spec marker directory.
// The directory is created lazily on the first MarkComplete.
func NewMonitor(markerDir string) *Monitor {
	return &Monitor{markerDir: markerDir}
}

// MarkComplete records a task as done by creating an empty marker file
// named after the task ID. Markers are idempotent: concurrent callers
// marking the same ID race on an O_EXCL create and the loser's EEXIST is
// success. Directory-entry creation is serialized by the filesystem, so
// no additional locking is needed.
func (m *Monitor) MarkComplete(taskID string) error {
	if err := os.MkdirAll(m.markerDir, 0o755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}

	path := filepath.Join(m.markerDir, taskID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("creating marker for %s: %w", taskID, err)
	}
	return f.Close()
}

// IsComplete reports whether a marker exists for the task.
func (m *Monitor) IsComplete(taskID string) bool {
	_, err := os.Stat(filepath.Join(m.markerDir, taskID))
	return err == nil
}

// ManualCompletions returns the set of task IDs with markers. A missing
// marker directory contributes the empty set, not an error.
func (m *Monitor) ManualCompletions() (map[string]bool, error) {
	entries, err := os.ReadDir(m.markerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("reading marker directory: %w", err)
	}

	done := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			done[e.Name()] = true
		}
	}
	return done, nil
}

// CompletedTasks returns the union of manual completions and, when a
// document path is given and the file exists, the IDs parsed from its
// completed checkbox lines. A missing document contributes the empty set.
func (m *Monitor) CompletedTasks(docPath string) (map[string]bool, error) {
	done, err := m.ManualCompletions()
	if err != nil {
		return nil, err
	}

	if docPath == "" {
		return done, nil
	}

	data, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return done, nil
		}
		return nil, fmt.Errorf("reading task document: %w", err)
	}

	for id := range ParseDocument(string(data)) {
		done[id] = true
	}
	return done, nil
}

// TimeoutError reports a completion wait that elapsed with tasks still
// pending. Both the pending and already-completed ID sets are carried so
// callers can act on them, not just the message.
type TimeoutError struct {
	Pending   []string
	Completed []string
	Waited    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for tasks: pending [%s], completed [%s]",
		e.Waited, strings.Join(e.Pending, ", "), strings.Join(e.Completed, ", "))
}

// WaitForCompletion blocks until every requested task ID is complete, the
// timeout elapses, or the context is cancelled. An empty request set and
// an already-satisfied set both return immediately with no sleep. A
// timeout <= 0 means wait indefinitely (human-paced work). On timeout the
// returned error is a *TimeoutError naming both the still-pending and the
// already-satisfied IDs.
func (m *Monitor) WaitForCompletion(ctx context.Context, taskIDs []string, docPath string, timeout, pollInterval time.Duration) (map[string]bool, error) {
	if len(taskIDs) == 0 {
		return map[string]bool{}, nil
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	check := func() (map[string]bool, []string, error) {
		done, err := m.CompletedTasks(docPath)
		if err != nil {
			return nil, nil, err
		}
		satisfied := make(map[string]bool, len(taskIDs))
		var pending []string
		for _, id := range taskIDs {
			if done[id] {
				satisfied[id] = true
			} else {
				pending = append(pending, id)
			}
		}
		return satisfied, pending, nil
	}

	satisfied, pending, err := check()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return satisfied, nil
	}

	start := time.Now()
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return satisfied, ctx.Err()
		case <-deadline:
			return satisfied, &TimeoutError{
				Pending:   sorted(pending),
				Completed: keys(satisfied),
				Waited:    time.Since(start).Round(time.Millisecond),
			}
		case <-ticker.C:
			satisfied, pending, err = check()
			if err != nil {
				return nil, err
			}
			if len(pending) == 0 {
				return satisfied, nil
			}
		}
	}
}

func sorted(ids []string) []string {
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	return cp
}

func keys(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
