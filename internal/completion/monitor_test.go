package completion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	return NewMonitor(filepath.Join(t.TempDir(), "completions", "user-auth"))
}

func TestMarkCompleteIdempotent(t *testing.T) {
	m := newTestMonitor(t)

	if err := m.MarkComplete("T001"); err != nil {
		t.Fatalf("first MarkComplete failed: %v", err)
	}
	if err := m.MarkComplete("T001"); err != nil {
		t.Fatalf("second MarkComplete failed: %v", err)
	}

	done, err := m.ManualCompletions()
	if err != nil {
		t.Fatalf("ManualCompletions failed: %v", err)
	}
	if len(done) != 1 || !done["T001"] {
		t.Errorf("ManualCompletions = %v, want {T001}", done)
	}
	if !m.IsComplete("T001") {
		t.Error("IsComplete(T001) = false after marking")
	}
	if m.IsComplete("T002") {
		t.Error("IsComplete(T002) = true, never marked")
	}
}

func TestMarkCompleteConcurrent(t *testing.T) {
	m := newTestMonitor(t)

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("T%d%02d", g, i)
				if err := m.MarkComplete(id); err != nil {
					errCh <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent MarkComplete failed: %v", err)
	}

	done, err := m.ManualCompletions()
	if err != nil {
		t.Fatalf("ManualCompletions failed: %v", err)
	}
	if len(done) != 50 {
		t.Errorf("got %d markers, want 50", len(done))
	}
}

func TestManualCompletionsMissingDir(t *testing.T) {
	m := NewMonitor(filepath.Join(t.TempDir(), "never-created"))

	done, err := m.ManualCompletions()
	if err != nil {
		t.Fatalf("ManualCompletions failed: %v", err)
	}
	if len(done) != 0 {
		t.Errorf("ManualCompletions = %v, want empty set", done)
	}
}

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name: "completed and pending checkboxes",
			content: `# Tasks
- [x] Set up project scaffolding [T001]
- [ ] Implement login endpoint [T002]
- [X] Add session middleware [T003]
`,
			want: []string{"T001", "T003"},
		},
		{
			name:    "asterisk list items",
			content: "* [x] First [T001]\n* [ ] Second [T002]\n",
			want:    []string{"T001"},
		},
		{
			name:    "checkbox without bracketed id is ignored",
			content: "- [x] Orphan task with no id\n",
			want:    nil,
		},
		{
			name:    "indented checkbox",
			content: "  - [x] Nested [T007]\n",
			want:    []string{"T007"},
		},
		{
			name:    "empty document",
			content: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDocument(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseDocument = %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("ParseDocument missing %q: %v", id, got)
				}
			}
		})
	}
}

func TestCompletedTasksUnion(t *testing.T) {
	m := newTestMonitor(t)
	if err := m.MarkComplete("T001"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	doc := filepath.Join(t.TempDir(), "tasks.md")
	content := "- [x] Done via document [T002]\n- [ ] Not done [T003]\n"
	if err := os.WriteFile(doc, []byte(content), 0o644); err != nil {
		t.Fatalf("writing document: %v", err)
	}

	done, err := m.CompletedTasks(doc)
	if err != nil {
		t.Fatalf("CompletedTasks failed: %v", err)
	}
	if !done["T001"] || !done["T002"] || done["T003"] {
		t.Errorf("CompletedTasks = %v, want {T001, T002}", done)
	}

	// Missing document contributes the empty set, not an error.
	done, err = m.CompletedTasks(filepath.Join(t.TempDir(), "missing.md"))
	if err != nil {
		t.Fatalf("CompletedTasks with missing doc failed: %v", err)
	}
	if !done["T001"] || len(done) != 1 {
		t.Errorf("CompletedTasks = %v, want {T001}", done)
	}
}

func TestWaitForCompletion(t *testing.T) {
	t.Run("empty request returns immediately", func(t *testing.T) {
		m := newTestMonitor(t)
		start := time.Now()
		got, err := m.WaitForCompletion(context.Background(), nil, "", time.Minute, time.Minute)
		if err != nil {
			t.Fatalf("WaitForCompletion failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %v, want empty set", got)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Error("empty wait slept")
		}
	})

	t.Run("already satisfied returns immediately", func(t *testing.T) {
		m := newTestMonitor(t)
		if err := m.MarkComplete("T001"); err != nil {
			t.Fatalf("MarkComplete failed: %v", err)
		}
		start := time.Now()
		got, err := m.WaitForCompletion(context.Background(), []string{"T001"}, "", time.Minute, time.Minute)
		if err != nil {
			t.Fatalf("WaitForCompletion failed: %v", err)
		}
		if !got["T001"] {
			t.Errorf("got %v, want {T001}", got)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Error("satisfied wait slept")
		}
	})

	t.Run("timeout names pending and completed", func(t *testing.T) {
		m := newTestMonitor(t)
		if err := m.MarkComplete("T001"); err != nil {
			t.Fatalf("MarkComplete failed: %v", err)
		}

		_, err := m.WaitForCompletion(context.Background(), []string{"T001", "T999"}, "", 200*time.Millisecond, 50*time.Millisecond)
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("expected *TimeoutError, got %v", err)
		}
		if len(timeoutErr.Pending) != 1 || timeoutErr.Pending[0] != "T999" {
			t.Errorf("Pending = %v, want [T999]", timeoutErr.Pending)
		}
		if len(timeoutErr.Completed) != 1 || timeoutErr.Completed[0] != "T001" {
			t.Errorf("Completed = %v, want [T001]", timeoutErr.Completed)
		}
	})

	t.Run("observes marker created during the wait", func(t *testing.T) {
		m := newTestMonitor(t)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = m.MarkComplete("T004")
		}()

		got, err := m.WaitForCompletion(context.Background(), []string{"T004"}, "", 5*time.Second, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("WaitForCompletion failed: %v", err)
		}
		if !got["T004"] {
			t.Errorf("got %v, want {T004}", got)
		}
	})

	t.Run("context cancellation unwinds the wait", func(t *testing.T) {
		m := newTestMonitor(t)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		_, err := m.WaitForCompletion(ctx, []string{"T999"}, "", 0, 10*time.Millisecond)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	})
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "tasks.md")
	if err := os.WriteFile(doc, []byte("- [x] First [T001]\n"), 0o644); err != nil {
		t.Fatalf("writing document: %v", err)
	}

	w, err := Watch(doc)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Stop()

	// Initial parse arrives without any filesystem event.
	waitForSet(t, w, "T001")

	// A document change delivers the freshly parsed set.
	content := "- [x] First [T001]\n- [x] Second [T002]\n"
	if err := os.WriteFile(doc, []byte(content), 0o644); err != nil {
		t.Fatalf("updating document: %v", err)
	}
	waitForSet(t, w, "T001", "T002")
}

func TestWatchDocumentAppearsLater(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "tasks.md")

	w, err := Watch(doc)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Stop()

	// Initial parse of the missing document is the empty set.
	select {
	case set, ok := <-w.Updates():
		if !ok {
			t.Fatal("updates channel closed")
		}
		if len(set) != 0 {
			t.Errorf("initial set = %v, want empty", set)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial update")
	}

	if err := os.WriteFile(doc, []byte("- [x] Late [T009]\n"), 0o644); err != nil {
		t.Fatalf("creating document: %v", err)
	}
	waitForSet(t, w, "T009")
}

// waitForSet reads updates until one contains every wanted ID.
func waitForSet(t *testing.T, w *Watcher, want ...string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case set, ok := <-w.Updates():
			if !ok {
				t.Fatal("updates channel closed")
			}
			all := true
			for _, id := range want {
				if !set[id] {
					all = false
				}
			}
			if all {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for set containing %v", want)
		}
	}
}
