package tasklist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleDoc = `# user-auth tasks

Some context about the feature.

### User model

- [x] [T001] Create user model
  Define the users table and the model around it.
  - files: models/user.py

### Endpoints

- [ ] [T002] Registration endpoint
  - depends: T001
  - parallel
  - files: api/register.py, shared.py
- [ ] [T003] Login endpoint
  - depends: T001
  - parallel

### Wrap-up

- [ ] [T004] Integration tests
  - depends: T002, T003
`

func TestParse(t *testing.T) {
	tasks, err := Parse(sampleDoc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("got %d tasks, want 4", len(tasks))
	}

	t1 := tasks[0]
	if t1.ID != "T001" || t1.Name != "Create user model" {
		t.Errorf("task 1 = %+v", t1)
	}
	if !t1.Completed {
		t.Error("T001 checkbox [x] not parsed as completed")
	}
	if t1.Story != "User model" {
		t.Errorf("T001 story = %q", t1.Story)
	}
	if t1.Description != "Define the users table and the model around it." {
		t.Errorf("T001 description = %q", t1.Description)
	}
	if !reflect.DeepEqual(t1.Files, []string{"models/user.py"}) {
		t.Errorf("T001 files = %v", t1.Files)
	}

	t2 := tasks[1]
	if t2.Completed {
		t.Error("T002 parsed as completed")
	}
	if !t2.Parallel {
		t.Error("T002 parallel annotation not parsed")
	}
	if !reflect.DeepEqual(t2.DependsOn, []string{"T001"}) {
		t.Errorf("T002 depends = %v", t2.DependsOn)
	}
	if !reflect.DeepEqual(t2.Files, []string{"api/register.py", "shared.py"}) {
		t.Errorf("T002 files = %v", t2.Files)
	}
	if t2.Story != "Endpoints" {
		t.Errorf("T002 story = %q", t2.Story)
	}

	t4 := tasks[3]
	if !reflect.DeepEqual(t4.DependsOn, []string{"T002", "T003"}) {
		t.Errorf("T004 depends = %v", t4.DependsOn)
	}
	if t4.Parallel {
		t.Error("T004 parsed as parallel")
	}
}

func TestParseDuplicateID(t *testing.T) {
	_, err := Parse("- [ ] [T001] one\n- [ ] [T001] again\n")
	if err == nil {
		t.Fatal("duplicate ID accepted")
	}
}

func TestParseIgnoresProse(t *testing.T) {
	tasks, err := Parse("just some text\n\nno tasks here\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks from prose, want 0", len(tasks))
	}
}

func TestParseStarBullets(t *testing.T) {
	tasks, err := Parse("* [X] [T010] star bullet\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Completed || tasks[0].ID != "T010" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.md")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatalf("writing doc: %v", err)
	}

	tasks, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(tasks) != 4 {
		t.Errorf("got %d tasks, want 4", len(tasks))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
