package scheduler

// Task represents a unit of work parsed from the task document.
// Tasks are created by the task-list front-end; the graph assigns the
// session and the coordinator flips the completion flag. Nothing else
// mutates them.
type Task struct {
	ID          string   // Unique identifier (e.g., "T001")
	Name        string   // Human-readable name
	Description string   // Free-text description
	DependsOn   []string // Task IDs this task depends on
	Parallel    bool     // Eligible for round-robin session assignment
	Story       string   // Optional grouping tag
	Files       []string // File paths this task references
	Completed   bool
	Session     *int // Assigned session index, nil until scheduled
}

// cloneTask returns a deep copy so callers cannot mutate graph state.
func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Files != nil {
		cp.Files = append([]string(nil), task.Files...)
	}
	if task.Session != nil {
		s := *task.Session
		cp.Session = &s
	}
	return &cp
}
