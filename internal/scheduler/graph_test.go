package scheduler

import (
	"errors"
	"testing"
)

func task(id string, parallel bool, deps ...string) *Task {
	return &Task{ID: id, Name: "Task " + id, Parallel: parallel, DependsOn: deps}
}

// mustBuild builds a graph and fails the test on error.
func mustBuild(t *testing.T, tasks ...*Task) *Graph {
	t.Helper()
	g, err := BuildGraph(tasks)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	return g
}

func TestBuildGraph(t *testing.T) {
	tests := []struct {
		name      string
		tasks     []*Task
		wantCycle []string
	}{
		{
			name:  "valid linear chain",
			tasks: []*Task{task("A", false), task("B", false, "A"), task("C", false, "B")},
		},
		{
			name:  "valid diamond",
			tasks: []*Task{task("A", false), task("B", true, "A"), task("C", true, "A"), task("D", false, "B", "C")},
		},
		{
			name:  "empty task set",
			tasks: nil,
		},
		{
			name:      "direct cycle",
			tasks:     []*Task{task("A", false, "B"), task("B", false, "A")},
			wantCycle: []string{"A", "B", "A"},
		},
		{
			name:      "indirect cycle",
			tasks:     []*Task{task("A", false, "C"), task("B", false, "A"), task("C", false, "B")},
			wantCycle: []string{"A", "C", "B", "A"},
		},
		{
			name:      "self loop",
			tasks:     []*Task{task("A", false, "A")},
			wantCycle: []string{"A", "A"},
		},
		{
			name: "unknown dependency is dropped, not an error",
			tasks: []*Task{
				task("A", false, "nonexistent"),
				task("B", false, "A"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGraph(tt.tasks)

			if tt.wantCycle == nil {
				if err != nil {
					t.Fatalf("BuildGraph failed: %v", err)
				}
				if !g.Validate() {
					t.Error("Validate() = false for acyclic graph")
				}
				return
			}

			if err == nil {
				t.Fatal("expected cycle error, got nil")
			}
			if g != nil {
				t.Error("expected nil graph on cycle error")
			}
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected *CycleError, got %T: %v", err, err)
			}
			assertWalkableCycle(t, tt.tasks, cycleErr.Cycle)
		})
	}
}

// assertWalkableCycle verifies the reported cycle returns to its start
// when walked edge by edge through the declared dependencies.
func assertWalkableCycle(t *testing.T, tasks []*Task, cycle []string) {
	t.Helper()

	if len(cycle) < 2 {
		t.Fatalf("cycle too short: %v", cycle)
	}
	if cycle[0] != cycle[len(cycle)-1] {
		t.Fatalf("cycle does not return to start: %v", cycle)
	}

	depsOf := map[string][]string{}
	for _, tk := range tasks {
		depsOf[tk.ID] = tk.DependsOn
	}
	for i := 0; i < len(cycle)-1; i++ {
		from, to := cycle[i], cycle[i+1]
		found := false
		for _, dep := range depsOf[from] {
			if dep == to {
				found = true
			}
		}
		if !found {
			t.Errorf("no dependency edge %q -> %q in reported cycle %v", from, to, cycle)
		}
	}
}

func TestPhases(t *testing.T) {
	g := mustBuild(t,
		task("T001", false),
		task("T002", true, "T001"),
		task("T003", true, "T001"),
		task("T004", false, "T002", "T003"),
	)

	phases := g.Phases()
	want := [][]string{{"T001"}, {"T002", "T003"}, {"T004"}}

	if len(phases) != len(want) {
		t.Fatalf("got %d phases, want %d: %v", len(phases), len(want), phases)
	}
	for i := range want {
		if len(phases[i]) != len(want[i]) {
			t.Fatalf("phase %d = %v, want %v", i, phases[i], want[i])
		}
		for j := range want[i] {
			if phases[i][j] != want[i][j] {
				t.Errorf("phase %d = %v, want %v", i, phases[i], want[i])
			}
		}
	}
}

// TestPhasesPartition checks the structural property: every task lands in
// exactly one phase, strictly after all of its dependencies.
func TestPhasesPartition(t *testing.T) {
	g := mustBuild(t,
		task("A", false),
		task("B", true, "A"),
		task("C", true, "A"),
		task("D", false, "B"),
		task("E", false, "B", "C"),
		task("F", false, "D", "E"),
	)

	phases := g.Phases()
	phaseOf := map[string]int{}
	total := 0
	for i, phase := range phases {
		for _, id := range phase {
			if _, seen := phaseOf[id]; seen {
				t.Errorf("task %q appears in more than one phase", id)
			}
			phaseOf[id] = i
			total++
		}
	}
	if total != g.Len() {
		t.Errorf("phases contain %d tasks, graph has %d", total, g.Len())
	}

	for _, tk := range g.Tasks() {
		for _, dep := range tk.DependsOn {
			if phaseOf[tk.ID] <= phaseOf[dep] {
				t.Errorf("task %q (phase %d) not strictly after dependency %q (phase %d)",
					tk.ID, phaseOf[tk.ID], dep, phaseOf[dep])
			}
		}
	}
}

func TestCriticalPath(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		want  []string
	}{
		{
			name:  "empty graph",
			tasks: nil,
			want:  nil,
		},
		{
			name:  "linear chain",
			tasks: []*Task{task("A", false), task("B", false, "A"), task("C", false, "B")},
			want:  []string{"A", "B", "C"},
		},
		{
			name: "diamond picks lexicographic branch",
			tasks: []*Task{
				task("A", false),
				task("B", true, "A"),
				task("C", true, "A"),
				task("D", false, "B", "C"),
			},
			want: []string{"A", "B", "D"},
		},
		{
			name: "longer branch wins over shorter",
			tasks: []*Task{
				task("A", false),
				task("B", false, "A"),
				task("C", false, "B"),
				task("Z", false, "A"),
			},
			want: []string{"A", "B", "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustBuild(t, tt.tasks...)
			got := g.CriticalPath()
			if len(got) != len(tt.want) {
				t.Fatalf("CriticalPath() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("CriticalPath() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestAssignSessions(t *testing.T) {
	t.Run("rejects zero sessions", func(t *testing.T) {
		g := mustBuild(t, task("A", false))
		if err := g.AssignSessions(0); err == nil {
			t.Error("expected error for numSessions = 0")
		}
	})

	t.Run("spec example with two sessions", func(t *testing.T) {
		g := mustBuild(t,
			task("T001", false),
			task("T002", true, "T001"),
			task("T003", true, "T001"),
			task("T004", false, "T002", "T003"),
		)
		if err := g.AssignSessions(2); err != nil {
			t.Fatalf("AssignSessions failed: %v", err)
		}

		want := map[string]int{"T001": 0, "T002": 0, "T003": 1, "T004": 0}
		for id, session := range want {
			tk, _ := g.Get(id)
			if tk.Session == nil || *tk.Session != session {
				t.Errorf("task %q assigned %v, want session %d", id, tk.Session, session)
			}
		}

		if path := g.CriticalPath(); len(path) != 3 {
			t.Errorf("critical path length = %d, want 3", len(path))
		}
	})

	t.Run("mixed phase pins everything to session 0", func(t *testing.T) {
		g := mustBuild(t,
			task("A", false),
			task("B", true, "A"),
			task("C", false, "A"), // not parallel-eligible
			task("D", true, "A"),
		)
		if err := g.AssignSessions(3); err != nil {
			t.Fatalf("AssignSessions failed: %v", err)
		}
		for _, id := range []string{"B", "C", "D"} {
			tk, _ := g.Get(id)
			if *tk.Session != 0 {
				t.Errorf("task %q assigned session %d, want 0", id, *tk.Session)
			}
		}
	})

	t.Run("round robin distributes evenly", func(t *testing.T) {
		tasks := []*Task{task("R", false)}
		ids := []string{"T01", "T02", "T03", "T04", "T05", "T06", "T07"}
		for _, id := range ids {
			tasks = append(tasks, task(id, true, "R"))
		}
		g := mustBuild(t, tasks...)
		if err := g.AssignSessions(3); err != nil {
			t.Fatalf("AssignSessions failed: %v", err)
		}

		// 7 tasks over 3 sessions: buckets of ceil(7/3)=3 or floor(7/3)=2.
		counts := map[int]int{}
		for _, id := range ids {
			tk, _ := g.Get(id)
			counts[*tk.Session]++
		}
		for session, n := range counts {
			if n < 2 || n > 3 {
				t.Errorf("session %d holds %d tasks, want 2 or 3", session, n)
			}
		}

		// Mapping follows lexicographic order: T01->0, T02->1, T03->2, T04->0, ...
		for i, id := range ids {
			tk, _ := g.Get(id)
			if *tk.Session != i%3 {
				t.Errorf("task %q assigned session %d, want %d", id, *tk.Session, i%3)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		g := mustBuild(t,
			task("A", false),
			task("B", true, "A"),
			task("C", true, "A"),
			task("D", true, "A"),
		)
		if err := g.AssignSessions(2); err != nil {
			t.Fatalf("first AssignSessions failed: %v", err)
		}
		first := map[string]int{}
		for _, tk := range g.Tasks() {
			first[tk.ID] = *tk.Session
		}

		if err := g.AssignSessions(2); err != nil {
			t.Fatalf("second AssignSessions failed: %v", err)
		}
		for _, tk := range g.Tasks() {
			if *tk.Session != first[tk.ID] {
				t.Errorf("task %q moved from session %d to %d", tk.ID, first[tk.ID], *tk.Session)
			}
		}
	})
}

func TestSessionTasks(t *testing.T) {
	g := mustBuild(t,
		task("T001", false),
		task("T002", true, "T001"),
		task("T003", true, "T001"),
		task("T004", false, "T002", "T003"),
	)
	if err := g.AssignSessions(2); err != nil {
		t.Fatalf("AssignSessions failed: %v", err)
	}

	s0 := g.SessionTasks(0)
	wantS0 := []string{"T001", "T002", "T004"}
	if len(s0) != len(wantS0) {
		t.Fatalf("session 0 has %d tasks, want %d", len(s0), len(wantS0))
	}
	for i, tk := range s0 {
		if tk.ID != wantS0[i] {
			t.Errorf("session 0 task %d = %q, want %q", i, tk.ID, wantS0[i])
		}
	}

	s1 := g.SessionTasks(1)
	if len(s1) != 1 || s1[0].ID != "T003" {
		t.Errorf("session 1 tasks = %v, want [T003]", s1)
	}

	// Dependencies in the same session precede their dependents.
	seen := map[string]bool{}
	for _, tk := range s0 {
		for _, dep := range tk.DependsOn {
			if d, ok := g.Get(dep); ok && d.Session != nil && *d.Session == 0 && !seen[dep] {
				t.Errorf("task %q listed before same-session dependency %q", tk.ID, dep)
			}
		}
		seen[tk.ID] = true
	}
}

func TestPlan(t *testing.T) {
	g := mustBuild(t,
		task("T001", false),
		task("T002", true, "T001"),
		task("T003", true, "T001"),
	)
	if err := g.AssignSessions(2); err != nil {
		t.Fatalf("AssignSessions failed: %v", err)
	}

	plan := g.Plan("user-auth", 2)
	if plan.Version != PlanVersion {
		t.Errorf("plan version = %q, want %q", plan.Version, PlanVersion)
	}
	if plan.SpecID != "user-auth" || plan.Sessions != 2 {
		t.Errorf("plan header = %q/%d, want user-auth/2", plan.SpecID, plan.Sessions)
	}
	if len(plan.Phases) != 2 {
		t.Fatalf("plan has %d phases, want 2", len(plan.Phases))
	}
	if plan.Phases[0].ID != "phase-0" || plan.Phases[1].ID != "phase-1" {
		t.Errorf("phase IDs = %q, %q", plan.Phases[0].ID, plan.Phases[1].ID)
	}
	if plan.Phases[1].Tasks[1].Session != 1 {
		t.Errorf("T003 serialized with session %d, want 1", plan.Phases[1].Tasks[1].Session)
	}
}

func TestOrderTopological(t *testing.T) {
	g := mustBuild(t,
		task("A", false),
		task("B", false, "A"),
		task("C", false, "A"),
		task("D", false, "B", "C"),
	)

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order has %d entries, want 4", len(order))
	}

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, tk := range g.Tasks() {
		for _, dep := range tk.DependsOn {
			if pos[dep] > pos[tk.ID] {
				t.Errorf("dependency %q appears after %q in order %v", dep, tk.ID, order)
			}
		}
	}
}
