package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gammazero/toposort"
)

// Graph is a directed acyclic graph of tasks. An edge dep -> task means
// the task depends on dep. Graphs returned by BuildGraph are acyclic;
// they are built fresh from a task set and the edge structure is never
// mutated afterwards.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	deps       map[string][]string // taskID -> dependency IDs known to exist
	dependents map[string][]string // taskID -> tasks that depend on it
}

// BuildGraph constructs a graph from the task set. A dependency that
// references an unknown task ID is dropped as an edge (with a warning)
// rather than rejected; this mirrors the lenient front-end the task
// document parser provides. Returns *CycleError if the task set contains
// a dependency cycle.
func BuildGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*Task, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string),
	}

	for _, task := range tasks {
		if _, exists := g.tasks[task.ID]; exists {
			return nil, fmt.Errorf("task with ID %q already exists", task.ID)
		}
		g.tasks[task.ID] = task
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				slog.Warn("dropping unknown dependency",
					"task", task.ID,
					"depends_on", depID,
				)
				continue
			}
			g.deps[task.ID] = append(g.deps[task.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	return g, nil
}

// Validate reports whether the graph is acyclic. An empty graph is valid.
// Runs a full topological sort, the same check BuildGraph enforces.
func (g *Graph) Validate() bool {
	_, err := g.Order()
	return err == nil
}

// Order returns a topological order over all task IDs, or an error if the
// graph contains a cycle.
func (g *Graph) Order() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for taskID := range g.tasks {
		deps := g.deps[taskID]
		if len(deps) == 0 {
			// Ensure root tasks appear in the sort result.
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// findCycle returns the ordered cycle with the starting ID repeated at
// the end, or nil if the graph is acyclic. Task IDs are visited in
// lexicographic order so the reported cycle is deterministic.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(g.tasks))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)

		for _, depID := range sortedCopy(g.deps[id]) {
			switch color[depID] {
			case white:
				if visit(depID) {
					return true
				}
			case gray:
				// Found a back edge; slice out the cycle from the path.
				start := 0
				for i, p := range path {
					if p == depID {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), path[start:]...), depID)
				return true
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range g.sortedIDs() {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// Phases partitions tasks into topological layers. A task's phase index
// is 1 + the maximum phase of its dependencies, or 0 with none. Task IDs
// within each phase are sorted lexicographically.
func (g *Graph) Phases() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.phasesLocked()
}

func (g *Graph) phasesLocked() [][]string {
	levels := g.levelsLocked()

	maxLevel := -1
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	phases := make([][]string, maxLevel+1)
	for _, id := range g.sortedIDs() {
		l := levels[id]
		phases[l] = append(phases[l], id)
	}
	return phases
}

// levelsLocked computes the phase index for every task.
func (g *Graph) levelsLocked() map[string]int {
	levels := make(map[string]int, len(g.tasks))

	var level func(id string) int
	level = func(id string) int {
		if l, ok := levels[id]; ok {
			return l
		}
		l := 0
		for _, depID := range g.deps[id] {
			if dl := level(depID) + 1; dl > l {
				l = dl
			}
		}
		levels[id] = l
		return l
	}

	for id := range g.tasks {
		level(id)
	}
	return levels
}

// CriticalPath returns the longest dependency chain by node count, from a
// root to a leaf. Ties are broken lexicographically on task ID at every
// choice point, so the result is deterministic.
func (g *Graph) CriticalPath() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.tasks) == 0 {
		return nil
	}

	depth := make(map[string]int, len(g.tasks))
	pred := make(map[string]string, len(g.tasks))

	var walk func(id string) int
	walk = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		best, bestPred := 0, ""
		for _, depID := range sortedCopy(g.deps[id]) {
			if d := walk(depID); d > best {
				best, bestPred = d, depID
			}
		}
		depth[id] = best + 1
		pred[id] = bestPred
		return best + 1
	}

	end, endDepth := "", 0
	for _, id := range g.sortedIDs() {
		if d := walk(id); d > endDepth {
			end, endDepth = id, d
		}
	}

	path := make([]string, 0, endDepth)
	for id := end; id != ""; id = pred[id] {
		path = append(path, id)
	}
	// Reverse into root-to-leaf order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// AssignSessions distributes tasks across numSessions sessions, phase by
// phase:
//   - a single-task phase goes to session 0;
//   - a phase where every task is parallel-eligible is round-robined in
//     lexicographic task-ID order (index mod numSessions);
//   - any other phase is pinned entirely to session 0.
//
// Deterministic and idempotent: repeated calls with the same numSessions
// reproduce the same assignment.
func (g *Graph) AssignSessions(numSessions int) error {
	if numSessions < 1 {
		return fmt.Errorf("numSessions must be >= 1, got %d", numSessions)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, phase := range g.phasesLocked() {
		allParallel := true
		for _, id := range phase {
			if !g.tasks[id].Parallel {
				allParallel = false
				break
			}
		}

		switch {
		case len(phase) == 1:
			g.assign(phase[0], 0)
		case allParallel:
			// Phase IDs are already lexicographically sorted.
			for i, id := range phase {
				g.assign(id, i%numSessions)
			}
		default:
			for _, id := range phase {
				g.assign(id, 0)
			}
		}
	}
	return nil
}

func (g *Graph) assign(taskID string, session int) {
	s := session
	g.tasks[taskID].Session = &s
}

// SessionTasks returns the tasks assigned to the given session, ordered
// by (phase, task ID). Dependencies within the same session always come
// first, since they sit in strictly earlier phases.
func (g *Graph) SessionTasks(sessionID int) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var tasks []*Task
	for _, phase := range g.phasesLocked() {
		for _, id := range phase {
			task := g.tasks[id]
			if task.Session != nil && *task.Session == sessionID {
				tasks = append(tasks, cloneTask(task))
			}
		}
	}
	return tasks
}

// MarkCompleted sets the completion flag on a task.
func (g *Graph) MarkCompleted(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	task.Completed = true
	return nil
}

// Get returns a copy of the task with the given ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks, in lexicographic ID order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.tasks))
	for _, id := range g.sortedIDs() {
		tasks = append(tasks, cloneTask(g.tasks[id]))
	}
	return tasks
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedCopy(ids []string) []string {
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	return cp
}
