package scheduler

import "fmt"

// PlanVersion tags the serialized plan schema.
const PlanVersion = "1.0"

// PhaseID returns the durable identifier for a phase index ("phase-0").
func PhaseID(index int) string {
	return fmt.Sprintf("phase-%d", index)
}

// PlanTask is the serialized form of one scheduled task.
type PlanTask struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Parallel  bool     `json:"parallel"`
	DependsOn []string `json:"depends_on,omitempty"`
	Session   int      `json:"session"`
}

// PlanPhase is one phase of the serialized execution plan.
type PlanPhase struct {
	ID    string     `json:"id"`
	Tasks []PlanTask `json:"tasks"`
}

// ExecutionPlan is the serialized form of a scheduled graph: version tag,
// spec ID, session count, and the ordered phase list.
type ExecutionPlan struct {
	Version  string      `json:"version"`
	SpecID   string      `json:"spec_id"`
	Sessions int         `json:"sessions"`
	Phases   []PlanPhase `json:"phases"`
}

// Plan produces the serialized execution plan for the graph. Call after
// AssignSessions; unscheduled tasks serialize with session 0.
func (g *Graph) Plan(specID string, numSessions int) *ExecutionPlan {
	g.mu.RLock()
	defer g.mu.RUnlock()

	plan := &ExecutionPlan{
		Version:  PlanVersion,
		SpecID:   specID,
		Sessions: numSessions,
	}

	for i, phase := range g.phasesLocked() {
		pp := PlanPhase{ID: PhaseID(i)}
		for _, id := range phase {
			task := g.tasks[id]
			session := 0
			if task.Session != nil {
				session = *task.Session
			}
			pp.Tasks = append(pp.Tasks, PlanTask{
				ID:        task.ID,
				Name:      task.Name,
				Parallel:  task.Parallel,
				DependsOn: append([]string(nil), task.DependsOn...),
				Session:   session,
			})
		}
		plan.Phases = append(plan.Phases, pp)
	}
	return plan
}
