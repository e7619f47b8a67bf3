// Package coordinator drives an orchestration run: it prepares session
// workspaces, walks the dependency graph phase by phase, waits for task
// completions, and keeps the run state durable across interrupts.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/conductor/internal/agent"
	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/journal"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/state"
	"github.com/aristath/conductor/internal/workspace"
)

// Options wires the coordinator's collaborators. SpecID, Graph, Store,
// Recovery, Monitor, Workspaces and Agent are required.
type Options struct {
	SpecID       string
	Graph        *scheduler.Graph
	Sessions     int
	BaseBranch   string
	TasksDoc     string
	PollInterval time.Duration
	KeepPoints   int // checkpoints retained after each phase

	Store      *state.Store
	Recovery   *state.Recovery
	Monitor    *completion.Monitor
	Workspaces workspace.Manager
	Agent      agent.Agent

	Bus     *events.Bus     // optional
	Journal journal.Journal // optional
	Out     io.Writer       // launch notices, optional
	Log     *slog.Logger    // optional
	Retry   RetryConfig     // zero value means defaults
}

// Coordinator owns one orchestration run.
type Coordinator struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker

	mu    sync.Mutex
	st    *state.RunState
	runID string
}

// New validates the options and builds a coordinator.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.SpecID == "":
		return nil, errors.New("coordinator: SpecID is required")
	case opts.Graph == nil:
		return nil, errors.New("coordinator: Graph is required")
	case opts.Store == nil || opts.Recovery == nil:
		return nil, errors.New("coordinator: Store and Recovery are required")
	case opts.Monitor == nil:
		return nil, errors.New("coordinator: Monitor is required")
	case opts.Workspaces == nil:
		return nil, errors.New("coordinator: Workspaces is required")
	case opts.Agent == nil:
		return nil, errors.New("coordinator: Agent is required")
	}

	if opts.Sessions < 1 {
		opts.Sessions = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.KeepPoints < 1 {
		opts.KeepPoints = 10
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}

	return &Coordinator{
		opts:    opts,
		breaker: newWorkspaceBreaker(opts.Log),
	}, nil
}

// State returns a copy of the current run state, or nil before
// initialization.
func (c *Coordinator) State() *state.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil
	}
	cp := *c.st
	return &cp
}

// Initialize assigns tasks to sessions, creates a workspace per session,
// writes each agent briefing, and persists the initial run state.
func (c *Coordinator) Initialize(ctx context.Context) error {
	opts := c.opts

	if err := opts.Graph.AssignSessions(opts.Sessions); err != nil {
		return fmt.Errorf("assigning sessions: %w", err)
	}

	st := &state.RunState{
		Version:      state.SchemaVersion,
		SpecID:       opts.SpecID,
		AgentType:    opts.Agent.Kind(),
		SessionCount: opts.Sessions,
		BaseBranch:   opts.BaseBranch,
		StartedAt:    state.Now(),
		CurrentPhase: scheduler.PhaseID(0),
		Tasks:        make(map[string]state.TaskState),
	}

	for _, task := range opts.Graph.Tasks() {
		st.Tasks[task.ID] = state.TaskState{
			Status:  state.StatusPending,
			Session: *task.Session,
		}
	}

	for i := 0; i < opts.Sessions; i++ {
		tasks := opts.Graph.SessionTasks(i)
		if len(tasks) == 0 {
			st.Sessions = append(st.Sessions, state.SessionState{
				ID:             i,
				Status:         state.StatusCompleted,
				CompletedTasks: []string{},
			})
			continue
		}

		info, err := createWithRetry(ctx, opts.Workspaces, c.breaker, opts.SpecID, i, opts.SpecID, opts.Retry)
		if err != nil {
			return fmt.Errorf("creating workspace for session %d: %w", i, err)
		}
		if err := opts.Agent.SetupSession(info.Path, tasks); err != nil {
			return fmt.Errorf("preparing session %d: %w", i, err)
		}

		st.Sessions = append(st.Sessions, state.SessionState{
			ID:             i,
			WorkspacePath:  info.Path,
			Branch:         info.Branch,
			Status:         state.StatusActive,
			CompletedTasks: []string{},
		})

		c.publish(events.TopicOrchestration, events.SessionReadyEvent{
			Session:       i,
			WorkspacePath: info.Path,
			Branch:        info.Branch,
			Timestamp:     time.Now(),
		})
		opts.Log.Info("session ready", "session", i, "workspace", info.Path, "branch", info.Branch)
	}

	if err := opts.Store.Save(st); err != nil {
		return fmt.Errorf("saving initial state: %w", err)
	}

	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
	return nil
}

// Resume loads persisted state and reconciles the graph with it. Used
// when a previous run was interrupted.
func (c *Coordinator) Resume() error {
	st, err := c.opts.Store.Load()
	if err != nil {
		return err
	}
	if st.SpecID != c.opts.SpecID {
		return fmt.Errorf("state belongs to spec %q, not %q", st.SpecID, c.opts.SpecID)
	}

	if err := c.opts.Graph.AssignSessions(c.opts.Sessions); err != nil {
		return fmt.Errorf("assigning sessions: %w", err)
	}
	for id, ts := range st.Tasks {
		if ts.Status == state.StatusCompleted {
			if err := c.opts.Graph.MarkCompleted(id); err != nil {
				c.opts.Log.Warn("completed task missing from graph", "task", id)
			}
		}
	}

	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
	c.opts.Log.Info("resumed run", "spec", st.SpecID, "phase", st.CurrentPhase, "completed_phases", len(st.CompletedPhases))
	return nil
}

// Run executes the whole orchestration: initialize or resume, then every
// remaining phase with a checkpoint after each. On interrupt the state
// is saved before the error is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.opts.Store.Exists() {
		if err := c.Resume(); err != nil {
			return err
		}
	} else {
		if err := c.Initialize(ctx); err != nil {
			return err
		}
	}

	runID, err := c.opts.Journal.StartRun(ctx, c.opts.SpecID, c.opts.Agent.Kind(), c.opts.Sessions)
	if err != nil {
		c.opts.Log.Warn("journal unavailable", "error", err)
	}
	c.runID = runID

	phases := c.opts.Graph.Phases()
	start := len(c.st.CompletedPhases)

	for i := start; i < len(phases); i++ {
		if err := c.RunPhase(ctx, i); err != nil {
			outcome := "failed"
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				outcome = "interrupted"
			}
			if jerr := c.opts.Journal.FinishRun(context.WithoutCancel(ctx), runID, outcome); jerr != nil {
				c.opts.Log.Warn("journal finish failed", "error", jerr)
			}
			return err
		}
		if err := c.CheckpointPhase(ctx, i); err != nil {
			return err
		}
	}

	return c.finish(ctx)
}

// RunPhase marks the phase's tasks in progress, notifies each session
// owning work in the phase, waits for all of it to complete, then records
// the completions. Observed completions surface as events while the wait
// is still in flight.
func (c *Coordinator) RunPhase(ctx context.Context, index int) error {
	opts := c.opts
	phases := opts.Graph.Phases()
	if index < 0 || index >= len(phases) {
		return fmt.Errorf("phase %d out of range (have %d)", index, len(phases))
	}

	phaseID := scheduler.PhaseID(index)
	taskIDs := phases[index]

	c.mu.Lock()
	c.st.CurrentPhase = phaseID
	for _, id := range taskIDs {
		ts := c.st.Tasks[id]
		if ts.Status == state.StatusCompleted {
			continue
		}
		prev := ts.Status
		if prev == "" {
			prev = state.StatusPending
		}
		ts.Status = state.StatusInProgress
		if ts.StartedAt == "" {
			ts.StartedAt = state.Now()
		}
		c.st.Tasks[id] = ts
		c.recordTransition(ctx, id, ts.Session, prev, state.StatusInProgress)
	}
	c.mu.Unlock()

	if err := c.save(); err != nil {
		return err
	}

	c.publish(events.TopicOrchestration, events.PhaseStartedEvent{
		Phase:     phaseID,
		TaskIDs:   taskIDs,
		Timestamp: time.Now(),
	})
	opts.Log.Info("phase started", "phase", phaseID, "tasks", taskIDs)

	if err := c.notifySessions(taskIDs); err != nil {
		return err
	}

	completed, err := c.awaitPhase(ctx, taskIDs)
	if err != nil {
		if ctx.Err() != nil {
			c.markInterrupted()
			if serr := c.save(); serr != nil {
				opts.Log.Error("saving state on interrupt failed", "error", serr)
			}
			c.publish(events.TopicOrchestration, events.InterruptedEvent{
				Phase:     phaseID,
				Timestamp: time.Now(),
			})
			opts.Log.Warn("run interrupted, state saved", "phase", phaseID)
		}
		return err
	}

	c.mu.Lock()
	for _, id := range taskIDs {
		if !completed[id] {
			continue
		}
		ts := c.st.Tasks[id]
		if ts.Status == state.StatusCompleted {
			continue
		}
		ts.Status = state.StatusCompleted
		ts.CompletedAt = state.Now()
		c.st.Tasks[id] = ts

		if ts.Session >= 0 && ts.Session < len(c.st.Sessions) {
			s := &c.st.Sessions[ts.Session]
			s.CompletedTasks = append(s.CompletedTasks, id)
			if s.CurrentTask == id {
				s.CurrentTask = ""
			}
		}

		if err := opts.Graph.MarkCompleted(id); err != nil {
			opts.Log.Warn("marking graph task failed", "task", id, "error", err)
		}
		c.recordTransition(ctx, id, ts.Session, state.StatusInProgress, state.StatusCompleted)
		c.publish(events.TopicOrchestration, events.TaskCompletedEvent{
			ID:        id,
			Session:   ts.Session,
			Timestamp: time.Now(),
		})
	}
	c.mu.Unlock()

	return c.save()
}

// notifySessions tells each session owning unfinished tasks in the phase
// what to work on, through the workspace circuit breaker so a wedged
// agent surface fails fast rather than once per session.
func (c *Coordinator) notifySessions(taskIDs []string) error {
	bySession := make(map[int][]*scheduler.Task)
	paths := make(map[int]string)

	c.mu.Lock()
	for _, id := range taskIDs {
		ts := c.st.Tasks[id]
		if ts.Status == state.StatusCompleted {
			continue
		}
		task, ok := c.opts.Graph.Get(id)
		if !ok {
			continue
		}
		bySession[ts.Session] = append(bySession[ts.Session], task)
		if ts.Session >= 0 && ts.Session < len(c.st.Sessions) {
			paths[ts.Session] = c.st.Sessions[ts.Session].WorkspacePath
		}
	}
	c.mu.Unlock()

	sessions := make([]int, 0, len(bySession))
	for session := range bySession {
		sessions = append(sessions, session)
	}
	sort.Ints(sessions)

	for _, session := range sessions {
		tasks := bySession[session]
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.opts.Agent.NotifyUser(c.opts.Out, session, paths[session], tasks)
		})
		if err != nil {
			return fmt.Errorf("notifying session %d: %w", session, err)
		}
	}
	return nil
}

// awaitPhase blocks until every task in the phase is complete, watching
// the tasks document for early observations alongside the poll loop.
func (c *Coordinator) awaitPhase(ctx context.Context, taskIDs []string) (map[string]bool, error) {
	opts := c.opts

	watcher, werr := completion.Watch(opts.TasksDoc)
	if werr != nil {
		opts.Log.Warn("document watch unavailable, polling only", "doc", opts.TasksDoc, "error", werr)
	} else {
		defer watcher.Stop()
	}

	var completed map[string]bool
	waitDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(waitDone)
		var err error
		completed, err = opts.Monitor.WaitForCompletion(gctx, taskIDs, opts.TasksDoc, 0, opts.PollInterval)
		return err
	})

	if werr == nil {
		g.Go(func() error {
			observed := make(map[string]bool)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-waitDone:
					return nil
				case set, ok := <-watcher.Updates():
					if !ok {
						return nil
					}
					c.observeEarly(taskIDs, set, observed)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return completed, nil
}

// observeEarly publishes a completion event the moment the document shows
// a phase task done, before the poll loop confirms the phase.
func (c *Coordinator) observeEarly(taskIDs []string, set, observed map[string]bool) {
	for _, id := range taskIDs {
		if !set[id] || observed[id] {
			continue
		}
		observed[id] = true

		c.mu.Lock()
		session := c.st.Tasks[id].Session
		c.mu.Unlock()

		c.publish(events.TopicOrchestration, events.TaskCompletedEvent{
			ID:        id,
			Session:   session,
			Timestamp: time.Now(),
		})
		c.opts.Log.Info("task completion observed", "task", id, "session", session)
	}
}

// CheckpointPhase records the phase as complete, saves state, and writes
// an immutable checkpoint, pruning old ones.
func (c *Coordinator) CheckpointPhase(ctx context.Context, index int) error {
	phaseID := scheduler.PhaseID(index)

	c.mu.Lock()
	c.st.CompletedPhases = append(c.st.CompletedPhases, phaseID)
	completedTasks := 0
	for _, ts := range c.st.Tasks {
		if ts.Status == state.StatusCompleted {
			completedTasks++
		}
	}
	c.mu.Unlock()

	if err := c.save(); err != nil {
		return err
	}
	if _, err := c.opts.Recovery.Checkpoint(c.State()); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", phaseID, err)
	}
	if _, err := c.opts.Recovery.CleanupCheckpoints(c.opts.KeepPoints); err != nil {
		c.opts.Log.Warn("checkpoint cleanup failed", "error", err)
	}
	if err := c.opts.Journal.RecordPhase(ctx, c.runID, phaseID, completedTasks); err != nil {
		c.opts.Log.Warn("journal phase record failed", "error", err)
	}

	c.publish(events.TopicOrchestration, events.PhaseCompletedEvent{
		Phase:     phaseID,
		Timestamp: time.Now(),
	})
	c.opts.Log.Info("phase checkpointed", "phase", phaseID)
	return nil
}

// finish marks all sessions completed, saves a final checkpoint, and
// closes the journal run.
func (c *Coordinator) finish(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.st.Sessions {
		c.st.Sessions[i].Status = state.StatusCompleted
		c.st.Sessions[i].CurrentTask = ""
	}
	c.st.CurrentPhase = ""
	phases := len(c.st.CompletedPhases)
	c.mu.Unlock()

	if err := c.save(); err != nil {
		return err
	}
	if _, err := c.opts.Recovery.Checkpoint(c.State()); err != nil {
		return fmt.Errorf("writing final checkpoint: %w", err)
	}

	if err := c.opts.Journal.FinishRun(ctx, c.runID, "completed"); err != nil {
		c.opts.Log.Warn("journal finish failed", "error", err)
	}

	c.publish(events.TopicOrchestration, events.RunCompletedEvent{
		SpecID:    c.opts.SpecID,
		Phases:    phases,
		Timestamp: time.Now(),
	})
	c.opts.Log.Info("run completed", "spec", c.opts.SpecID, "phases", phases)
	return nil
}

func (c *Coordinator) markInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.st.Sessions {
		if c.st.Sessions[i].Status == state.StatusActive {
			c.st.Sessions[i].Status = state.StatusInterrupted
		}
	}
}

func (c *Coordinator) save() error {
	c.mu.Lock()
	st := *c.st
	c.mu.Unlock()
	if err := c.opts.Store.Save(&st); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	c.mu.Lock()
	c.st.UpdatedAt = st.UpdatedAt
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) publish(topic string, event events.Event) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(topic, event)
	}
}

func (c *Coordinator) recordTransition(ctx context.Context, taskID string, session int, from, to string) {
	if err := c.opts.Journal.RecordTransition(ctx, c.runID, taskID, session, from, to); err != nil {
		c.opts.Log.Warn("journal transition failed", "task", taskID, "error", err)
	}
}
