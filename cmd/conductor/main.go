// Command conductor orchestrates parallel coding-agent sessions over a
// shared task list: it plans the dependency graph, prepares one git
// worktree per session, waits for task completions phase by phase, and
// merges the session branches back together.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	agentpkg "github.com/aristath/conductor/internal/agent"
	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/coordinator"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/journal"
	"github.com/aristath/conductor/internal/logging"
	"github.com/aristath/conductor/internal/merge"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/state"
	"github.com/aristath/conductor/internal/status"
	"github.com/aristath/conductor/internal/tasklist"
	"github.com/aristath/conductor/internal/workspace"
)

const usage = `usage: conductor <command> [flags]

commands:
  run      start or resume an orchestration run
  plan     print the execution plan as JSON
  status   show the persisted run state
  merge    merge completed session branches
  history  list past runs for a spec
  reset    delete run state and session workspaces
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			// State was saved before the coordinator returned.
			fmt.Fprintln(os.Stderr, "interrupted; resume with `conductor run`")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(out, usage)
		return errors.New("no command given")
	}

	switch args[0] {
	case "run":
		return cmdRun(ctx, args[1:], out)
	case "plan":
		return cmdPlan(args[1:], out)
	case "status":
		return cmdStatus(args[1:], out)
	case "merge":
		return cmdMerge(ctx, args[1:], out)
	case "history":
		return cmdHistory(ctx, args[1:], out)
	case "reset":
		return cmdReset(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// loadConfig loads the merged configuration and applies flag overrides.
func loadConfig(agentKind string, sessions int) (*config.Config, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if agentKind != "" {
		cfg.Agent = agentKind
	}
	if sessions > 0 {
		cfg.Sessions = sessions
	}
	return cfg, nil
}

// buildGraph loads the tasks document and builds the dependency graph.
func buildGraph(docPath string) (*scheduler.Graph, error) {
	tasks, err := tasklist.Load(docPath)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks found in %s", docPath)
	}
	return scheduler.BuildGraph(tasks)
}

func cmdRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	specID := fs.String("spec", "", "spec identifier (required)")
	agentKind := fs.String("agent", "", "agent kind: claude, codex, goose")
	sessions := fs.Int("sessions", 0, "number of parallel sessions")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specID == "" {
		return errors.New("run: -spec is required")
	}

	cfg, err := loadConfig(*agentKind, *sessions)
	if err != nil {
		return err
	}

	log, logFile, err := logging.Init(cfg.DataDir, *logLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	graph, err := buildGraph(cfg.TasksDocument)
	if err != nil {
		return err
	}

	ag, err := agentpkg.New(cfg.Agent)
	if err != nil {
		return err
	}

	jnl, err := journal.Open(ctx, cfg.JournalPath())
	if err != nil {
		log.Warn("journal unavailable, history disabled", "error", err)
	}
	var jif journal.Journal = journal.Nop{}
	if jnl != nil {
		defer jnl.Close()
		jif = jnl
	}

	bus := events.NewBus()
	defer bus.Close()
	rendered := make(chan struct{})
	ch := bus.SubscribeAll(64)
	go func() {
		defer close(rendered)
		status.NewRenderer(out).Consume(ch)
	}()

	coord, err := coordinator.New(coordinator.Options{
		SpecID:       *specID,
		Graph:        graph,
		Sessions:     cfg.Sessions,
		BaseBranch:   cfg.BaseBranch,
		TasksDoc:     cfg.TasksDocument,
		PollInterval: cfg.PollInterval(),
		KeepPoints:   cfg.KeepCheckpoints,
		Store:        state.NewStore(cfg.StateDir(), cfg.LockWait()),
		Recovery:     state.NewRecovery(cfg.CheckpointDir()),
		Monitor:      completion.NewMonitor(cfg.MarkerDir(*specID)),
		Workspaces:   workspace.NewGitManager(".", cfg.BaseBranch, cfg.WorktreeDir(), nil),
		Agent:        ag,
		Bus:          bus,
		Journal:      jif,
		Out:          out,
		Log:          log,
	})
	if err != nil {
		return err
	}

	runErr := coord.Run(ctx)
	bus.Close()
	<-rendered
	return runErr
}

func cmdPlan(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	specID := fs.String("spec", "", "spec identifier (required)")
	sessions := fs.Int("sessions", 0, "number of parallel sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specID == "" {
		return errors.New("plan: -spec is required")
	}

	cfg, err := loadConfig("", *sessions)
	if err != nil {
		return err
	}

	graph, err := buildGraph(cfg.TasksDocument)
	if err != nil {
		return err
	}
	if err := graph.AssignSessions(cfg.Sessions); err != nil {
		return err
	}

	plan := graph.Plan(*specID, cfg.Sessions)
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	fmt.Fprintln(out, string(data))

	if path := graph.CriticalPath(); len(path) > 0 {
		fmt.Fprintf(out, "critical path (%d tasks): %v\n", len(path), path)
	}
	return nil
}

func cmdStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig("", 0)
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.StateDir(), cfg.LockWait())
	st, err := store.Load()
	if err != nil {
		var nf *state.NotFoundError
		if errors.As(err, &nf) {
			fmt.Fprintln(out, "no run in progress")
			return nil
		}
		return err
	}

	status.WriteState(out, st)
	return nil
}

func cmdMerge(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	keep := fs.Bool("keep-workspaces", false, "keep session workspaces after a clean merge")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig("", 0)
	if err != nil {
		return err
	}

	log, logFile, err := logging.Init(cfg.DataDir, *logLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	store := state.NewStore(cfg.StateDir(), cfg.LockWait())
	st, err := store.Load()
	if err != nil {
		return err
	}

	sessions := make([]int, 0, len(st.Sessions))
	for _, s := range st.Sessions {
		sessions = append(sessions, s.ID)
	}
	if len(sessions) == 0 {
		return errors.New("merge: no sessions in run state")
	}

	manager := workspace.NewGitManager(".", st.BaseBranch, cfg.WorktreeDir(), nil)
	engine := merge.NewEngine(".", st.BaseBranch, st.SpecID, nil, manager, log)
	renderer := status.NewRenderer(out)

	analysis, err := engine.Analyze(ctx, sessions)
	if err != nil {
		return err
	}
	if !analysis.SafeToMerge {
		fmt.Fprintln(out, "overlapping files:")
		for file, who := range analysis.OverlappingFiles {
			fmt.Fprintf(out, "  %s: sessions %v\n", file, who)
		}
	}

	st.MergeStatus = state.MergeInProgress
	if err := store.Save(st); err != nil {
		return err
	}

	result, err := engine.MergeSequential(ctx, sessions)
	if err != nil {
		st.MergeStatus = state.MergeFailed
		if serr := store.Save(st); serr != nil {
			log.Error("saving merge state failed", "error", serr)
		}
		return err
	}

	renderer.Render(events.MergeFinishedEvent{
		Success:         result.Success,
		MergedSessions:  result.MergedSessions,
		ConflictSession: result.ConflictSession,
		ConflictFiles:   result.ConflictFiles,
	})

	if !result.Success {
		st.MergeStatus = state.MergeFailed
		if err := store.Save(st); err != nil {
			return err
		}
		return fmt.Errorf("merge conflict in session %d, resolve and retry", result.ConflictSession)
	}

	validation, err := engine.Validate(ctx, cfg.TestCommand)
	if err != nil {
		return err
	}
	if !validation.Passed {
		st.MergeStatus = state.MergeFailed
		if err := store.Save(st); err != nil {
			return err
		}
		fmt.Fprintln(out, validation.Output)
		return fmt.Errorf("validation failed: %s", validation.Command)
	}

	summary, err := engine.Finalize(ctx, *keep)
	if err != nil {
		return err
	}

	st.MergeStatus = state.MergeCompleted
	if err := store.Save(st); err != nil {
		return err
	}

	fmt.Fprintf(out, "merged to %s: %d files changed, +%d -%d lines, %d workspaces removed\n",
		summary.IntegrationBranch, summary.FilesChanged, summary.Insertions, summary.Deletions, summary.WorkspacesRemoved)
	return nil
}

func cmdHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	specID := fs.String("spec", "", "spec identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specID == "" {
		return errors.New("history: -spec is required")
	}

	cfg, err := loadConfig("", 0)
	if err != nil {
		return err
	}

	jnl, err := journal.Open(ctx, cfg.JournalPath())
	if err != nil {
		return err
	}
	defer jnl.Close()

	records, err := jnl.History(ctx, *specID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "no runs recorded for %s\n", *specID)
		return nil
	}

	for _, r := range records {
		finished := "running"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%s  %s  agent=%s sessions=%d  %s -> %s\n",
			r.ID, r.Outcome, r.Agent, r.Sessions,
			r.StartedAt.Format("2006-01-02 15:04:05"), finished)
	}
	return nil
}

func cmdReset(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	force := fs.Bool("force", false, "required to actually delete anything")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		return errors.New("reset: pass -force to delete run state and session workspaces")
	}

	cfg, err := loadConfig("", 0)
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.StateDir(), cfg.LockWait())
	st, err := store.Load()
	if err != nil {
		var nf *state.NotFoundError
		if errors.As(err, &nf) {
			fmt.Fprintln(out, "no run state to delete")
			return nil
		}
		return err
	}

	manager := workspace.NewGitManager(".", st.BaseBranch, cfg.WorktreeDir(), nil)
	removed, err := manager.CleanupSpec(ctx, st.SpecID)
	if err != nil {
		return err
	}

	if err := store.Delete(); err != nil {
		return err
	}
	if err := os.RemoveAll(cfg.MarkerDir(st.SpecID)); err != nil {
		return err
	}

	fmt.Fprintf(out, "reset %s: state deleted, %d workspaces removed\n", st.SpecID, removed)
	return nil
}
