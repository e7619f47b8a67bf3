package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aristath/conductor/internal/workspace"
)

// Engine folds completed session branches back into a single integration
// branch. All git work happens through the workspace Runner so the
// sequence is testable without a repository.
type Engine struct {
	repoPath   string
	baseBranch string
	specID     string
	runner     workspace.Runner
	workspaces workspace.Manager
	log        *slog.Logger
}

// Changes are the files one session branch added, modified, and deleted
// relative to the base branch.
type Changes struct {
	Added    []string
	Modified []string
	Deleted  []string
}

func (c Changes) all() []string {
	files := make([]string, 0, len(c.Added)+len(c.Modified)+len(c.Deleted))
	files = append(files, c.Added...)
	files = append(files, c.Modified...)
	return append(files, c.Deleted...)
}

// Analysis describes how session branches relate before any merging.
type Analysis struct {
	// SessionBranches maps session index to its branch, for branches
	// that actually exist.
	SessionBranches map[int]string

	// SessionChanges maps session index to its file changes against the
	// base branch.
	SessionChanges map[int]Changes

	// OverlappingFiles maps each file touched by more than one session
	// to the sorted sessions that touched it.
	OverlappingFiles map[string][]int

	// SafeToMerge is true when no file overlaps.
	SafeToMerge bool
}

// Result reports the outcome of a sequential merge.
type Result struct {
	Success           bool
	MergedSessions    []int
	ConflictSession   int // -1 when no conflict
	ConflictFiles     []string
	IntegrationBranch string
}

// Validation reports the outcome of running the configured test command
// on the integration branch.
type Validation struct {
	Passed  bool
	Command string
	Output  string
}

// Summary describes the finished integration.
type Summary struct {
	IntegrationBranch string
	FilesChanged      int
	Insertions        int
	Deletions         int
	WorkspacesRemoved int
}

// NewEngine creates a merge engine for one spec's session branches.
func NewEngine(repoPath, baseBranch, specID string, runner workspace.Runner, workspaces workspace.Manager, log *slog.Logger) *Engine {
	if runner == nil {
		runner = workspace.CLIRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		repoPath:   repoPath,
		baseBranch: baseBranch,
		specID:     specID,
		runner:     runner,
		workspaces: workspaces,
		log:        log,
	}
}

func (e *Engine) git(ctx context.Context, args ...string) (string, error) {
	output, err := e.runner.Run(ctx, e.repoPath, "git", args...)
	return strings.TrimSpace(string(output)), err
}

// branchExists checks whether a local branch exists.
func (e *Engine) branchExists(ctx context.Context, branch string) bool {
	_, err := e.git(ctx, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// Analyze diffs every existing session branch against the base branch,
// recording each session's added/modified/deleted files and the files
// touched by more than one session. Sessions whose branch does not exist
// are skipped.
func (e *Engine) Analyze(ctx context.Context, sessions []int) (*Analysis, error) {
	analysis := &Analysis{
		SessionBranches:  make(map[int]string),
		SessionChanges:   make(map[int]Changes),
		OverlappingFiles: make(map[string][]int),
	}

	touched := make(map[string][]int)
	for _, session := range sessions {
		branch := workspace.BranchName(e.specID, session)
		if !e.branchExists(ctx, branch) {
			e.log.Warn("session branch missing, skipping", "branch", branch)
			continue
		}
		analysis.SessionBranches[session] = branch

		output, err := e.git(ctx, "diff", "--name-status", e.baseBranch+"..."+branch)
		if err != nil {
			return nil, fmt.Errorf("diffing %s against %s: %w", branch, e.baseBranch, err)
		}
		changes := parseNameStatus(output)
		analysis.SessionChanges[session] = changes
		for _, file := range changes.all() {
			touched[file] = append(touched[file], session)
		}
	}

	for file, who := range touched {
		if len(who) < 2 {
			continue
		}
		sort.Ints(who)
		analysis.OverlappingFiles[file] = who
	}
	analysis.SafeToMerge = len(analysis.OverlappingFiles) == 0
	return analysis, nil
}

// parseNameStatus classifies `git diff --name-status` output into added,
// modified, and deleted sets. Renames and copies contribute their
// destination path as a modification.
func parseNameStatus(output string) Changes {
	var changes Changes
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		file := fields[len(fields)-1]
		switch fields[0][0] {
		case 'A':
			changes.Added = append(changes.Added, file)
		case 'D':
			changes.Deleted = append(changes.Deleted, file)
		default:
			changes.Modified = append(changes.Modified, file)
		}
	}
	return changes
}

// MergeSequential merges session branches into the integration branch
// one at a time with --no-ff. The first conflict stops the run: the
// in-progress merge is aborted, the original branch is restored, and an
// integration branch created by this call is deleted again.
func (e *Engine) MergeSequential(ctx context.Context, sessions []int) (*Result, error) {
	original, err := e.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving current branch: %w", err)
	}

	integration := workspace.IntegrationBranch(e.specID)
	created := false
	if e.branchExists(ctx, integration) {
		if out, err := e.git(ctx, "checkout", integration); err != nil {
			return nil, fmt.Errorf("checking out %s: %w (output: %s)", integration, err, out)
		}
	} else {
		if out, err := e.git(ctx, "checkout", "-b", integration, e.baseBranch); err != nil {
			return nil, fmt.Errorf("creating %s from %s: %w (output: %s)", integration, e.baseBranch, err, out)
		}
		created = true
	}

	result := &Result{ConflictSession: -1, IntegrationBranch: integration}
	for _, session := range sessions {
		branch := workspace.BranchName(e.specID, session)
		message := fmt.Sprintf("Merge %s into %s", branch, integration)

		if out, err := e.git(ctx, "merge", "--no-ff", "-m", message, branch); err != nil {
			e.log.Warn("merge conflict, rolling back", "branch", branch, "output", out)

			conflicts, _ := e.git(ctx, "diff", "--name-only", "--diff-filter=U")
			if _, aerr := e.git(ctx, "merge", "--abort"); aerr != nil {
				e.log.Error("merge abort failed", "error", aerr)
			}
			if _, cerr := e.git(ctx, "checkout", original); cerr != nil {
				e.log.Error("restoring original branch failed", "branch", original, "error", cerr)
			}
			if created {
				if _, derr := e.git(ctx, "branch", "-D", integration); derr != nil {
					e.log.Error("deleting integration branch failed", "branch", integration, "error", derr)
				}
			}

			result.Success = false
			result.ConflictSession = session
			result.ConflictFiles = splitLines(conflicts)
			result.IntegrationBranch = ""
			return result, nil
		}

		result.MergedSessions = append(result.MergedSessions, session)
		e.log.Info("merged session branch", "branch", branch)
	}

	result.Success = true
	return result, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Validate checks out the integration branch and runs the configured
// test command on it. An empty command validates trivially.
func (e *Engine) Validate(ctx context.Context, testCommand string) (*Validation, error) {
	integration := workspace.IntegrationBranch(e.specID)
	if out, err := e.git(ctx, "checkout", integration); err != nil {
		return nil, fmt.Errorf("checking out %s: %w (output: %s)", integration, err, out)
	}

	if testCommand == "" {
		return &Validation{Passed: true}, nil
	}

	output, err := e.runner.Run(ctx, e.repoPath, "sh", "-c", testCommand)
	v := &Validation{
		Passed:  err == nil,
		Command: testCommand,
		Output:  string(output),
	}
	return v, nil
}

// Finalize reports the integrated diff against the merge base and, unless
// keepWorkspaces is set, removes the spec's session workspaces and
// branches.
func (e *Engine) Finalize(ctx context.Context, keepWorkspaces bool) (*Summary, error) {
	base, err := e.git(ctx, "merge-base", e.baseBranch, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("finding merge base with %s: %w", e.baseBranch, err)
	}

	shortstat, err := e.git(ctx, "diff", "--shortstat", base, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("computing diff stat: %w", err)
	}

	summary := &Summary{IntegrationBranch: workspace.IntegrationBranch(e.specID)}
	summary.FilesChanged, summary.Insertions, summary.Deletions = parseShortstat(shortstat)

	if !keepWorkspaces && e.workspaces != nil {
		removed, err := e.workspaces.CleanupSpec(ctx, e.specID)
		if err != nil {
			return nil, fmt.Errorf("cleaning up workspaces: %w", err)
		}
		summary.WorkspacesRemoved = removed
	}
	return summary, nil
}

// parseShortstat reads `git diff --shortstat` output like
// "3 files changed, 42 insertions(+), 7 deletions(-)". Any missing
// segment stays zero.
func parseShortstat(s string) (files, insertions, deletions int) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		var n int
		switch {
		case strings.Contains(part, "file"):
			fmt.Sscanf(part, "%d", &n)
			files = n
		case strings.Contains(part, "insertion"):
			fmt.Sscanf(part, "%d", &n)
			insertions = n
		case strings.Contains(part, "deletion"):
			fmt.Sscanf(part, "%d", &n)
			deletions = n
		}
	}
	return files, insertions, deletions
}
