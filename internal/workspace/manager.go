// Package workspace creates and removes the isolated git worktrees that
// sessions work in, one worktree and one branch per session.
package workspace

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Info describes one workspace.
type Info struct {
	Path   string // Absolute or repo-relative worktree path
	Branch string // Branch checked out in the worktree
	Commit string // HEAD commit hash
	Locked bool   // Worktree is locked by git
}

// Manager is the workspace contract the coordinator and merge engine
// depend on.
type Manager interface {
	// Create makes a worktree and branch for the session, forked from
	// the base branch.
	Create(ctx context.Context, specID string, session int, purpose string) (*Info, error)

	// List returns all worktrees in the repository.
	List(ctx context.Context) ([]Info, error)

	// Remove deletes a worktree; fails if it has uncommitted changes.
	Remove(ctx context.Context, path string) error

	// RemoveForce deletes a worktree regardless of its state.
	RemoveForce(ctx context.Context, path string) error

	// CleanupSpec removes every workspace belonging to the spec and
	// returns the count removed.
	CleanupSpec(ctx context.Context, specID string) (int, error)
}

// GitManager implements Manager with git worktrees.
type GitManager struct {
	repoPath    string
	baseBranch  string
	worktreeDir string
	runner      Runner
}

// NewGitManager creates a manager for the repository at repoPath.
// Worktrees are created under worktreeDir (relative to the repository).
func NewGitManager(repoPath, baseBranch, worktreeDir string, runner Runner) *GitManager {
	if worktreeDir == "" {
		worktreeDir = ".conductor/worktrees"
	}
	if runner == nil {
		runner = CLIRunner{}
	}
	return &GitManager{
		repoPath:    repoPath,
		baseBranch:  baseBranch,
		worktreeDir: worktreeDir,
		runner:      runner,
	}
}

// Create makes a worktree with a fresh session branch based on the base
// branch.
func (m *GitManager) Create(ctx context.Context, specID string, session int, purpose string) (*Info, error) {
	branch := BranchName(specID, session)
	path := filepath.Join(m.repoPath, m.worktreeDir, DirName(specID, session))

	output, err := m.runner.Run(ctx, m.repoPath, "git", "worktree", "add", "-b", branch, path, m.baseBranch)
	if err != nil {
		return nil, fmt.Errorf("creating workspace for %s session %d: %w (output: %s)", specID, session, err, string(output))
	}

	head, err := m.runner.Run(ctx, path, "git", "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving workspace HEAD: %w (output: %s)", err, string(head))
	}

	return &Info{
		Path:   path,
		Branch: branch,
		Commit: strings.TrimSpace(string(head)),
	}, nil
}

// List parses `git worktree list --porcelain` output.
func (m *GitManager) List(ctx context.Context) ([]Info, error) {
	output, err := m.runner.Run(ctx, m.repoPath, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w (output: %s)", err, string(output))
	}

	var worktrees []Info
	var current Info

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = Info{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "locked" || strings.HasPrefix(line, "locked "):
			current.Locked = true
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees, nil
}

// Remove deletes a worktree. Git itself refuses when uncommitted changes
// exist; that failure is propagated, not swallowed.
func (m *GitManager) Remove(ctx context.Context, path string) error {
	output, err := m.runner.Run(ctx, m.repoPath, "git", "worktree", "remove", path)
	if err != nil {
		return fmt.Errorf("removing workspace %s: %w (output: %s)", path, err, string(output))
	}
	return nil
}

// RemoveForce deletes a worktree even when it has uncommitted changes.
// The session branch is left alone; CleanupSpec deletes branches.
func (m *GitManager) RemoveForce(ctx context.Context, path string) error {
	var errs []string

	if output, err := m.runner.Run(ctx, m.repoPath, "git", "worktree", "remove", "--force", path); err != nil {
		errs = append(errs, fmt.Sprintf("worktree remove failed: %v (output: %s)", err, string(output)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("force removal of %s: %s", path, strings.Join(errs, "; "))
	}
	return nil
}

// CleanupSpec removes every workspace whose branch belongs to the spec
// and deletes the session branches. Stale worktree metadata is pruned
// afterwards.
func (m *GitManager) CleanupSpec(ctx context.Context, specID string) (int, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	prefix := fmt.Sprintf("session/%s-", specID)
	removed := 0
	for _, wt := range worktrees {
		if !strings.HasPrefix(wt.Branch, prefix) {
			continue
		}
		if err := m.RemoveForce(ctx, wt.Path); err != nil {
			return removed, err
		}
		if output, err := m.runner.Run(ctx, m.repoPath, "git", "branch", "-D", wt.Branch); err != nil {
			return removed, fmt.Errorf("deleting branch %s: %w (output: %s)", wt.Branch, err, string(output))
		}
		removed++
	}

	if output, err := m.runner.Run(ctx, m.repoPath, "git", "worktree", "prune"); err != nil {
		return removed, fmt.Errorf("pruning worktrees: %w (output: %s)", err, string(output))
	}
	return removed, nil
}
