package workspace

import (
	"context"
	"os/exec"
)

// Runner abstracts subprocess execution so git-touching code can be
// tested without a repository.
type Runner interface {
	// Run executes a command in dir and returns combined output.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// CLIRunner executes commands with os/exec.
type CLIRunner struct{}

// Run executes a command and returns combined output.
func (CLIRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
