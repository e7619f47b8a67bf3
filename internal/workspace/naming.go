package workspace

import "fmt"

// BranchName returns the deterministic branch for a session. The merge
// engine discovers session branches through this convention.
func BranchName(specID string, session int) string {
	return fmt.Sprintf("session/%s-%d", specID, session)
}

// DirName returns the deterministic workspace directory name for a
// session.
func DirName(specID string, session int) string {
	return fmt.Sprintf("%s-session-%d", specID, session)
}

// IntegrationBranch returns the branch session work is merged into.
func IntegrationBranch(specID string) string {
	return fmt.Sprintf("integration/%s", specID)
}
