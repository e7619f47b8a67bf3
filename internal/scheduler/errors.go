package scheduler

import "strings"

// CycleError reports a cyclic dependency chain. Cycle holds the ordered
// task IDs with the starting ID repeated at the end, so walking the slice
// edge by edge returns to the first element.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}
