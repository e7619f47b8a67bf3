package completion

import (
	"bufio"
	"regexp"
	"strings"
)

// checkboxLine matches a completed markdown checkbox list item, e.g.
// "- [x] Implement login [T003]". The checkbox must be x or X; the rest
// of the line is scanned for the bracketed task ID.
var (
	checkboxLine = regexp.MustCompile(`^\s*[-*]\s*\[[xX]\]\s*(.*)$`)
	bracketedID  = regexp.MustCompile(`\[([^\[\]\s]+)\]`)
)

// ParseDocument extracts the task IDs of completed checkbox lines from
// the task document's content.
func ParseDocument(content string) map[string]bool {
	done := map[string]bool{}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		m := checkboxLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if id := bracketedID.FindStringSubmatch(m[1]); id != nil {
			done[id[1]] = true
		}
	}
	return done
}
