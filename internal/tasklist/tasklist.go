// Package tasklist reads the markdown tasks document that drives a run:
// story headings, checkbox task lines with bracketed IDs, and indented
// annotations for dependencies, parallelism, and file scopes.
package tasklist

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/aristath/conductor/internal/scheduler"
)

var (
	headingLine = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*$`)
	taskLine    = regexp.MustCompile(`^\s*[-*]\s*\[([ xX])\]\s*\[([^\[\]\s]+)\]\s*(.*)$`)
	dependsLine = regexp.MustCompile(`^\s+[-*]\s*depends:\s*(.+)$`)
	filesLine   = regexp.MustCompile(`^\s+[-*]\s*files:\s*(.+)$`)
	parallelRe  = regexp.MustCompile(`^\s+[-*]\s*parallel\s*$`)
)

// Load reads and parses the tasks document at path.
func Load(path string) ([]*scheduler.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks document: %w", err)
	}
	tasks, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tasks, nil
}

// Parse extracts tasks from markdown content. Lines that are not task
// lines, annotations, or headings are ignored, so the document can carry
// arbitrary prose around the list.
func Parse(content string) ([]*scheduler.Task, error) {
	var tasks []*scheduler.Task
	var current *scheduler.Task
	seen := make(map[string]bool)
	story := ""

	for _, line := range strings.Split(content, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			story = m[1]
			current = nil
			continue
		}

		if m := taskLine.FindStringSubmatch(line); m != nil {
			id := m[2]
			if seen[id] {
				return nil, fmt.Errorf("duplicate task ID %s", id)
			}
			seen[id] = true

			current = &scheduler.Task{
				ID:        id,
				Name:      strings.TrimSpace(m[3]),
				Story:     story,
				Completed: m[1] != " ",
			}
			tasks = append(tasks, current)
			continue
		}

		if current == nil {
			continue
		}

		switch {
		case dependsLine.MatchString(line):
			m := dependsLine.FindStringSubmatch(line)
			current.DependsOn = append(current.DependsOn, splitList(m[1])...)
		case filesLine.MatchString(line):
			m := filesLine.FindStringSubmatch(line)
			current.Files = append(current.Files, splitList(m[1])...)
		case parallelRe.MatchString(line):
			current.Parallel = true
		case strings.HasPrefix(line, "  ") && strings.TrimSpace(line) != "":
			// Indented prose belongs to the task description.
			if current.Description != "" {
				current.Description += " "
			}
			current.Description += strings.TrimSpace(line)
		}
	}

	return tasks, nil
}

// splitList splits a comma or whitespace separated annotation value.
func splitList(s string) []string {
	var out []string
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		if field != "" {
			out = append(out, field)
		}
	}
	return out
}
