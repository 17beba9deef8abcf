package expr

import "regexp"

var (
	templateStepRefPattern = regexp.MustCompile(`steps\.([a-zA-Z0-9_-]+)`)
)

// ReferencedSteps extracts the set of step IDs a template or predicate
// expression refers to via `steps.<id>`, letting callers validate
// references against the declared DAG before execution.
func ReferencedSteps(expression string) []string {
	matches := templateStepRefPattern.FindAllStringSubmatch(expression, -1)
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		id := m[1]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
