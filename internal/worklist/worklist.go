// Package worklist loads work items from user-authored sources (YAML
// lists, Markdown backlogs) into tasks ready for graph seeding. Explicit
// dependencies are honored; loosely phrased ones ("after X", "depends on
// X") are inferred when they name another item in the same list.
package worklist

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harnesslab/overseer/internal/models"
)

// Item is one work item as authored, before graph seeding.
type Item struct {
	ID          string
	Description string
	DependsOn   []string
}

// Load reads a work list file, dispatching on extension. Markdown gets the
// backlog parser; everything else is treated as YAML.
func Load(path string) ([]models.Task, error) {
	var items []Item
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		items, err = LoadMarkdown(path)
	default:
		items, err = LoadYAML(path)
	}
	if err != nil {
		return nil, err
	}
	return build(items)
}

// build validates items, infers phrased dependencies and converts to tasks
// in declaration order.
func build(items []Item) ([]models.Task, error) {
	known := make(map[string]string, len(items)) // lowercase id -> id
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("work item %d has no id", i+1)
		}
		lower := strings.ToLower(it.ID)
		if _, dup := known[lower]; dup {
			return nil, fmt.Errorf("duplicate work item id %q", it.ID)
		}
		known[lower] = it.ID
	}

	tasks := make([]models.Task, 0, len(items))
	for _, it := range items {
		deps := append([]string(nil), it.DependsOn...)
		deps = mergeDeps(deps, InferDeps(it.Description, known, it.ID))
		tasks = append(tasks, models.Task{
			ID:          it.ID,
			Description: it.Description,
			DependsOn:   deps,
			Status:      models.StatusPending,
		})
	}
	return tasks, nil
}

// depPhraseRe captures the word following a dependency phrase.
var depPhraseRe = regexp.MustCompile(`(?i)\b(?:depends on|after|requires|blocked by)\s+([\w][\w.-]*)`)

// InferDeps extracts dependency ids from natural phrasing in a
// description. Only matches that name another known item count; ordinary
// prose ("after running the tests") produces no edges. The item's own id
// is ignored.
func InferDeps(description string, known map[string]string, selfID string) []string {
	var deps []string
	for _, m := range depPhraseRe.FindAllStringSubmatch(description, -1) {
		id, ok := known[strings.ToLower(m[1])]
		if !ok || id == selfID {
			continue
		}
		deps = append(deps, id)
	}
	return deps
}

func mergeDeps(explicit, inferred []string) []string {
	seen := make(map[string]bool, len(explicit))
	for _, d := range explicit {
		seen[d] = true
	}
	for _, d := range inferred {
		if !seen[d] {
			explicit = append(explicit, d)
			seen[d] = true
		}
	}
	return explicit
}
