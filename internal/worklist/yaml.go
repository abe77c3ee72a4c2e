package worklist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlItem mirrors one entry of a YAML work list.
type yamlItem struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	DependsOn   []string `yaml:"depends_on"`
}

// yamlList supports both a bare top-level list and a `tasks:` document.
type yamlList struct {
	Tasks []yamlItem `yaml:"tasks"`
}

// LoadYAML reads a YAML work list. Accepted shapes:
//
//	- id: build-api
//	  description: Implement the REST endpoints
//	  depends_on: [schema]
//
// or the same list nested under a top-level `tasks:` key.
func LoadYAML(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work list: %w", err)
	}

	var entries []yamlItem
	if err := yaml.Unmarshal(data, &entries); err != nil {
		var doc yamlList
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("parse work list %s: %w", path, err)
		}
		entries = doc.Tasks
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{
			ID:          e.ID,
			Description: e.Description,
			DependsOn:   e.DependsOn,
		})
	}
	return items, nil
}
