package worklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLBareList(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tasks.yaml", `
- id: schema
  description: Design the database schema
- id: api
  description: Implement the REST endpoints
  depends_on: [schema]
`)
	tasks, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "schema", tasks[0].ID)
	assert.Equal(t, []string{"schema"}, tasks[1].DependsOn)
}

func TestLoadYAMLTasksDocument(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tasks.yaml", `
tasks:
  - id: one
    description: First
  - id: two
    description: Second
    depends_on: [one]
`)
	tasks, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "two", tasks[1].ID)
}

func TestLoadRejectsDuplicateAndMissingIDs(t *testing.T) {
	dir := t.TempDir()

	dup := writeFile(t, dir, "dup.yaml", `
- id: a
  description: one
- id: a
  description: two
`)
	_, err := Load(dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	missing := writeFile(t, dir, "missing.yaml", `
- description: no id here
`)
	_, err = Load(missing)
	require.Error(t, err)
}

func TestInferDepsFromPhrases(t *testing.T) {
	known := map[string]string{"schema": "schema", "api": "api", "auth": "auth"}

	tests := []struct {
		name string
		desc string
		want []string
	}{
		{"depends on", "Build the client. Depends on api.", []string{"api"}},
		{"after", "Run the migration after schema", []string{"schema"}},
		{"requires", "This requires auth to be in place", []string{"auth"}},
		{"blocked by", "Currently blocked by api", []string{"api"}},
		{"unknown target", "Do this after lunch", nil},
		{"multiple", "depends on schema and requires api", []string{"schema", "api"}},
		{"case insensitive", "DEPENDS ON Schema", []string{"schema"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferDeps(tt.desc, known, "self"))
		})
	}
}

func TestInferDepsIgnoresSelfReference(t *testing.T) {
	known := map[string]string{"api": "api"}
	assert.Empty(t, InferDeps("depends on api", known, "api"))
}

func TestLoadMergesExplicitAndInferredDeps(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tasks.yaml", `
- id: schema
  description: Design the schema
- id: seed
  description: Seed data, after schema
- id: api
  description: Endpoints. Depends on schema.
  depends_on: [schema]
`)
	tasks, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"schema"}, tasks[1].DependsOn)
	// Explicit and inferred name the same dep: no duplicate edge.
	assert.Equal(t, []string{"schema"}, tasks[2].DependsOn)
}

func TestLoadMarkdownBacklog(t *testing.T) {
	path := writeFile(t, t.TempDir(), "BACKLOG.md", `# Project backlog

Intro text that belongs to no task.

## Session middleware

Wire cookie parsing and the session struct.

## Add login endpoint

Validate credentials against the user table.

Depends on: session-middleware

## Polish docs

Update the README examples.
`)
	tasks, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "session-middleware", tasks[0].ID)
	assert.Contains(t, tasks[0].Description, "cookie parsing")

	assert.Equal(t, "add-login-endpoint", tasks[1].ID)
	assert.Equal(t, []string{"session-middleware"}, tasks[1].DependsOn)

	assert.Equal(t, "polish-docs", tasks[2].ID)
	assert.Empty(t, tasks[2].DependsOn)
}

func TestLoadMarkdownDependsListAndBold(t *testing.T) {
	path := writeFile(t, t.TempDir(), "backlog.md", `## First thing

Body.

## Second thing

**Depends on**: First Thing, none
`)
	tasks, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"first-thing"}, tasks[1].DependsOn)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "add-login-endpoint", Slug("Add login endpoint"))
	assert.Equal(t, "fix-http-500s", Slug("Fix HTTP 500s!"))
	assert.Equal(t, "a-b", Slug("  a  &  b  "))
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	md := writeFile(t, dir, "plan.md", "## Only task\n\nBody.\n")
	tasks, err := Load(md)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "only-task", tasks[0].ID)
}
