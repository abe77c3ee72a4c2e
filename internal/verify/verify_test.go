package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harnesslab/overseer/internal/config"
	"github.com/harnesslab/overseer/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// scriptRunner maps command substrings to canned outputs.
type scriptRunner struct {
	responses map[string]string
	errors    map[string]error
	calls     []string
}

func (s *scriptRunner) Run(ctx context.Context, dir, command string) (string, error) {
	s.calls = append(s.calls, command)
	// Longest matching key wins so "--numstat" beats the bare "git diff".
	best := ""
	for key := range s.responses {
		if strings.Contains(command, key) && len(key) > len(best) {
			best = key
		}
	}
	for key := range s.errors {
		if strings.Contains(command, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", nil
	}
	return s.responses[best], s.errors[best]
}

func TestDiffStatsParsesNumstat(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "10\t2\tmain.go\n-\t-\tlogo.png\n0\t150\told.go\n",
	}}
	a := &DiffAnalyzer{WorkDir: ".", Runner: runner}

	stats, err := a.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Added)
	assert.Equal(t, 152, stats.Deleted)
	assert.Equal(t, []string{"logo.png"}, stats.BinaryFiles)
	assert.Equal(t, []string{"main.go", "logo.png", "old.go"}, stats.Files)
}

func TestRatioHandlesPureDeletions(t *testing.T) {
	assert.InDelta(t, 2.0, DiffStats{Added: 100, Deleted: 200}.Ratio(), 0.001)
	// Pure deletion: the deleted count itself, never divided away.
	assert.InDelta(t, 500.0, DiffStats{Added: 0, Deleted: 500}.Ratio(), 0.001)
}

func TestAddedLinesExtraction(t *testing.T) {
	diff := `diff --git a/config.py b/config.py
--- a/config.py
+++ b/config.py
@@ -1,3 +1,4 @@
 import os
+API_KEY = "abc"
-old_line
+new_line`
	runner := &scriptRunner{responses: map[string]string{"git diff": diff}}
	a := &DiffAnalyzer{WorkDir: ".", Runner: runner}

	lines, err := a.AddedLines(context.Background())
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "config.py", lines[0].File)
	assert.Equal(t, `API_KEY = "abc"`, lines[0].Text)
}

func TestScanSecretFilesFlagsKeyMaterial(t *testing.T) {
	findings := ScanSecretFiles([]string{
		"src/main.go",
		"deploy/server.pem",
		".env",
		"docs/.env.production",
		"keys/id_rsa",
	})
	files := make([]string, 0, len(findings))
	for _, f := range findings {
		files = append(files, f.File)
	}
	assert.ElementsMatch(t, []string{"deploy/server.pem", ".env", "docs/.env.production", "keys/id_rsa"}, files)
}

func TestScanAddedLinesFlagsCredentialAssignments(t *testing.T) {
	lines := []AddedLine{
		{File: "config.py", Text: `password = "hunter2"`},
		{File: "main.go", Text: `count := len(items)`},
		{File: "settings.rb", Text: `api_key: ENV_VALUE`},
	}
	findings := ScanAddedLines(lines)
	require.Len(t, findings, 2)
	assert.Equal(t, "config.py", findings[0].File)
	assert.Equal(t, "settings.rb", findings[1].File)
}

func TestScanAddedLinesFlagsHighEntropyTokens(t *testing.T) {
	lines := []AddedLine{
		{File: "deploy.sh", Text: "curl -H 'X-Auth: aG93ZHkteW91LWZvdW5kLXRoZS1lZ2c5OTEy'"},
		{File: "readme.md", Text: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	}
	findings := ScanAddedLines(lines)
	require.Len(t, findings, 1)
	assert.Equal(t, "deploy.sh", findings[0].File)
	assert.Contains(t, findings[0].Reason, "high-entropy")
}

func TestShannonEntropyBounds(t *testing.T) {
	assert.InDelta(t, 0.0, shannonEntropy("aaaa"), 0.001)
	assert.Greater(t, shannonEntropy("a8F!kQ93zL"), shannonEntropy("abababab"))
}

func TestDetectTestCommand(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"go project", map[string]string{"go.mod": "module x"}, "go test ./..."},
		{"npm project", map[string]string{"package.json": `{"scripts":{"test":"jest"}}`}, "npm test"},
		{"npm without test script", map[string]string{"package.json": `{"scripts":{}}`}, ""},
		{"pytest project", map[string]string{"pyproject.toml": ""}, "pytest"},
		{"nothing recognized", map[string]string{"Makefile": ""}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}
			assert.Equal(t, tt.want, DetectTestCommand(dir))
		})
	}
}

func TestPipelineFlagsMassDeletion(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "5\t400\tcore.go\n",
	}}
	p := newTestPipeline(runner)

	report, err := p.Verify(context.Background())
	require.NoError(t, err)
	require.False(t, report.Passed)
	require.NotNil(t, report.Failure)
	assert.Equal(t, models.VerifyDiffAnomaly, report.Failure.Kind)
	assert.Contains(t, report.Failure.Details, "ratio")
}

func TestPipelineIgnoresSmallDeletions(t *testing.T) {
	// Heavy ratio but below the deleted-lines gate.
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "1\t50\tcore.go\n",
		"git diff":  "",
	}}
	p := newTestPipeline(runner)

	report, err := p.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestPipelineFlagsBinaryFiles(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "-\t-\tblob.bin\n",
	}}
	p := newTestPipeline(runner)

	report, err := p.Verify(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Failure)
	assert.Equal(t, models.VerifyDiffAnomaly, report.Failure.Kind)
	assert.Contains(t, report.Failure.Details, "blob.bin")
}

func TestPipelineFlagsSecrets(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "2\t0\tconfig.py\n",
		"git diff": `+++ b/config.py
+password = "hunter2"`,
	}}
	p := newTestPipeline(runner)

	report, err := p.Verify(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Failure)
	assert.Equal(t, models.VerifySecretDetected, report.Failure.Kind)
}

func TestPipelineRunsConfiguredTestCommand(t *testing.T) {
	runner := &scriptRunner{
		responses: map[string]string{
			"--numstat": "2\t0\tmain.go\n",
			"git diff":  "",
			"make test": "FAIL: TestThing",
		},
		errors: map[string]error{"make test": fmt.Errorf("exit status 1")},
	}
	p := newTestPipeline(runner)
	p.cfg.TestCommand = "make test"

	report, err := p.Verify(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Failure)
	assert.Equal(t, models.VerifyTestsFailed, report.Failure.Kind)
	require.NotNil(t, report.Tests)
	assert.Contains(t, report.Tests.Output, "FAIL: TestThing")
}

func TestInspectRunsStructuralStagesOnly(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "2\t0\tconfig.py\n",
		"git diff": `+++ b/config.py
+password = "hunter2"`,
		"make test": "should never run",
	}}
	p := newTestPipeline(runner)
	p.cfg.TestCommand = "make test"

	report, err := p.Inspect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Failure)
	assert.Equal(t, models.VerifySecretDetected, report.Failure.Kind)
	assert.False(t, report.Passed)

	// Half-finished work is inspected, never tested.
	for _, call := range runner.calls {
		assert.NotContains(t, call, "make test")
	}
}

func TestInspectPassesOnCleanTree(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "2\t0\tmain.go\n",
		"git diff":  "",
	}}
	p := newTestPipeline(runner)

	report, err := p.Inspect(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Nil(t, report.Failure)
}

func TestVerifyWithCorrectionRunsExactlyOnce(t *testing.T) {
	runner := &scriptRunner{
		responses: map[string]string{
			"--numstat": "2\t0\tmain.go\n",
			"git diff":  "",
			"make test": "",
		},
		errors: map[string]error{"make test": fmt.Errorf("exit status 1")},
	}
	p := newTestPipeline(runner)
	p.cfg.TestCommand = "make test"

	corrections := 0
	report, err := p.VerifyWithCorrection(context.Background(), func(ctx context.Context, feedback string) error {
		corrections++
		assert.Contains(t, feedback, "tests-failed")
		// The correction does not fix the tests; the re-verify must fail
		// without a second correction.
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, corrections)
	assert.False(t, report.Passed)
}

func TestVerifyWithCorrectionSkipsWhenPassing(t *testing.T) {
	runner := &scriptRunner{responses: map[string]string{
		"--numstat": "2\t0\tmain.go\n",
		"git diff":  "",
	}}
	p := newTestPipeline(runner)

	corrections := 0
	report, err := p.VerifyWithCorrection(context.Background(), func(ctx context.Context, feedback string) error {
		corrections++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Zero(t, corrections)
}

func newTestPipeline(runner CommandRunner) *Pipeline {
	cfg := config.VerifyConfig{
		DeletionRatio:   3.0,
		MinDeletedLines: 100,
		SecretScan:      true,
		SelfCorrect:     true,
	}
	p := NewPipeline(".", cfg)
	p.Analyzer.Runner = runner
	p.Runner = runner
	return p
}
