package verify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// testTimeout bounds the project test command.
const testTimeout = 5 * time.Minute

// DetectTestCommand inspects the project for a recognized test command.
// Returns empty if none is found, which disables the test stage.
func DetectTestCommand(workDir string) string {
	if _, err := os.Stat(filepath.Join(workDir, "go.mod")); err == nil {
		return "go test ./..."
	}

	if data, err := os.ReadFile(filepath.Join(workDir, "package.json")); err == nil {
		var pkg struct {
			Scripts map[string]string `json:"scripts"`
		}
		if json.Unmarshal(data, &pkg) == nil && pkg.Scripts["test"] != "" {
			return "npm test"
		}
	}

	for _, marker := range []string{"pytest.ini", "pyproject.toml", "setup.py"} {
		if _, err := os.Stat(filepath.Join(workDir, marker)); err == nil {
			return "pytest"
		}
	}

	return ""
}

// TestResult records one test command execution.
type TestResult struct {
	Command  string
	Output   string
	Passed   bool
	Duration time.Duration
}

// RunTests executes the test command and records its exit status.
// Exit 0 is the entire pass contract.
func RunTests(ctx context.Context, runner CommandRunner, workDir, command string) *TestResult {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	start := time.Now()
	output, err := runner.Run(ctx, workDir, command)
	return &TestResult{
		Command:  command,
		Output:   strings.TrimSpace(output),
		Passed:   err == nil,
		Duration: time.Since(start),
	}
}
