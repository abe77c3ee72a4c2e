package canary

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harnesslab/overseer/internal/config"
	"github.com/harnesslab/overseer/internal/filelock"
	"github.com/harnesslab/overseer/internal/models"
	"github.com/harnesslab/overseer/internal/session"
)

// resultsFile stores the append-only comparison log under the state dir.
const resultsFile = "canary/results.json"

// minControlDuration gates the slowdown heuristic: below this, timing
// noise dominates and slowdown factors are meaningless.
const minControlDuration = time.Second

// Comparator runs the same task on a control ref and a canary ref in
// isolated worktrees, concurrently, and judges the divergence.
type Comparator struct {
	cfg       config.CanaryConfig
	agent     string
	extraArgs []string
	git       GitRunner
	statePath string
}

// NewComparator creates a Comparator writing results under stateDir.
func NewComparator(stateDir, agentCommand string, cfg config.CanaryConfig) *Comparator {
	return &Comparator{
		cfg:       cfg,
		agent:     agentCommand,
		git:       ExecGitRunner{},
		statePath: filepath.Join(stateDir, resultsFile),
	}
}

// Compare runs task on controlRef and canaryRef and records the verdict.
// Each side gets its own worktree, session runner and process registry so
// neither can touch the other's tree. Worktrees are removed on every path.
func (c *Comparator) Compare(ctx context.Context, task models.Task, controlRef, canaryRef string, repoDir string) (*models.CanaryResult, error) {
	result := &models.CanaryResult{
		ID:         fmt.Sprintf("cn-%s", uuid.NewString()[:8]),
		TaskID:     task.ID,
		ControlRef: controlRef,
		CanaryRef:  canaryRef,
		CreatedAt:  time.Now().UTC(),
	}

	control, err := NewWorktree(ctx, c.git, repoDir, controlRef, "control")
	if err != nil {
		return nil, err
	}
	defer control.Remove(context.Background())

	canary, err := NewWorktree(ctx, c.git, repoDir, canaryRef, "canary")
	if err != nil {
		return nil, err
	}
	defer canary.Remove(context.Background())

	runCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var controlRes, canaryRes *models.SessionResult
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		var err error
		controlRes, err = c.runSide(runCtx, task, control.Path)
		return err
	})
	g.Go(func() error {
		var err error
		canaryRes, err = c.runSide(runCtx, task, canary.Path)
		return err
	})
	if err := g.Wait(); err != nil {
		// Launch failure on either side: no comparable data.
		result.Verdict = models.CanaryInconclusive
		result.Regressions = []string{fmt.Sprintf("session launch failed: %v", err)}
		return result, c.append(result)
	}

	result.ControlSummary = summarize(controlRes)
	result.CanarySummary = summarize(canaryRes)
	result.ControlDuration = controlRes.Duration
	result.CanaryDuration = canaryRes.Duration
	result.DiffScore = DiffScore(
		sideText(controlRes.Output, c.treeChanges(ctx, control.Path)),
		sideText(canaryRes.Output, c.treeChanges(ctx, canary.Path)),
	)

	c.judge(result, controlRes, canaryRes)
	return result, c.append(result)
}

// runSide executes one session in its own worktree with a dedicated
// registry, so cleanup of one side never signals the other's process.
func (c *Comparator) runSide(ctx context.Context, task models.Task, workDir string) (*models.SessionResult, error) {
	registry := session.NewRegistry()
	defer registry.Shutdown(session.DefaultGrace)

	runner := session.NewRunner(c.agent, registry)
	runner.ExtraArgs = c.extraArgs
	if c.cfg.Timeout > 0 {
		runner.Timeout = c.cfg.Timeout
	}
	return runner.Run(ctx, session.Request{Task: task, WorkDir: workDir}, nil)
}

// treeChanges captures what a session changed in its worktree. Sessions
// producing identical chatter but different edits must still diverge.
// Untracked files are registered first so new files appear in the diff.
func (c *Comparator) treeChanges(ctx context.Context, dir string) string {
	_, _ = c.git.Run(ctx, dir, "add", "-A", "--intent-to-add")
	out, err := c.git.Run(ctx, dir, "diff", "HEAD")
	if err != nil {
		out, err = c.git.Run(ctx, dir, "diff")
		if err != nil {
			return ""
		}
	}
	return out
}

// sideText is the scored input for one side: session output plus the
// resulting tree changes.
func sideText(output, changes string) string {
	if changes == "" {
		return output
	}
	return output + "\n" + changes
}

// judge applies the regression heuristics in order. Any timeout or crash
// on either side makes the comparison inconclusive: there is no trustworthy
// baseline to diverge from.
func (c *Comparator) judge(result *models.CanaryResult, control, canary *models.SessionResult) {
	if !comparableOutcome(control.Outcome) || !comparableOutcome(canary.Outcome) {
		result.Verdict = models.CanaryInconclusive
		result.Regressions = append(result.Regressions,
			fmt.Sprintf("control outcome %s, canary outcome %s", control.Outcome, canary.Outcome))
		return
	}

	controlErrs := errorLines(control.Output)
	for line := range errorLines(canary.Output) {
		if !controlErrs[line] {
			result.Regressions = append(result.Regressions, "new error in canary output: "+line)
		}
	}

	if control.Duration >= minControlDuration && canary.Duration > time.Duration(float64(control.Duration)*c.cfg.SlowdownFactor) {
		result.Regressions = append(result.Regressions,
			fmt.Sprintf("canary %.1fx slower than control (%s vs %s)",
				float64(canary.Duration)/float64(control.Duration),
				canary.Duration.Round(time.Millisecond), control.Duration.Round(time.Millisecond)))
	}

	if result.DiffScore > c.cfg.ScoreThreshold {
		result.Regressions = append(result.Regressions,
			fmt.Sprintf("output divergence %.2f exceeds %.2f", result.DiffScore, c.cfg.ScoreThreshold))
	}

	if len(result.Regressions) > 0 {
		result.Verdict = models.CanaryRegression
	} else {
		result.Verdict = models.CanaryPass
	}
}

func comparableOutcome(o models.Outcome) bool {
	return o == models.OutcomeSuccess || o == models.OutcomeCompleted
}

// errorLines extracts lines carrying error markers, as a set.
func errorLines(output string) map[string]bool {
	set := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "ERROR") || strings.Contains(upper, "FAIL") {
			set[strings.TrimSpace(line)] = true
		}
	}
	return set
}

func summarize(res *models.SessionResult) string {
	s := string(res.Outcome)
	if res.ErrorText != "" {
		s += ": " + firstLine(res.ErrorText)
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// append persists the result to the comparison log.
func (c *Comparator) append(result *models.CanaryResult) error {
	var log []models.CanaryResult
	if _, err := filelock.LoadJSON(c.statePath, &log); err != nil {
		return fmt.Errorf("load canary log: %w", err)
	}
	log = append(log, *result)
	if err := filelock.SaveJSON(c.statePath, log); err != nil {
		return fmt.Errorf("persist canary log: %w", err)
	}
	return nil
}

// Stats aggregates the stored comparison log.
type Stats struct {
	Total        int
	Pass         int
	Regression   int
	Inconclusive int
	MeanScore    float64
}

// LoadStats reads the comparison log under stateDir and aggregates it.
func LoadStats(stateDir string) (*Stats, []models.CanaryResult, error) {
	path := filepath.Join(stateDir, resultsFile)
	var log []models.CanaryResult
	if _, err := filelock.LoadJSON(path, &log); err != nil {
		return nil, nil, fmt.Errorf("load canary log: %w", err)
	}

	stats := &Stats{Total: len(log)}
	sum := 0.0
	for _, r := range log {
		switch r.Verdict {
		case models.CanaryPass:
			stats.Pass++
		case models.CanaryRegression:
			stats.Regression++
		default:
			stats.Inconclusive++
		}
		sum += r.DiffScore
	}
	if stats.Total > 0 {
		stats.MeanScore = sum / float64(stats.Total)
	}
	return stats, log, nil
}
