// Package verify inspects the repository change set after an agent
// session: structural diff anomalies, secret-like content, and the project
// test command. On failure it drives exactly one self-correction session.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harnesslab/overseer/internal/config"
	"github.com/harnesslab/overseer/internal/models"
)

// Report is the outcome of one verification pass.
type Report struct {
	Passed   bool
	Failure  *models.VerificationError
	Stats    *DiffStats
	Tests    *TestResult
	Duration time.Duration
}

// Feedback renders the failure for injection into a self-correction
// session's task context.
func (r *Report) Feedback() string {
	if r.Passed || r.Failure == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Verification failed (%s): %s\n", r.Failure.Kind, r.Failure.Details)
	if r.Tests != nil && !r.Tests.Passed {
		fmt.Fprintf(&sb, "\nTest command `%s` output:\n%s\n", r.Tests.Command, truncate(r.Tests.Output, 4000))
	}
	return sb.String()
}

// Pipeline runs the verification stages against one working tree.
// Analyzer and Runner are injectable for testing.
type Pipeline struct {
	Analyzer *DiffAnalyzer
	Runner   CommandRunner

	cfg     config.VerifyConfig
	workDir string
}

// NewPipeline creates a Pipeline for the working tree.
func NewPipeline(workDir string, cfg config.VerifyConfig) *Pipeline {
	return &Pipeline{
		Analyzer: NewDiffAnalyzer(workDir),
		Runner:   ShellRunner{},
		cfg:      cfg,
		workDir:  workDir,
	}
}

// Verify runs one verification pass: diff anomaly checks, secret scan,
// then the test command. The first failing stage decides the failure kind.
func (p *Pipeline) Verify(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	stats, err := p.Analyzer.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze change set: %w", err)
	}
	report.Stats = stats

	if failure := p.checkAnomalies(stats); failure != nil {
		report.Failure = failure
		report.Duration = time.Since(start)
		return report, nil
	}

	if p.cfg.SecretScan {
		failure, err := p.checkSecrets(ctx, stats)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			report.Failure = failure
			report.Duration = time.Since(start)
			return report, nil
		}
	}

	command := p.cfg.TestCommand
	if command == "" {
		command = DetectTestCommand(p.workDir)
	}
	if command != "" {
		report.Tests = RunTests(ctx, p.Runner, p.workDir, command)
		if !report.Tests.Passed {
			report.Failure = &models.VerificationError{
				Kind:    models.VerifyTestsFailed,
				Details: fmt.Sprintf("`%s` exited non-zero", command),
			}
			report.Duration = time.Since(start)
			return report, nil
		}
	}

	report.Passed = true
	report.Duration = time.Since(start)
	return report, nil
}

// Inspect runs only the structural stages: diff anomalies and the secret
// scan, never the test command and never self-correction. Used on the
// change set a timed-out or stalled session leaves behind, where running
// the project tests against half-finished work would prove nothing.
func (p *Pipeline) Inspect(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	stats, err := p.Analyzer.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze change set: %w", err)
	}
	report.Stats = stats

	report.Failure = p.checkAnomalies(stats)
	if report.Failure == nil && p.cfg.SecretScan {
		failure, err := p.checkSecrets(ctx, stats)
		if err != nil {
			return nil, err
		}
		report.Failure = failure
	}

	report.Passed = report.Failure == nil
	report.Duration = time.Since(start)
	return report, nil
}

// checkAnomalies flags mass deletions and newly introduced binary files.
func (p *Pipeline) checkAnomalies(stats *DiffStats) *models.VerificationError {
	if stats.Deleted >= p.cfg.MinDeletedLines && stats.Ratio() > p.cfg.DeletionRatio {
		return &models.VerificationError{
			Kind: models.VerifyDiffAnomaly,
			Details: fmt.Sprintf("deleted %d lines vs %d added (ratio %.1f exceeds %.1f)",
				stats.Deleted, stats.Added, stats.Ratio(), p.cfg.DeletionRatio),
		}
	}
	if len(stats.BinaryFiles) > 0 {
		return &models.VerificationError{
			Kind:    models.VerifyDiffAnomaly,
			Details: fmt.Sprintf("binary files added to change set: %s", strings.Join(stats.BinaryFiles, ", ")),
		}
	}
	return nil
}

// checkSecrets scans filenames and added lines for credential material.
func (p *Pipeline) checkSecrets(ctx context.Context, stats *DiffStats) (*models.VerificationError, error) {
	findings := ScanSecretFiles(stats.Files)

	lines, err := p.Analyzer.AddedLines(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan added lines: %w", err)
	}
	findings = append(findings, ScanAddedLines(lines)...)

	if len(findings) == 0 {
		return nil, nil
	}

	details := make([]string, 0, len(findings))
	for _, f := range findings {
		details = append(details, f.String())
	}
	return &models.VerificationError{
		Kind:    models.VerifySecretDetected,
		Details: strings.Join(details, "; "),
	}, nil
}

// CorrectionFunc runs one corrective agent session with the verification
// feedback appended to the task context.
type CorrectionFunc func(ctx context.Context, feedback string) error

// VerifyWithCorrection runs verification and, on failure, exactly one
// self-correction session followed by one re-verification. A second
// failure is terminal for this attempt.
func (p *Pipeline) VerifyWithCorrection(ctx context.Context, correct CorrectionFunc) (*Report, error) {
	report, err := p.Verify(ctx)
	if err != nil {
		return nil, err
	}
	if report.Passed || !p.cfg.SelfCorrect || correct == nil {
		return report, nil
	}

	if err := correct(ctx, report.Feedback()); err != nil {
		return report, fmt.Errorf("self-correction session: %w", err)
	}

	return p.Verify(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
