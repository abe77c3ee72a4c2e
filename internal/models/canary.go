package models

import "time"

// CanaryVerdict is the outcome of a control/canary comparison.
type CanaryVerdict string

const (
	CanaryPass         CanaryVerdict = "pass"
	CanaryRegression   CanaryVerdict = "regression"
	CanaryInconclusive CanaryVerdict = "inconclusive"
)

// CanaryResult records one control/canary comparison run.
// Created once per run and never mutated afterwards.
type CanaryResult struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	ControlRef string    `json:"control_ref"`
	CanaryRef  string    `json:"canary_ref"`
	CreatedAt  time.Time `json:"created_at"`

	ControlSummary  string        `json:"control_summary"`
	CanarySummary   string        `json:"canary_summary"`
	ControlDuration time.Duration `json:"control_duration"`
	CanaryDuration  time.Duration `json:"canary_duration"`

	// DiffScore is 0 for identical outputs and 1 for maximal divergence.
	DiffScore float64 `json:"diff_score"`

	// Regressions lists the heuristics that fired (new errors, slowdown,
	// output divergence).
	Regressions []string `json:"regressions,omitempty"`

	Verdict CanaryVerdict `json:"verdict"`
}
