package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for orchestrator-level decisions.
var (
	// ErrRetryExhausted indicates a task used up its retry budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrStoreUnavailable indicates the pattern store is corrupt or
	// unreadable. The run continues with pattern injection disabled.
	ErrStoreUnavailable = errors.New("pattern store unavailable")

	// ErrStallDetected is used as a cancellation cause when the stall
	// detector flags a session. The executor maps it to OutcomeStalled.
	ErrStallDetected = errors.New("stall detected")
)

// CycleError reports a dependency cycle detected at graph construction.
// Adding the offending edge is rejected and the graph left unchanged.
type CycleError struct {
	// Path is the dependency chain that closes the cycle, ending at the
	// task that started it.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// VerificationKind classifies a verification failure.
type VerificationKind string

const (
	// VerifyDiffAnomaly flags structurally suspicious change sets
	// (mass deletions, new binary files).
	VerifyDiffAnomaly VerificationKind = "diff-anomaly"

	// VerifySecretDetected flags credential-like content in the change set.
	VerifySecretDetected VerificationKind = "secret-detected"

	// VerifyTestsFailed flags a non-zero exit from the project test command.
	VerifyTestsFailed VerificationKind = "tests-failed"
)

// VerificationError reports a failed post-session verification.
// The pipeline allows exactly one self-correction session per attempt
// before this becomes terminal for the attempt.
type VerificationError struct {
	Kind    VerificationKind
	Details string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed (%s): %s", e.Kind, e.Details)
}

// RollbackError reports a failed rollback. This is fatal: proceeding from
// an unknown repository state is not allowed.
type RollbackError struct {
	Reason string
	Err    error
}

func (e *RollbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rollback failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("rollback failed: %s", e.Reason)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}
