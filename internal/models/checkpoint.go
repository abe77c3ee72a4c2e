package models

import "time"

// Checkpoint is an immutable record of a restorable repository snapshot.
// Checkpoints form a total order by creation time; the last known good
// checkpoint is the most recent one with Verified=true.
type Checkpoint struct {
	ID         string    `json:"id"`
	CommitHash string    `json:"commit_hash"`
	CreatedAt  time.Time `json:"created_at"`
	Verified   bool      `json:"verified"`

	// Session metadata recorded at creation.
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
	Summary string `json:"summary,omitempty"`
}
