// Package jobstore persists generation jobs in SQLite and implements
// the conditional state transitions the pipeline's concurrency model
// relies on.
//
// All cross-worker coordination goes through conditional UPDATEs here:
// a transition succeeds for exactly one caller and every loser finds
// out via the affected-row count. No in-process locks are assumed, so
// workers may run in separate processes against the same database.
package jobstore

import (
	"encoding/json"
	"time"

	"github.com/factgate/factgate/pkg/verify"
)

// JobState is the lifecycle state of a generation job.
//
// NOTE: These values are persisted and are part of the stable on-disk
// contract. States only move forward:
//
//	PENDING → PROCESSING → {COMPLETED | FAILED | DEAD_LETTERED}
//	PROCESSING → PENDING (bounded retry requeue only)
type JobState string

const (
	StatePending      JobState = "PENDING"
	StateProcessing   JobState = "PROCESSING"
	StateCompleted    JobState = "COMPLETED"
	StateFailed       JobState = "FAILED"
	StateDeadLettered JobState = "DEAD_LETTERED"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateDeadLettered:
		return true
	}
	return false
}

// JobError is the structured error attached to terminal non-completed
// jobs.
type JobError struct {
	// Kind is a machine-readable error code from the pipeline taxonomy
	// (e.g., "TIMEOUT", "FACT_VERIFICATION_FAILED").
	Kind string `json:"kind"`

	Message string `json:"message"`

	// Violations carries the field-level detail when Kind is
	// FACT_VERIFICATION_FAILED.
	Violations []verify.Violation `json:"violations,omitempty"`
}

// JobRecord is the persistent record for one generation job.
type JobRecord struct {
	JobID string `json:"job_id"`

	// Fingerprint is the deterministic hash of (subject id, payload,
	// kind). A partial unique index guarantees at most one live job
	// per fingerprint.
	Fingerprint string `json:"fingerprint"`

	SubjectID string          `json:"subject_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`

	State JobState `json:"state"`

	// AttemptCount is incremented on each successful worker claim.
	AttemptCount int `json:"attempt_count"`

	// ClaimOwner is the token of the attempt currently holding the
	// PROCESSING claim. Commit operations are conditional on it, which
	// is what makes duplicate queue deliveries safe.
	ClaimOwner string `json:"claim_owner,omitempty"`

	// ResultRef points into the result store; set only on COMPLETED.
	ResultRef string `json:"result_ref,omitempty"`

	// Error is set only on FAILED and DEAD_LETTERED.
	Error *JobError `json:"error,omitempty"`

	// Report is the serialized verification report, kept for completed
	// jobs with warnings and for verification failures.
	Report json.RawMessage `json:"report,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
