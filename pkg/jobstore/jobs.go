package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `job_id, fingerprint, subject_id, kind, payload, state,
	attempt_count, claim_owner, result_ref, error, report, created_at, updated_at`

// CreateIfAbsent inserts rec unless a live (non-terminal) job with the
// same fingerprint already exists.
//
// This is the idempotency contract: two concurrent submissions with an
// identical fingerprint collapse to exactly one job. Returns
// (true, rec, nil) when rec was inserted, or (false, existing, nil)
// when the existing live job won.
func (s *Store) CreateIfAbsent(ctx context.Context, rec *JobRecord) (bool, *JobRecord, error) {
	if rec == nil {
		return false, nil, errors.New("job record is nil")
	}
	if strings.TrimSpace(rec.JobID) == "" || strings.TrimSpace(rec.Fingerprint) == "" {
		return false, nil, errors.New("job_id and fingerprint are required")
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.State = StatePending

	// A second process on the same database can insert the same
	// fingerprint between our existence check and our insert; the
	// unique live-fingerprint index arbitrates, and the loser re-reads
	// the winning row instead of surfacing the constraint error.
	for {
		created, existing, err := s.tryCreate(ctx, rec, now)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return false, nil, err
		}
		return created, existing, nil
	}
}

func (s *Store) tryCreate(ctx context.Context, rec *JobRecord, now time.Time) (bool, *JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
			WHERE fingerprint = ? AND state IN ('PENDING','PROCESSING')`, rec.Fingerprint))
	switch {
	case err == nil:
		return false, existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, nil, fmt.Errorf("query live job: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (job_id, fingerprint, subject_id, kind, payload, state,
			attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rec.JobID, rec.Fingerprint, rec.SubjectID, rec.Kind, string(rec.Payload),
		string(StatePending), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil, err
		}
		return false, nil, fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit create: %w", err)
	}
	return true, rec, nil
}

// isUniqueViolation reports whether err is the live-fingerprint unique
// index rejecting an insert.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Get returns the job with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	rec, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return rec, nil
}

// Claim atomically transitions the job from PENDING to PROCESSING on
// behalf of owner and increments the attempt count.
//
// Exactly one concurrent caller wins; the rest get claimed=false and
// must discard their delivery without side effects.
func (s *Store) Claim(ctx context.Context, jobID, owner string) (*JobRecord, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, claim_owner = ?, attempt_count = attempt_count + 1, updated_at = ?
			WHERE job_id = ? AND state = ?`,
		string(StateProcessing), owner, formatTime(time.Now().UTC()), jobID, string(StatePending))
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Complete commits the result of a claimed attempt: PROCESSING →
// COMPLETED, conditional on owner still holding the claim.
//
// First writer wins: a duplicate delivery that lost the claim, or a
// job cancelled mid-flight, gets committed=false and must discard its
// artifact.
func (s *Store) Complete(ctx context.Context, jobID, owner, resultRef string, report json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, result_ref = ?, report = ?, claim_owner = NULL, updated_at = ?
			WHERE job_id = ? AND state = ? AND claim_owner = ?`,
		string(StateCompleted), resultRef, nullableText(report), formatTime(time.Now().UTC()),
		jobID, string(StateProcessing), owner)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return oneRow(res)
}

// Fail terminally fails a claimed attempt: PROCESSING → FAILED,
// conditional on claim ownership.
func (s *Store) Fail(ctx context.Context, jobID, owner string, jobErr *JobError, report json.RawMessage) (bool, error) {
	errJSON, err := marshalJobError(jobErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, error = ?, report = ?, claim_owner = NULL, updated_at = ?
			WHERE job_id = ? AND state = ? AND claim_owner = ?`,
		string(StateFailed), errJSON, nullableText(report), formatTime(time.Now().UTC()),
		jobID, string(StateProcessing), owner)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return oneRow(res)
}

// Requeue returns a claimed attempt to PENDING for a bounded retry,
// recording the transient error for operators.
func (s *Store) Requeue(ctx context.Context, jobID, owner string, jobErr *JobError) (bool, error) {
	errJSON, err := marshalJobError(jobErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, last_error = ?, claim_owner = NULL, updated_at = ?
			WHERE job_id = ? AND state = ? AND claim_owner = ?`,
		string(StatePending), errJSON, formatTime(time.Now().UTC()),
		jobID, string(StateProcessing), owner)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return oneRow(res)
}

// DeadLetter moves a claimed attempt to DEAD_LETTERED after the retry
// budget is exhausted. Requires operator intervention from here.
func (s *Store) DeadLetter(ctx context.Context, jobID, owner string, jobErr *JobError) (bool, error) {
	errJSON, err := marshalJobError(jobErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, error = ?, claim_owner = NULL, updated_at = ?
			WHERE job_id = ? AND state = ? AND claim_owner = ?`,
		string(StateDeadLettered), errJSON, formatTime(time.Now().UTC()),
		jobID, string(StateProcessing), owner)
	if err != nil {
		return false, fmt.Errorf("dead-letter job: %w", err)
	}
	return oneRow(res)
}

// Cancel best-effort fails a live job with kind CANCELLED. In-flight
// workers lose their conditional commit once the row leaves
// PROCESSING.
func (s *Store) Cancel(ctx context.Context, jobID string) (bool, error) {
	jobErr := &JobError{Kind: "CANCELLED", Message: "cancelled by caller"}
	errJSON, err := marshalJobError(jobErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, error = ?, claim_owner = NULL, updated_at = ?
			WHERE job_id = ? AND state IN ('PENDING','PROCESSING')`,
		string(StateFailed), errJSON, formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return oneRow(res)
}

// RecoverStale returns the jobs that should be re-enqueued after a
// restart: everything PENDING, plus PROCESSING rows whose claim went
// quiet before staleBefore (crashed worker). Stale PROCESSING rows are
// reset to PENDING first so they can be claimed again.
//
// The job store, not the queue, is the source of truth across
// restarts; re-enqueueing here is what preserves at-least-once
// delivery when the in-process queue is lost.
func (s *Store) RecoverStale(ctx context.Context, staleBefore time.Time) ([]*JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs
			SET state = ?, claim_owner = NULL, updated_at = ?
			WHERE state = ? AND updated_at < ?`,
		string(StatePending), formatTime(time.Now().UTC()),
		string(StateProcessing), formatTime(staleBefore.UTC()))
	if err != nil {
		return nil, fmt.Errorf("reset stale claims: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at`, string(StatePending))
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recovery: %w", err)
	}
	return out, nil
}

// ListByState returns jobs in the given state, oldest first.
func (s *Store) ListByState(ctx context.Context, state JobState) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var (
		rec        JobRecord
		payload    string
		state      string
		claimOwner sql.NullString
		resultRef  sql.NullString
		errJSON    sql.NullString
		report     sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&rec.JobID, &rec.Fingerprint, &rec.SubjectID, &rec.Kind, &payload,
		&state, &rec.AttemptCount, &claimOwner, &resultRef, &errJSON, &report,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Payload = json.RawMessage(payload)
	rec.State = JobState(state)
	rec.ClaimOwner = claimOwner.String
	rec.ResultRef = resultRef.String

	if errJSON.Valid && errJSON.String != "" {
		var jobErr JobError
		if err := json.Unmarshal([]byte(errJSON.String), &jobErr); err != nil {
			return nil, fmt.Errorf("parse job error: %w", err)
		}
		rec.Error = &jobErr
	}
	if report.Valid && report.String != "" {
		rec.Report = json.RawMessage(report.String)
	}

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

func marshalJobError(jobErr *JobError) (string, error) {
	if jobErr == nil {
		return "", errors.New("structured job error is required")
	}
	b, err := json.Marshal(jobErr)
	if err != nil {
		return "", fmt.Errorf("marshal job error: %w", err)
	}
	return string(b), nil
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
