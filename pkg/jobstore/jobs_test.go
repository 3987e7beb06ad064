package jobstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factgate/factgate/pkg/verify"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newJob(id, fingerprint string) *JobRecord {
	return &JobRecord{
		JobID:       id,
		Fingerprint: fingerprint,
		SubjectID:   "cand-123",
		Kind:        "summary",
		Payload:     json.RawMessage(`{"target_role":"SRE"}`),
	}
}

func TestCreateIfAbsentAcrossStores(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	a, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	created, _, err := a.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
	require.NoError(t, err)
	assert.True(t, created)

	// A second process submitting the same fingerprint gets the
	// existing job's record, never an error.
	created, rec, err := b.CreateIfAbsent(ctx, newJob("job-2", "fp-a"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "job-1", rec.JobID)
}

func TestLiveFingerprintIndexArbitratesInserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	insert := func(jobID string) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs (job_id, fingerprint, subject_id, kind, payload, state,
				attempt_count, created_at, updated_at)
			VALUES (?, 'fp-a', 'cand-123', 'summary', '{}', 'PENDING', 0, ?, ?)`,
			jobID, formatTime(time.Now().UTC()), formatTime(time.Now().UTC()))
		return err
	}

	// The second insert of the same live fingerprint is the write a
	// racing process would attempt after both passed the existence
	// check; it must be recognizable so the loser re-reads the winner.
	require.NoError(t, insert("job-1"))
	err := insert("job-2")
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(context.Canceled))
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)

	// Open runs Migrate; running it again must be harmless.
	require.NoError(t, Migrate(context.Background(), s.db))
	require.NoError(t, Migrate(context.Background(), s.db))
}

func TestCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, rec, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatePending, rec.State)

	t.Run("LiveDuplicateReturnsExisting", func(t *testing.T) {
		created, rec, err := s.CreateIfAbsent(ctx, newJob("job-2", "fp-a"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "job-1", rec.JobID)
	})

	t.Run("DifferentFingerprintCreates", func(t *testing.T) {
		created, rec, err := s.CreateIfAbsent(ctx, newJob("job-3", "fp-b"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "job-3", rec.JobID)
	})

	t.Run("TerminalJobDoesNotBlockResubmission", func(t *testing.T) {
		_, claimed, err := s.Claim(ctx, "job-3", "owner-x")
		require.NoError(t, err)
		require.True(t, claimed)
		committed, err := s.Complete(ctx, "job-3", "owner-x", "ref-3", nil)
		require.NoError(t, err)
		require.True(t, committed)

		created, rec, err := s.CreateIfAbsent(ctx, newJob("job-4", "fp-b"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "job-4", rec.JobID)
	})

	t.Run("RejectsMissingFields", func(t *testing.T) {
		_, _, err := s.CreateIfAbsent(ctx, &JobRecord{JobID: "x"})
		assert.Error(t, err)
		_, _, err = s.CreateIfAbsent(ctx, nil)
		assert.Error(t, err)
	})
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
	require.NoError(t, err)

	rec, claimed, err := s.Claim(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, StateProcessing, rec.State)
	assert.Equal(t, "owner-1", rec.ClaimOwner)
	assert.Equal(t, 1, rec.AttemptCount)

	t.Run("SecondClaimLoses", func(t *testing.T) {
		_, claimed, err := s.Claim(ctx, "job-1", "owner-2")
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("MissingJobClaimLoses", func(t *testing.T) {
		_, claimed, err := s.Claim(ctx, "no-such-job", "owner-1")
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestCompleteConditionalOnOwner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
	require.NoError(t, err)
	_, claimed, err := s.Claim(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	require.True(t, claimed)

	t.Run("WrongOwnerDiscards", func(t *testing.T) {
		committed, err := s.Complete(ctx, "job-1", "owner-2", "ref-x", nil)
		require.NoError(t, err)
		assert.False(t, committed)
	})

	report := json.RawMessage(`{"passed":true,"violations":[],"has_critical":false}`)
	committed, err := s.Complete(ctx, "job-1", "owner-1", "ref-1", report)
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, "ref-1", rec.ResultRef)
	assert.Empty(t, rec.ClaimOwner)
	assert.JSONEq(t, string(report), string(rec.Report))

	t.Run("DoubleCompleteDiscards", func(t *testing.T) {
		committed, err := s.Complete(ctx, "job-1", "owner-1", "ref-2", nil)
		require.NoError(t, err)
		assert.False(t, committed)
	})
}

func TestFailRecordsErrorAndReport(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
	require.NoError(t, err)
	_, claimed, err := s.Claim(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	require.True(t, claimed)

	jobErr := &JobError{
		Kind:    "FACT_VERIFICATION_FAILED",
		Message: "artifact contradicts source facts",
		Violations: []verify.Violation{
			{Field: "company", Tier: verify.TierImmutable, Expected: "Acme Corp", Found: "Beta Inc", Severity: verify.SeverityCritical},
		},
	}
	committed, err := s.Fail(ctx, "job-1", "owner-1", jobErr, json.RawMessage(`{"passed":false}`))
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "FACT_VERIFICATION_FAILED", rec.Error.Kind)
	require.Len(t, rec.Error.Violations, 1)
	assert.Equal(t, "Beta Inc", rec.Error.Violations[0].Found)
}

func TestRequeueAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
	require.NoError(t, err)

	_, claimed, err := s.Claim(ctx, "job-1", "owner-1")
	require.NoError(t, err)
	require.True(t, claimed)

	committed, err := s.Requeue(ctx, "job-1", "owner-1", &JobError{Kind: "TIMEOUT", Message: "generation timed out"})
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State)
	assert.Equal(t, 1, rec.AttemptCount)

	// Next claim bumps the attempt count.
	rec, claimed, err = s.Claim(ctx, "job-1", "owner-2")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, 2, rec.AttemptCount)

	committed, err = s.DeadLetter(ctx, "job-1", "owner-2", &JobError{Kind: "TIMEOUT", Message: "retry budget exhausted"})
	require.NoError(t, err)
	assert.True(t, committed)

	rec, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateDeadLettered, rec.State)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "TIMEOUT", rec.Error.Kind)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	t.Run("PendingJob", func(t *testing.T) {
		_, _, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-a"))
		require.NoError(t, err)

		cancelled, err := s.Cancel(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, cancelled)

		rec, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, StateFailed, rec.State)
		require.NotNil(t, rec.Error)
		assert.Equal(t, "CANCELLED", rec.Error.Kind)
	})

	t.Run("ProcessingJobLosesCommit", func(t *testing.T) {
		_, _, err := s.CreateIfAbsent(ctx, newJob("job-2", "fp-b"))
		require.NoError(t, err)
		_, claimed, err := s.Claim(ctx, "job-2", "owner-1")
		require.NoError(t, err)
		require.True(t, claimed)

		cancelled, err := s.Cancel(ctx, "job-2")
		require.NoError(t, err)
		assert.True(t, cancelled)

		// The in-flight worker's commit must be discarded.
		committed, err := s.Complete(ctx, "job-2", "owner-1", "ref-x", nil)
		require.NoError(t, err)
		assert.False(t, committed)

		rec, err := s.Get(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, StateFailed, rec.State)
		assert.Empty(t, rec.ResultRef)
	})

	t.Run("TerminalJobUntouched", func(t *testing.T) {
		cancelled, err := s.Cancel(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, cancelled)
	})

	t.Run("MissingJob", func(t *testing.T) {
		cancelled, err := s.Cancel(ctx, "no-such-job")
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestRecoverStale(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// One pending job, one fresh claim, one stale claim, one completed.
	_, _, err := s.CreateIfAbsent(ctx, newJob("job-pending", "fp-1"))
	require.NoError(t, err)

	_, _, err = s.CreateIfAbsent(ctx, newJob("job-fresh", "fp-2"))
	require.NoError(t, err)
	_, claimed, err := s.Claim(ctx, "job-fresh", "owner-f")
	require.NoError(t, err)
	require.True(t, claimed)

	_, _, err = s.CreateIfAbsent(ctx, newJob("job-stale", "fp-3"))
	require.NoError(t, err)
	_, claimed, err = s.Claim(ctx, "job-stale", "owner-s")
	require.NoError(t, err)
	require.True(t, claimed)

	_, _, err = s.CreateIfAbsent(ctx, newJob("job-done", "fp-4"))
	require.NoError(t, err)
	_, claimed, err = s.Claim(ctx, "job-done", "owner-d")
	require.NoError(t, err)
	require.True(t, claimed)
	committed, err := s.Complete(ctx, "job-done", "owner-d", "ref-d", nil)
	require.NoError(t, err)
	require.True(t, committed)

	// A cutoff in the future makes every processing claim stale; the
	// fresh claim is excluded by using a cutoff in the past afterwards.
	recovered, err := s.RecoverStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	ids := make([]string, 0, len(recovered))
	for _, rec := range recovered {
		assert.Equal(t, StatePending, rec.State)
		ids = append(ids, rec.JobID)
	}
	assert.ElementsMatch(t, []string{"job-pending", "job-fresh", "job-stale"}, ids)

	// Recovered jobs are claimable again; the stale owner lost.
	rec, claimed, err := s.Claim(ctx, "job-stale", "owner-new")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, 2, rec.AttemptCount)

	committedStale, err := s.Complete(ctx, "job-stale", "owner-s", "ref-old", nil)
	require.NoError(t, err)
	assert.False(t, committedStale)
}

func TestRecoverStaleKeepsFreshClaims(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.CreateIfAbsent(ctx, newJob("job-fresh", "fp-1"))
	require.NoError(t, err)
	_, claimed, err := s.Claim(ctx, "job-fresh", "owner-f")
	require.NoError(t, err)
	require.True(t, claimed)

	recovered, err := s.RecoverStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recovered)

	rec, err := s.Get(ctx, "job-fresh")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, rec.State)
}

func TestListByState(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.CreateIfAbsent(ctx, newJob("job-1", "fp-1"))
	require.NoError(t, err)
	_, _, err = s.CreateIfAbsent(ctx, newJob("job-2", "fp-2"))
	require.NoError(t, err)

	pending, err := s.ListByState(ctx, StatePending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	done, err := s.ListByState(ctx, StateCompleted)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateDeadLettered.Terminal())
}
