// Package orchestrator is the client-facing facade of the generation
// pipeline: it validates submissions, deduplicates them by content
// fingerprint, records jobs durably and dispatches them to the queue.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/factgate/factgate/internal/errors"
	"github.com/factgate/factgate/pkg/jobstore"
	"github.com/factgate/factgate/pkg/queue"
	"github.com/factgate/factgate/pkg/resultstore"
)

// DefaultHandleTTL is the retrieval handle lifetime when Config
// leaves HandleTTL zero.
const DefaultHandleTTL = time.Hour

// Config configures an orchestrator.
type Config struct {
	// HandleTTL is the lifetime of retrieval handles minted for
	// completed jobs.
	HandleTTL time.Duration

	// StaleClaimAge is how long a PROCESSING claim may sit before
	// startup recovery treats it as orphaned.
	StaleClaimAge time.Duration
}

// Orchestrator exposes the Submit/GetStatus/Cancel surface.
type Orchestrator struct {
	cfg     Config
	store   *jobstore.Store
	queue   queue.Queue
	results resultstore.Store
	log     *zap.Logger
}

// New creates an orchestrator. A nil logger gets a no-op default.
func New(cfg Config, store *jobstore.Store, q queue.Queue, results resultstore.Store, log *zap.Logger) *Orchestrator {
	if cfg.HandleTTL <= 0 {
		cfg.HandleTTL = DefaultHandleTTL
	}
	if cfg.StaleClaimAge <= 0 {
		cfg.StaleClaimAge = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, store: store, queue: q, results: results, log: log}
}

// JobHandle is the submission acknowledgement.
type JobHandle struct {
	JobID       string            `json:"job_id"`
	Fingerprint string            `json:"fingerprint"`
	State       jobstore.JobState `json:"state"`

	// Created is false when the submission matched an existing live
	// job and its handle was returned instead.
	Created bool `json:"created"`
}

// JobView is the full status of a job.
type JobView struct {
	JobID       string            `json:"job_id"`
	Fingerprint string            `json:"fingerprint"`
	SubjectID   string            `json:"subject_id"`
	Kind        string            `json:"kind"`
	State       jobstore.JobState `json:"state"`
	Attempts    int               `json:"attempts"`

	// ArtifactURL is a time-limited retrieval handle, present only on
	// COMPLETED jobs. It is re-minted on every status read.
	ArtifactURL string `json:"artifact_url,omitempty"`

	// Error is the structured failure, present on FAILED and
	// DEAD_LETTERED jobs.
	Error *jobstore.JobError `json:"error,omitempty"`

	// Report is the verification report recorded by the final attempt,
	// when one exists.
	Report json.RawMessage `json:"report,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Submit validates a submission, deduplicates it by fingerprint and
// enqueues a new job when none is live. Resubmitting identical content
// while a live job exists returns that job's handle with Created
// false.
func (o *Orchestrator) Submit(ctx context.Context, body []byte) (*JobHandle, error) {
	req, err := parseSubmit(body)
	if err != nil {
		return nil, err
	}

	fp, err := Fingerprint(req.SubjectID, req.Kind, req.Payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, "fingerprint submission", err)
	}

	rec := &jobstore.JobRecord{
		JobID:       uuid.NewString(),
		Fingerprint: fp,
		SubjectID:   req.SubjectID,
		Kind:        req.Kind,
		Payload:     req.Payload,
		State:       jobstore.StatePending,
	}

	created, rec, err := o.store.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "record job", err)
	}

	if !created {
		o.log.Debug("duplicate submission",
			zap.String("job_id", rec.JobID),
			zap.String("fingerprint", fp))
		return &JobHandle{JobID: rec.JobID, Fingerprint: fp, State: rec.State, Created: false}, nil
	}

	if err := o.queue.Enqueue(ctx, queue.Message{
		JobID:       rec.JobID,
		Fingerprint: fp,
	}); err != nil {
		// The record is durable; startup recovery or a later Submit of
		// the same content will re-dispatch it.
		o.log.Error("enqueue failed", zap.String("job_id", rec.JobID), zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindStorage, "dispatch job", err)
	}

	o.log.Info("job submitted",
		zap.String("job_id", rec.JobID),
		zap.String("subject_id", req.SubjectID),
		zap.String("kind", req.Kind),
		zap.String("fingerprint", fp))

	return &JobHandle{JobID: rec.JobID, Fingerprint: fp, State: rec.State, Created: true}, nil
}

// GetStatus returns the current view of a job. For COMPLETED jobs a
// fresh retrieval handle is minted from the stored result ref.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*JobView, error) {
	rec, err := o.store.Get(ctx, jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return nil, apperrors.Newf(apperrors.KindNotFound, "job %s not found", jobID)
		}
		return nil, apperrors.Wrap(apperrors.KindStorage, "load job", err)
	}

	view := &JobView{
		JobID:       rec.JobID,
		Fingerprint: rec.Fingerprint,
		SubjectID:   rec.SubjectID,
		Kind:        rec.Kind,
		State:       rec.State,
		Attempts:    rec.AttemptCount,
		Error:       rec.Error,
		Report:      rec.Report,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}

	if rec.State == jobstore.StateCompleted && rec.ResultRef != "" {
		url, err := o.results.Handle(ctx, rec.ResultRef, o.cfg.HandleTTL)
		if err != nil {
			// The job is still COMPLETED; surface the view without a
			// handle rather than failing the read.
			o.log.Warn("mint retrieval handle failed",
				zap.String("job_id", rec.JobID), zap.Error(err))
		} else {
			view.ArtifactURL = url
		}
	}

	return view, nil
}

// Cancel requests cancellation of a job. PENDING jobs never run;
// PROCESSING jobs lose their conditional commit, so any in-flight
// result is discarded. Terminal jobs are left untouched.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*JobView, error) {
	cancelled, err := o.store.Cancel(ctx, jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return nil, apperrors.Newf(apperrors.KindNotFound, "job %s not found", jobID)
		}
		return nil, apperrors.Wrap(apperrors.KindStorage, "cancel job", err)
	}

	if cancelled {
		o.log.Info("job cancelled", zap.String("job_id", jobID))
	}

	return o.GetStatus(ctx, jobID)
}

// Recover re-dispatches jobs orphaned by a previous process: all
// PENDING records plus PROCESSING claims older than StaleClaimAge.
// The job store is the source of truth; the in-memory queue is rebuilt
// from it on startup.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	staleBefore := time.Now().Add(-o.cfg.StaleClaimAge)

	pending, err := o.store.RecoverStale(ctx, staleBefore)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStorage, "recover stale jobs", err)
	}

	dispatched := 0
	for _, rec := range pending {
		if err := o.queue.Enqueue(ctx, queue.Message{
			JobID:       rec.JobID,
			Fingerprint: rec.Fingerprint,
			Attempt:     rec.AttemptCount,
		}); err != nil {
			return dispatched, apperrors.Wrap(apperrors.KindStorage, "re-dispatch job", err)
		}
		dispatched++
	}

	if dispatched > 0 {
		o.log.Info("recovered orphaned jobs", zap.Int("count", dispatched))
	}
	return dispatched, nil
}
