// Package worker runs the bounded pool that drains the dispatch queue
// and drives jobs through generation, verification and storage.
//
// Every state commit is conditional on the claim owner token minted at
// claim time, so a worker that lost its claim (cancellation, recovery
// requeue) discards its result instead of overwriting a newer attempt.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/factgate/factgate/internal/errors"
	"github.com/factgate/factgate/pkg/facts"
	"github.com/factgate/factgate/pkg/generate"
	"github.com/factgate/factgate/pkg/jobstore"
	"github.com/factgate/factgate/pkg/queue"
	"github.com/factgate/factgate/pkg/resultstore"
	"github.com/factgate/factgate/pkg/verify"
)

// DefaultWorkers is the pool size when Config.Workers is zero.
const DefaultWorkers = 4

// DefaultGenerateTimeout bounds a single generation call when
// Config.GenerateTimeout is zero.
const DefaultGenerateTimeout = 2 * time.Minute

// Config configures a worker pool.
type Config struct {
	// Workers is the number of concurrent job processors.
	Workers int

	// GenerateTimeout bounds each call into the generator.
	GenerateTimeout time.Duration

	// Retry bounds the retry budget and backoff schedule.
	Retry RetryConfig
}

// Deps are the collaborators a pool drives jobs through.
type Deps struct {
	Store   *jobstore.Store
	Queue   queue.Queue
	Source  facts.Source
	Gen     generate.Generator
	Results resultstore.Store
	Policy  *verify.Policy
	Audit   Auditor
	Log     *zap.Logger
}

// Pool drains the dispatch queue with a fixed number of workers.
type Pool struct {
	cfg  Config
	deps Deps
	wg   sync.WaitGroup
}

// New creates a worker pool. Nil Audit and Log fields get no-op
// defaults.
func New(cfg Config, deps Deps) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if deps.Audit == nil {
		deps.Audit = NopAuditor{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Pool{cfg: cfg, deps: deps}
}

// Start launches the workers. They run until ctx is cancelled or the
// queue is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	log := p.deps.Log.With(zap.Int("worker", id))
	log.Debug("worker started")

	for {
		msg, err := p.deps.Queue.Receive(ctx)
		if err != nil {
			log.Debug("worker stopping", zap.Error(err))
			return
		}
		p.process(ctx, log, msg)
	}
}

// process drives one queue delivery through the job lifecycle. Every
// exit path leaves the job either committed by this attempt or
// untouched for the attempt that actually owns it.
func (p *Pool) process(ctx context.Context, log *zap.Logger, msg queue.Message) {
	owner := uuid.NewString()
	log = log.With(zap.String("job_id", msg.JobID))

	rec, claimed, err := p.deps.Store.Claim(ctx, msg.JobID, owner)
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		return
	}
	if !claimed {
		// Duplicate delivery or the job moved on (cancelled,
		// completed, re-claimed after recovery). Nothing to do.
		p.audit(ctx, AuditEvent{JobID: msg.JobID, Event: EventClaimLost})
		log.Debug("claim lost, discarding delivery")
		return
	}

	log = log.With(zap.Int("attempt", rec.AttemptCount))
	p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventClaimed, Attempt: rec.AttemptCount})

	if err := p.attempt(ctx, log, rec, owner); err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-attempt. The record stays PROCESSING and
			// startup recovery re-enqueues it.
			log.Debug("attempt interrupted by shutdown")
			return
		}
		p.settle(ctx, log, rec, owner, err)
	}
}

// attempt runs one full generation attempt under the given claim.
// A nil return means the job was committed COMPLETED.
func (p *Pool) attempt(ctx context.Context, log *zap.Logger, rec *jobstore.JobRecord, owner string) error {
	factSet, err := p.deps.Source.LoadFacts(ctx, rec.SubjectID)
	if err != nil {
		if facts.IsNotFound(err) {
			return apperrors.Wrap(apperrors.KindNotFound,
				fmt.Sprintf("subject %s not found", rec.SubjectID), err)
		}
		return apperrors.Wrap(apperrors.KindStorage, "load facts", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	artifact, err := p.deps.Gen.Generate(genCtx, generate.Request{
		SubjectID:   rec.SubjectID,
		Kind:        rec.Kind,
		Fingerprint: rec.Fingerprint,
		Facts:       factSet,
		Payload:     rec.Payload,
	})
	cancel()
	if err != nil {
		return classifyGenerate(err)
	}

	if artifact.SourceFingerprint != rec.Fingerprint {
		return apperrors.Newf(apperrors.KindMalformedOutput,
			"artifact fingerprint %q does not match job fingerprint %q",
			artifact.SourceFingerprint, rec.Fingerprint)
	}

	p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventGenerated, Attempt: rec.AttemptCount})

	report := verify.Verify(factSet, artifact, rec.Kind, p.deps.Policy)
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "marshal verification report", err)
	}

	if !report.Passed {
		log.Warn("verification failed",
			zap.Int("violations", len(report.Violations)))
		p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventVerificationFailed, Attempt: rec.AttemptCount,
			Detail: map[string]string{"violations": fmt.Sprintf("%d", len(report.Violations))}})

		// The artifact is discarded: it never reaches the result store.
		jobErr := &jobstore.JobError{
			Kind:       string(apperrors.KindFactVerificationFailed),
			Message:    "artifact contradicts source facts",
			Violations: report.Violations,
		}
		committed, err := p.deps.Store.Fail(ctx, rec.JobID, owner, jobErr, reportJSON)
		if err != nil {
			log.Error("fail commit error", zap.Error(err))
			return nil
		}
		if !committed {
			p.auditDiscard(ctx, rec)
		} else {
			p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventFailed, Attempt: rec.AttemptCount,
				Detail: map[string]string{"kind": jobErr.Kind}})
		}
		return nil
	}

	content, err := json.Marshal(artifact)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "marshal artifact", err)
	}

	ref, err := p.deps.Results.Put(ctx, rec.JobID, content)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "store artifact", err)
	}

	committed, err := p.deps.Store.Complete(ctx, rec.JobID, owner, ref, reportJSON)
	if err != nil {
		log.Error("complete commit error", zap.Error(err))
		return nil
	}
	if !committed {
		// Lost the claim between generation and commit. The stored
		// blob is harmless: it is only reachable through a COMPLETED
		// record's result ref.
		p.auditDiscard(ctx, rec)
		return nil
	}

	p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventCompleted, Attempt: rec.AttemptCount,
		Detail: map[string]string{"result_ref": ref}})
	log.Info("job completed", zap.String("result_ref", ref))
	return nil
}

// settle commits a failed attempt: requeue with backoff while budget
// remains for retryable kinds, otherwise FAILED or DEAD_LETTERED.
func (p *Pool) settle(ctx context.Context, log *zap.Logger, rec *jobstore.JobRecord, owner string, attemptErr error) {
	kind := apperrors.KindOf(attemptErr)
	jobErr := &jobstore.JobError{
		Kind:    string(kind),
		Message: attemptErr.Error(),
	}

	if !kind.Retryable() {
		committed, err := p.deps.Store.Fail(ctx, rec.JobID, owner, jobErr, nil)
		if err != nil {
			log.Error("fail commit error", zap.Error(err))
			return
		}
		if !committed {
			p.auditDiscard(ctx, rec)
			return
		}
		p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventFailed, Attempt: rec.AttemptCount,
			Detail: map[string]string{"kind": jobErr.Kind}})
		log.Warn("job failed", zap.String("kind", jobErr.Kind), zap.Error(attemptErr))
		return
	}

	if rec.AttemptCount >= p.cfg.Retry.maxAttempts() {
		committed, err := p.deps.Store.DeadLetter(ctx, rec.JobID, owner, jobErr)
		if err != nil {
			log.Error("dead-letter commit error", zap.Error(err))
			return
		}
		if !committed {
			p.auditDiscard(ctx, rec)
			return
		}
		p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventDeadLettered, Attempt: rec.AttemptCount,
			Detail: map[string]string{"kind": jobErr.Kind}})
		log.Error("job dead-lettered",
			zap.String("kind", jobErr.Kind),
			zap.Int("attempts", rec.AttemptCount))
		return
	}

	committed, err := p.deps.Store.Requeue(ctx, rec.JobID, owner, jobErr)
	if err != nil {
		log.Error("requeue commit error", zap.Error(err))
		return
	}
	if !committed {
		p.auditDiscard(ctx, rec)
		return
	}

	delay := p.cfg.Retry.Delay(rec.AttemptCount)
	if err := p.deps.Queue.EnqueueAfter(ctx, queue.Message{
		JobID:       rec.JobID,
		Fingerprint: rec.Fingerprint,
		Attempt:     rec.AttemptCount,
	}, delay); err != nil {
		// The record is PENDING; startup recovery will re-dispatch it.
		log.Error("requeue dispatch failed", zap.Error(err))
		return
	}

	p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventRequeued, Attempt: rec.AttemptCount,
		Detail: map[string]string{"kind": jobErr.Kind, "delay": delay.String()}})
	log.Warn("job requeued",
		zap.String("kind", jobErr.Kind),
		zap.Duration("delay", delay))
}

func (p *Pool) audit(ctx context.Context, event AuditEvent) {
	if err := p.deps.Audit.Record(ctx, event); err != nil && ctx.Err() == nil {
		p.deps.Log.Warn("audit write failed", zap.Error(err))
	}
}

func (p *Pool) auditDiscard(ctx context.Context, rec *jobstore.JobRecord) {
	p.audit(ctx, AuditEvent{JobID: rec.JobID, Event: EventResultDiscarded, Attempt: rec.AttemptCount})
	p.deps.Log.Debug("commit lost, result discarded", zap.String("job_id", rec.JobID))
}

// classifyGenerate maps generator sentinel errors onto the pipeline's
// error taxonomy.
func classifyGenerate(err error) error {
	switch {
	case generate.IsMalformedOutput(err):
		return apperrors.Wrap(apperrors.KindMalformedOutput, "generator output unusable", err)
	case generate.IsRateLimited(err):
		return apperrors.Wrap(apperrors.KindRateLimited, "generator rate limited", err)
	case generate.IsTimeout(err):
		return apperrors.Wrap(apperrors.KindTimeout, "generation timed out", err)
	case apperrors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindTimeout, "generation timed out", err)
	default:
		return apperrors.Wrap(apperrors.KindInternal, "generation failed", err)
	}
}
