package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// EventType identifies a job lifecycle event on the audit trail.
// Events follow the pattern: factgate.job_event.v<version>
const EventType = "factgate.job_event.v1"

// Event names emitted on the audit trail.
const (
	EventClaimed            = "claimed"
	EventClaimLost          = "claim_lost"
	EventGenerated          = "generated"
	EventVerificationFailed = "verification_failed"
	EventRequeued           = "requeued"
	EventDeadLettered       = "dead_lettered"
	EventCompleted          = "completed"
	EventFailed             = "failed"
	EventResultDiscarded    = "result_discarded"
)

// ErrAuditClosed is returned when writing to a closed audit writer.
var ErrAuditClosed = errors.New("audit writer is closed")

// AuditEvent is the envelope for a single line of the JSONL audit
// trail.
type AuditEvent struct {
	// Type identifies the record type ("factgate.job_event.v1").
	Type string `json:"type"`

	// TS is when the event was recorded (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the job the event belongs to.
	JobID string `json:"job_id"`

	// Event names the lifecycle transition (e.g. "claimed").
	Event string `json:"event"`

	// Attempt is the job's attempt count at the time of the event.
	Attempt int `json:"attempt,omitempty"`

	// Detail carries event-specific context (error kind, result ref).
	Detail map[string]string `json:"detail,omitempty"`
}

// Auditor records job lifecycle events. Implementations must be safe
// for concurrent use.
type Auditor interface {
	Record(ctx context.Context, event AuditEvent) error
}

// JSONLAuditor writes lifecycle events as newline-delimited JSON.
//
// Writes are serialized with a mutex so concurrent workers never
// interleave lines.
type JSONLAuditor struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

var _ Auditor = (*JSONLAuditor)(nil)

// NewJSONLAuditor creates an auditor writing to w. The caller owns w
// and is responsible for closing it.
func NewJSONLAuditor(w io.Writer) *JSONLAuditor {
	return &JSONLAuditor{w: w}
}

// Record writes one event as a complete JSON line.
func (a *JSONLAuditor) Record(ctx context.Context, event AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event.Type = EventType
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAuditClosed
	}

	return writeAll(a.w, line)
}

// Close marks the auditor as closed. The underlying writer is not
// closed.
func (a *JSONLAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// writeAll loops until all bytes are written. io.Writer may return
// n < len(p) with a nil error, which would truncate JSONL lines.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// NopAuditor discards all events.
type NopAuditor struct{}

// Record implements Auditor.
func (NopAuditor) Record(context.Context, AuditEvent) error { return nil }
