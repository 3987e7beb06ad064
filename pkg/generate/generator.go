// Package generate defines the collaborator contract for the external
// artifact generation operation, and an HTTP client implementing it
// against a messages-style model API.
//
// The pipeline treats generation as a single opaque operation with a
// result and a closed set of failure modes. Timeouts and rate limits
// are retryable; malformed output is not (the same input will fail the
// same way) and routes the job directly to a terminal failure.
package generate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/factgate/factgate/pkg/facts"
)

// Sentinel errors classifying generation failures.
var (
	// ErrTimeout indicates the generation call exceeded its deadline.
	ErrTimeout = errors.New("generation timed out")

	// ErrRateLimited indicates the model API throttled the request.
	ErrRateLimited = errors.New("generation rate limited")

	// ErrMalformedOutput indicates the model returned output that could
	// not be parsed into an artifact.
	ErrMalformedOutput = errors.New("generation returned malformed output")
)

// IsTimeout reports whether err is a generation timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsMalformedOutput reports whether err is unparseable model output.
func IsMalformedOutput(err error) bool { return errors.Is(err, ErrMalformedOutput) }

// IsRetryable reports whether a generation failure may succeed on a
// later attempt.
func IsRetryable(err error) bool {
	return IsTimeout(err) || IsRateLimited(err)
}

// Request carries everything the generation operation needs for one
// attempt.
type Request struct {
	// SubjectID identifies the candidate the artifact is about.
	SubjectID string

	// Kind is the artifact kind (e.g., "summary", "resume").
	Kind string

	// Fingerprint is the owning job's content fingerprint. Generators
	// must stamp it onto the produced artifact.
	Fingerprint string

	// Facts is the tiered fact set derived from the source record.
	Facts *facts.FactSet

	// Payload is the kind-specific request body (already validated at
	// the orchestrator boundary).
	Payload json.RawMessage
}

// ArtifactClaims is the structured claims block of a generated
// artifact. The verification engine reads asserted values from here
// rather than parsing prose.
type ArtifactClaims struct {
	// Immutable maps immutable field names to the values the artifact
	// asserts for them.
	Immutable map[string]string `json:"immutable,omitempty"`

	// Assertions lists the verifiable claims the artifact makes.
	Assertions []facts.Claim `json:"assertions,omitempty"`
}

// Artifact is a worker's output candidate, pre-verification.
//
// Artifacts are ephemeral: they live in worker memory until the
// verification engine decides their fate, and only verified artifacts
// reach the result store.
type Artifact struct {
	Kind string `json:"kind"`

	// SourceFingerprint must equal the owning job's fingerprint.
	SourceFingerprint string `json:"source_fingerprint"`

	Claims ArtifactClaims `json:"claims"`

	// Body is the rendered artifact content.
	Body string `json:"body"`
}

// Generator is the external generation operation.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Artifact, error)
}
