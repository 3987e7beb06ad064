// Package verify implements the fact verification engine: a pure,
// deterministic diff of a candidate artifact's claims against a tiered
// fact set.
//
// The tiers let the gate be strict where fabrication carries real risk
// (names, employers, dates) while remaining permissive where creative
// rewording is the point of the product (summaries, framing).
package verify

// Severity grades a violation.
type Severity string

const (
	// SeverityCritical blocks the artifact: the owning job must fail.
	SeverityCritical Severity = "CRITICAL"

	// SeverityWarning is surfaced in the report but does not block
	// completion.
	SeverityWarning Severity = "WARNING"
)

// Tier names the fact tier a violation was found against.
type Tier string

const (
	TierImmutable  Tier = "immutable"
	TierVerifiable Tier = "verifiable"
)

// Violation is a single detected divergence between the artifact and
// the source facts.
type Violation struct {
	// Field is the immutable field name, or the claim type for
	// verifiable violations.
	Field string `json:"field"`

	Tier Tier `json:"tier"`

	// Expected is the canonical source value. Empty for verifiable
	// violations, where the problem is absence of evidence rather than
	// a wrong value.
	Expected string `json:"expected,omitempty"`

	// Found is the value the artifact asserted.
	Found string `json:"found"`

	Severity Severity `json:"severity"`
}

// Report is the outcome of verifying one artifact.
//
// Reports are deterministic: verifying the same (factset, artifact)
// pair twice produces byte-identical reports.
type Report struct {
	// Passed is false only when the report carries a critical
	// violation. Warning-level violations ride along on passing
	// reports so callers can inspect them.
	Passed bool `json:"passed"`

	// Violations is ordered: immutable fields first (sorted by field
	// name), then verifiable claims in artifact assertion order.
	Violations []Violation `json:"violations"`

	// HasCritical is true if any violation is against the immutable
	// tier or an escalated hard-blocking claim type.
	HasCritical bool `json:"has_critical"`
}
