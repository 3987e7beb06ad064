// Package facts derives tiered fact sets from subject source records.
//
// A FactSet classifies source-derived data into three tiers:
//   - Immutable: values that must appear unchanged in any generated
//     artifact (identity, employers, dates).
//   - Verifiable: atomic claims that must be traceable to some source
//     evidence but may be reworded (skills, certifications, metrics).
//   - Flexible: free-form fields with no cross-checking requirement.
//
// Fact sets are derived fresh at verification time and are never
// persisted independently of the job they were computed for.
package facts

import (
	"context"
	"errors"
)

// ClaimType categorizes a verifiable claim.
type ClaimType string

const (
	ClaimSkill         ClaimType = "skill"
	ClaimCertification ClaimType = "certification"
	ClaimDegree        ClaimType = "degree"
	ClaimMetric        ClaimType = "achievement_metric"
)

// Claim is a single verifiable assertion traceable to source evidence.
type Claim struct {
	Type  ClaimType `json:"type"`
	Value string    `json:"value"`
}

// FactSet is the tiered classification of a subject's source facts.
type FactSet struct {
	// Immutable maps canonical field names to values that must survive
	// generation unchanged (e.g., "full_name", "employment.0.company").
	Immutable map[string]string `json:"immutable"`

	// Verifiable lists claims that must be traceable to the source
	// corpus but may be reworded in the artifact.
	Verifiable []Claim `json:"verifiable"`

	// Flexible names fields that are never cross-checked.
	Flexible []string `json:"flexible"`
}

// Employment is a single position in the subject's history.
type Employment struct {
	Company   string `json:"company"`
	Title     string `json:"title"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

// Education is a degree or formal qualification.
type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
}

// Achievement is a narrative accomplishment with optional hard metrics.
type Achievement struct {
	Description string   `json:"description"`
	Metrics     []string `json:"metrics,omitempty"`
}

// SubjectProfile is the source record a fact set is derived from.
//
// The profile is the system of record for a candidate; generated
// artifacts are verified against it, never the other way around.
type SubjectProfile struct {
	SubjectID      string        `json:"subject_id"`
	FullName       string        `json:"full_name"`
	Email          string        `json:"email,omitempty"`
	Employments    []Employment  `json:"employments,omitempty"`
	Education      []Education   `json:"education,omitempty"`
	Skills         []string      `json:"skills,omitempty"`
	Certifications []string      `json:"certifications,omitempty"`
	Achievements   []Achievement `json:"achievements,omitempty"`
	Summary        string        `json:"summary,omitempty"`
}

// ErrNotFound indicates the subject has no source record.
var ErrNotFound = errors.New("subject not found")

// IsNotFound reports whether err indicates a missing subject record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Source loads the fact set for a subject.
//
// A job is aborted before any generation call is made when the source
// record cannot be found.
type Source interface {
	LoadFacts(ctx context.Context, subjectID string) (*FactSet, error)
}
