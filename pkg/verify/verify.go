package verify

import (
	"sort"
	"strings"

	"github.com/factgate/factgate/pkg/facts"
	"github.com/factgate/factgate/pkg/generate"
)

// Verify diffs an artifact's claims against a fact set.
//
// Verify is pure and deterministic: no I/O, no clock, and a stable
// violation order, so identical inputs always produce byte-identical
// reports.
//
// Rules:
//   - Every immutable field the artifact asserts is compared for exact
//     equality after normalization; any mismatch is CRITICAL.
//   - Immutable fields the policy marks required for the artifact kind
//     must be asserted; omission is CRITICAL. Other unasserted fields
//     are not drift.
//   - Every verifiable assertion must be traceable to some source claim
//     of the same type, verbatim or as a normalized substring or
//     configured synonym; untraceable assertions are WARNING unless the
//     claim type is hard-blocking for the artifact kind, in which case
//     they escalate to CRITICAL.
//   - Flexible fields are never checked.
func Verify(fs *facts.FactSet, artifact *generate.Artifact, kind string, policy *Policy) *Report {
	report := &Report{
		Violations: []Violation{},
	}
	if fs == nil || artifact == nil {
		report.Passed = true
		return report
	}

	checkImmutable(fs, artifact, kind, policy, report)
	checkVerifiable(fs, artifact, kind, policy, report)

	report.Passed = !report.HasCritical
	return report
}

// checkImmutable compares asserted immutable fields against the source
// values, in sorted field order for determinism.
func checkImmutable(fs *facts.FactSet, artifact *generate.Artifact, kind string, policy *Policy, report *Report) {
	if len(fs.Immutable) == 0 {
		return
	}

	fields := make([]string, 0, len(fs.Immutable))
	for f := range fs.Immutable {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		expected := fs.Immutable[field]
		found, asserted := artifact.Claims.Immutable[field]
		if !asserted {
			// Unasserted fields are not drift unless the policy says
			// this kind must restate them.
			if policy.requiredField(kind, field) {
				report.Violations = append(report.Violations, Violation{
					Field:    field,
					Tier:     TierImmutable,
					Expected: expected,
					Severity: SeverityCritical,
				})
				report.HasCritical = true
			}
			continue
		}
		if facts.Normalize(found) == facts.Normalize(expected) {
			continue
		}
		report.Violations = append(report.Violations, Violation{
			Field:    field,
			Tier:     TierImmutable,
			Expected: expected,
			Found:    found,
			Severity: SeverityCritical,
		})
		report.HasCritical = true
	}
}

// checkVerifiable requires every artifact assertion to be traceable to
// source evidence, in artifact assertion order.
func checkVerifiable(fs *facts.FactSet, artifact *generate.Artifact, kind string, policy *Policy, report *Report) {
	for _, assertion := range artifact.Claims.Assertions {
		if traceable(fs.Verifiable, assertion, policy) {
			continue
		}
		severity := SeverityWarning
		if policy.hardBlocked(kind, assertion.Type) {
			severity = SeverityCritical
			report.HasCritical = true
		}
		report.Violations = append(report.Violations, Violation{
			Field:    string(assertion.Type),
			Tier:     TierVerifiable,
			Found:    assertion.Value,
			Severity: severity,
		})
	}
}

// traceable reports whether the assertion matches some source claim of
// the same type: equal after normalization and synonym folding, or a
// substring relationship in either direction.
func traceable(source []facts.Claim, assertion facts.Claim, policy *Policy) bool {
	want := policy.canonical(facts.Normalize(assertion.Value))
	if want == "" {
		return false
	}
	for _, claim := range source {
		if claim.Type != assertion.Type {
			continue
		}
		have := policy.canonical(facts.Normalize(claim.Value))
		if have == "" {
			continue
		}
		if have == want || strings.Contains(have, want) || strings.Contains(want, have) {
			return true
		}
	}
	return false
}
