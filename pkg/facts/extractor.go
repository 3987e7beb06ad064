package facts

import (
	"fmt"
)

// Immutable field names emitted by Extract. Generated artifacts assert
// values for these names; the verification engine compares them for
// exact (normalized) equality.
const (
	FieldFullName = "full_name"
	FieldEmail    = "email"
	FieldCompany  = "company"
	FieldTitle    = "title"
)

// Extract derives a FactSet from a subject profile.
//
// Extract is a pure function: it performs no I/O and produces the same
// fact set for the same profile. Tier assignment:
//
//   - full_name, email, and every employment's company/title/dates are
//     immutable. The most recent employment also surfaces flat
//     "company" and "title" keys for single-position artifacts.
//   - skills, certifications, degrees, and achievement metrics become
//     verifiable claims.
//   - the free-form summary is flexible.
func Extract(p *SubjectProfile) *FactSet {
	fs := &FactSet{
		Immutable: make(map[string]string),
	}
	if p == nil {
		return fs
	}

	if p.FullName != "" {
		fs.Immutable[FieldFullName] = p.FullName
	}
	if p.Email != "" {
		fs.Immutable[FieldEmail] = p.Email
	}

	for i, emp := range p.Employments {
		prefix := fmt.Sprintf("employment.%d.", i)
		if emp.Company != "" {
			fs.Immutable[prefix+"company"] = emp.Company
		}
		if emp.Title != "" {
			fs.Immutable[prefix+"title"] = emp.Title
		}
		if emp.StartDate != "" {
			fs.Immutable[prefix+"start_date"] = emp.StartDate
		}
		if emp.EndDate != "" {
			fs.Immutable[prefix+"end_date"] = emp.EndDate
		}
	}

	// Employments are ordered most-recent-first by convention; the flat
	// keys refer to the current (or latest) position.
	if len(p.Employments) > 0 {
		latest := p.Employments[0]
		if latest.Company != "" {
			fs.Immutable[FieldCompany] = latest.Company
		}
		if latest.Title != "" {
			fs.Immutable[FieldTitle] = latest.Title
		}
	}

	for _, s := range p.Skills {
		fs.Verifiable = append(fs.Verifiable, Claim{Type: ClaimSkill, Value: s})
	}
	for _, c := range p.Certifications {
		fs.Verifiable = append(fs.Verifiable, Claim{Type: ClaimCertification, Value: c})
	}
	for _, e := range p.Education {
		v := e.Degree
		if e.Institution != "" {
			v = e.Degree + ", " + e.Institution
		}
		fs.Verifiable = append(fs.Verifiable, Claim{Type: ClaimDegree, Value: v})
	}
	for _, a := range p.Achievements {
		for _, m := range a.Metrics {
			fs.Verifiable = append(fs.Verifiable, Claim{Type: ClaimMetric, Value: m})
		}
	}

	if p.Summary != "" {
		fs.Flexible = append(fs.Flexible, "summary")
	}

	return fs
}
