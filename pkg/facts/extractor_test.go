package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProfile() *SubjectProfile {
	return &SubjectProfile{
		SubjectID: "cand-123",
		FullName:  "Jordan Rivera",
		Email:     "jordan@example.com",
		Employments: []Employment{
			{Company: "Acme Corp", Title: "Staff Engineer", StartDate: "2021-03", EndDate: ""},
			{Company: "Initech", Title: "Engineer", StartDate: "2017-06", EndDate: "2021-02"},
		},
		Education: []Education{
			{Institution: "State University", Degree: "BSc Computer Science"},
		},
		Skills:         []string{"Go", "Kubernetes"},
		Certifications: []string{"CKA"},
		Achievements: []Achievement{
			{Description: "Led migration", Metrics: []string{"reduced costs by 40%"}},
		},
		Summary: "Seasoned infrastructure engineer.",
	}
}

func TestExtract(t *testing.T) {
	t.Run("ImmutableTier", func(t *testing.T) {
		fs := Extract(sampleProfile())

		assert.Equal(t, "Jordan Rivera", fs.Immutable[FieldFullName])
		assert.Equal(t, "jordan@example.com", fs.Immutable[FieldEmail])
		assert.Equal(t, "Acme Corp", fs.Immutable["employment.0.company"])
		assert.Equal(t, "Staff Engineer", fs.Immutable["employment.0.title"])
		assert.Equal(t, "2021-03", fs.Immutable["employment.0.start_date"])
		assert.Equal(t, "Initech", fs.Immutable["employment.1.company"])
		assert.Equal(t, "2021-02", fs.Immutable["employment.1.end_date"])

		// Flat keys point at the most recent position.
		assert.Equal(t, "Acme Corp", fs.Immutable[FieldCompany])
		assert.Equal(t, "Staff Engineer", fs.Immutable[FieldTitle])
	})

	t.Run("VerifiableTier", func(t *testing.T) {
		fs := Extract(sampleProfile())

		require.Len(t, fs.Verifiable, 5)
		assert.Contains(t, fs.Verifiable, Claim{Type: ClaimSkill, Value: "Go"})
		assert.Contains(t, fs.Verifiable, Claim{Type: ClaimSkill, Value: "Kubernetes"})
		assert.Contains(t, fs.Verifiable, Claim{Type: ClaimCertification, Value: "CKA"})
		assert.Contains(t, fs.Verifiable, Claim{Type: ClaimDegree, Value: "BSc Computer Science, State University"})
		assert.Contains(t, fs.Verifiable, Claim{Type: ClaimMetric, Value: "reduced costs by 40%"})
	})

	t.Run("FlexibleTier", func(t *testing.T) {
		fs := Extract(sampleProfile())
		assert.Equal(t, []string{"summary"}, fs.Flexible)
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := Extract(sampleProfile())
		b := Extract(sampleProfile())
		assert.Equal(t, a, b)
	})

	t.Run("EmptyProfile", func(t *testing.T) {
		fs := Extract(&SubjectProfile{SubjectID: "cand-empty"})
		assert.Empty(t, fs.Immutable)
		assert.Empty(t, fs.Verifiable)
		assert.Empty(t, fs.Flexible)
	})

	t.Run("NilProfile", func(t *testing.T) {
		fs := Extract(nil)
		require.NotNil(t, fs)
		assert.Empty(t, fs.Immutable)
	})

	t.Run("DegreeWithoutInstitution", func(t *testing.T) {
		fs := Extract(&SubjectProfile{
			SubjectID: "cand-1",
			Education: []Education{{Degree: "MBA"}},
		})
		require.Len(t, fs.Verifiable, 1)
		assert.Equal(t, "MBA", fs.Verifiable[0].Value)
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Acme Corp", "acme corp"},
		{"collapses whitespace", "  Staff \t Engineer \n", "staff engineer"},
		{"empty", "", ""},
		{"only whitespace", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestContainsNormalized(t *testing.T) {
	assert.True(t, ContainsNormalized("Expert in Go and Kubernetes", "kubernetes"))
	assert.True(t, ContainsNormalized("CKA  certified", "cka certified"))
	assert.False(t, ContainsNormalized("Go developer", "rust"))
	assert.False(t, ContainsNormalized("anything", ""))
}
