package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factgate/factgate/pkg/facts"
)

func TestParsePolicy(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		p, err := ParsePolicy([]byte(`
kinds:
  resume:
    hard_block_claims: [degree, certification]
    required_fields: [full_name]
  summary:
    hard_block_claims: [degree]
synonyms:
  - [golang, go]
  - [k8s, kubernetes]
`))
		require.NoError(t, err)

		assert.True(t, p.hardBlocked("resume", facts.ClaimDegree))
		assert.True(t, p.hardBlocked("resume", facts.ClaimCertification))
		assert.True(t, p.hardBlocked("summary", facts.ClaimDegree))
		assert.False(t, p.hardBlocked("summary", facts.ClaimCertification))
		assert.False(t, p.hardBlocked("cover_letter", facts.ClaimDegree))

		assert.True(t, p.requiredField("resume", facts.FieldFullName))
		assert.False(t, p.requiredField("summary", facts.FieldFullName))

		assert.Equal(t, "golang", p.canonical("go"))
		assert.Equal(t, "k8s", p.canonical("kubernetes"))
		assert.Equal(t, "rust", p.canonical("rust"))
	})

	t.Run("Empty", func(t *testing.T) {
		p, err := ParsePolicy([]byte(`{}`))
		require.NoError(t, err)
		assert.False(t, p.hardBlocked("resume", facts.ClaimDegree))
	})

	t.Run("UnknownClaimType", func(t *testing.T) {
		_, err := ParsePolicy([]byte(`
kinds:
  resume:
    hard_block_claims: [astrology]
`))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPolicyInvalid)
	})

	t.Run("UnknownTopLevelKey", func(t *testing.T) {
		_, err := ParsePolicy([]byte(`strictness: high`))
		assert.ErrorIs(t, err, ErrPolicyInvalid)
	})

	t.Run("SingletonSynonymGroup", func(t *testing.T) {
		_, err := ParsePolicy([]byte(`
synonyms:
  - [golang]
`))
		assert.ErrorIs(t, err, ErrPolicyInvalid)
	})

	t.Run("NotYAML", func(t *testing.T) {
		_, err := ParsePolicy([]byte("kinds: [unclosed"))
		assert.ErrorIs(t, err, ErrPolicyInvalid)
	})
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kinds:
  resume:
    hard_block_claims: [degree]
`), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.True(t, p.hardBlocked("resume", facts.ClaimDegree))

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	for _, kind := range []string{"summary", "resume", "cover_letter", "interview_questions"} {
		assert.True(t, p.hardBlocked(kind, facts.ClaimDegree), kind)
		assert.True(t, p.hardBlocked(kind, facts.ClaimCertification), kind)
		assert.False(t, p.hardBlocked(kind, facts.ClaimSkill), kind)
	}

	assert.True(t, p.requiredField("resume", facts.FieldFullName))
	assert.True(t, p.requiredField("cover_letter", facts.FieldFullName))
	assert.False(t, p.requiredField("summary", facts.FieldFullName))
}
