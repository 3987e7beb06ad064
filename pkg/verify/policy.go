package verify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	schemasassets "github.com/factgate/factgate/internal/assets/schemas"
	"github.com/factgate/factgate/pkg/facts"
)

// PolicySchemaID is the schema identifier for verification policies.
const PolicySchemaID = "factgate/v1.0.0/verification-policy"

// ErrPolicyInvalid indicates the policy document failed schema validation.
var ErrPolicyInvalid = errors.New("verification policy invalid")

// KindPolicy configures verification for one artifact kind.
type KindPolicy struct {
	// HardBlockClaims lists claim types whose unverifiable assertions
	// escalate from WARNING to CRITICAL for this kind.
	HardBlockClaims []string `yaml:"hard_block_claims" json:"hard_block_claims,omitempty"`

	// RequiredFields lists immutable fields an artifact of this kind
	// must restate in its claims. A fact set carrying such a field that
	// the artifact omits is a CRITICAL violation.
	RequiredFields []string `yaml:"required_fields" json:"required_fields,omitempty"`
}

// Policy configures the verification engine.
//
// The zero value is a usable permissive policy: no hard-blocking claim
// types and no synonym groups.
type Policy struct {
	// Kinds maps artifact kind to its kind-specific policy.
	Kinds map[string]KindPolicy `yaml:"kinds" json:"kinds,omitempty"`

	// Synonyms lists groups of terms treated as equivalent when
	// matching verifiable claims (e.g., ["golang", "go"]).
	Synonyms [][]string `yaml:"synonyms" json:"synonyms,omitempty"`

	canonOnce sync.Once
	canon     map[string]string
}

// DefaultPolicy returns the policy used when none is configured:
// degrees and certifications hard-block on every kind, and the kinds
// that restate the candidate's name (resume, cover letter) must carry
// it.
func DefaultPolicy() *Policy {
	hard := []string{string(facts.ClaimDegree), string(facts.ClaimCertification)}
	name := []string{facts.FieldFullName}
	return &Policy{
		Kinds: map[string]KindPolicy{
			"summary":             {HardBlockClaims: hard},
			"resume":              {HardBlockClaims: hard, RequiredFields: name},
			"cover_letter":        {HardBlockClaims: hard, RequiredFields: name},
			"interview_questions": {HardBlockClaims: hard},
		},
	}
}

// Cached validator instance (compiled once from embedded schema).
var (
	policyValidatorOnce sync.Once
	policyValidator     *jsonschema.Schema
	policyValidatorErr  error
)

func compiledPolicySchema() (*jsonschema.Schema, error) {
	policyValidatorOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(PolicySchemaID, bytes.NewReader(schemasassets.VerificationPolicySchema)); err != nil {
			policyValidatorErr = fmt.Errorf("add policy schema: %w", err)
			return
		}
		policyValidator, policyValidatorErr = compiler.Compile(PolicySchemaID)
	})
	return policyValidator, policyValidatorErr
}

// LoadPolicy reads a YAML policy file and validates it against the
// embedded policy schema.
func LoadPolicy(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(b)
}

// ParsePolicy parses and validates YAML policy bytes.
func ParsePolicy(b []byte) (*Policy, error) {
	// Round-trip through an untyped document for schema validation:
	// the validator operates on JSON-shaped values.
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrPolicyInvalid, err)
	}
	doc = normalizeYAML(doc)

	schema, err := compiledPolicySchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}

	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}
	return &p, nil
}

// normalizeYAML converts yaml.Unmarshal's map[string]any/any trees into
// the json-compatible shapes the schema validator expects.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return json.Number(fmt.Sprintf("%d", t))
	default:
		return v
	}
}

// hardBlocked reports whether claimType escalates to CRITICAL for kind.
func (p *Policy) hardBlocked(kind string, claimType facts.ClaimType) bool {
	if p == nil {
		return false
	}
	kp, ok := p.Kinds[kind]
	if !ok {
		return false
	}
	for _, t := range kp.HardBlockClaims {
		if t == string(claimType) {
			return true
		}
	}
	return false
}

// requiredField reports whether artifacts of kind must restate the
// immutable field.
func (p *Policy) requiredField(kind, field string) bool {
	if p == nil {
		return false
	}
	kp, ok := p.Kinds[kind]
	if !ok {
		return false
	}
	for _, f := range kp.RequiredFields {
		if f == field {
			return true
		}
	}
	return false
}

// canonical maps a normalized term to its synonym-group canonical form.
// Terms outside every group map to themselves.
func (p *Policy) canonical(normalized string) string {
	if p == nil {
		return normalized
	}
	p.canonOnce.Do(func() {
		p.canon = make(map[string]string)
		for _, group := range p.Synonyms {
			if len(group) == 0 {
				continue
			}
			head := facts.Normalize(group[0])
			for _, term := range group {
				p.canon[facts.Normalize(term)] = head
			}
		}
	})
	if c, ok := p.canon[normalized]; ok {
		return c
	}
	return normalized
}
