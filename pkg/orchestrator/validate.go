package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	schemasassets "github.com/factgate/factgate/internal/assets/schemas"
	apperrors "github.com/factgate/factgate/internal/errors"
)

// Schema identifiers for submission validation.
const (
	SubmitSchemaID   = "factgate/v1.0.0/submit-request"
	PayloadsSchemaID = "factgate/v1.0.0/artifact-payloads"
)

// Cached validators, compiled once from the embedded schemas.
var (
	submitValidatorOnce sync.Once
	submitValidator     *jsonschema.Schema
	payloadValidators   map[string]*jsonschema.Schema
	submitValidatorErr  error
)

// SubmitRequest is a validated job submission.
type SubmitRequest struct {
	SubjectID string          `json:"subject_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

func compiledValidators() (*jsonschema.Schema, map[string]*jsonschema.Schema, error) {
	submitValidatorOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(SubmitSchemaID, bytes.NewReader(schemasassets.SubmitRequestSchema)); err != nil {
			submitValidatorErr = fmt.Errorf("add submit schema: %w", err)
			return
		}
		if err := compiler.AddResource(PayloadsSchemaID, bytes.NewReader(schemasassets.ArtifactPayloadsSchema)); err != nil {
			submitValidatorErr = fmt.Errorf("add payloads schema: %w", err)
			return
		}

		submitValidator, submitValidatorErr = compiler.Compile(SubmitSchemaID)
		if submitValidatorErr != nil {
			return
		}

		payloadValidators = make(map[string]*jsonschema.Schema, len(artifactKinds))
		for _, kind := range artifactKinds {
			schema, err := compiler.Compile(PayloadsSchemaID + "#/definitions/" + kind)
			if err != nil {
				submitValidatorErr = fmt.Errorf("compile payload schema %s: %w", kind, err)
				return
			}
			payloadValidators[kind] = schema
		}
	})
	return submitValidator, payloadValidators, submitValidatorErr
}

var artifactKinds = []string{"summary", "resume", "cover_letter", "interview_questions"}

// parseSubmit validates a raw submission body against the envelope
// schema and the kind-specific payload schema, returning the typed
// request. All failures carry KindInvalidInput.
func parseSubmit(body []byte) (*SubmitRequest, error) {
	envelope, payloads, err := compiledValidators()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "compile submission schemas", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, "request body is not valid JSON", err)
	}
	if err := envelope.Validate(doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, "submission is invalid", err)
	}

	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, "decode submission", err)
	}

	validator, ok := payloads[req.Kind]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindInvalidInput, "unknown artifact kind %q", req.Kind)
	}

	var payloadDoc any
	if err := json.Unmarshal(req.Payload, &payloadDoc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, "payload is not valid JSON", err)
	}
	if err := validator.Validate(payloadDoc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput,
			fmt.Sprintf("payload is invalid for kind %q", req.Kind), err)
	}

	return &req, nil
}
