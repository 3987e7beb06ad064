// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so request and policy validation
// work correctly regardless of the working directory or installation
// location.
package schemasassets

import _ "embed"

// SubmitRequestSchema is the embedded submission-envelope JSON schema.
//
// Every POST /jobs body is validated against this schema before a
// fingerprint is computed.
//
//go:embed submit-request.schema.json
var SubmitRequestSchema []byte

// ArtifactPayloadsSchema is the embedded per-kind payload JSON schema.
//
// The loosely-shaped payload field becomes a closed set of typed
// variants: each artifact kind has a definition here and unknown kinds
// are rejected at the orchestrator boundary.
//
//go:embed artifact-payloads.schema.json
var ArtifactPayloadsSchema []byte

// VerificationPolicySchema is the embedded verification-policy JSON schema.
//
//go:embed verification-policy.schema.json
var VerificationPolicySchema []byte
