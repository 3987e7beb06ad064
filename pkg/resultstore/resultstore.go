// Package resultstore provides durable blob storage for completed
// artifacts, addressed by job id, with time-limited retrieval handles.
//
// Handle expiry is independent of blob lifetime: a new handle can
// always be minted from a ref while the underlying blob exists, and
// nothing in the pipeline assumes blobs are retained indefinitely.
package resultstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store failures.
var (
	// ErrNotFound indicates the ref does not resolve to a stored blob.
	ErrNotFound = errors.New("artifact not found")

	// ErrUnavailable indicates a transient backend failure; callers
	// may retry.
	ErrUnavailable = errors.New("result store unavailable")

	// ErrHandleExpired indicates a retrieval token past its expiry.
	ErrHandleExpired = errors.New("retrieval handle expired")

	// ErrHandleInvalid indicates a malformed or tampered retrieval
	// token.
	ErrHandleInvalid = errors.New("retrieval handle invalid")
)

// IsNotFound reports whether err indicates a missing blob.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable reports whether err indicates a transient backend
// failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// Store is the result store contract.
type Store interface {
	// Put durably writes a verified artifact and returns an opaque ref.
	Put(ctx context.Context, jobID string, content []byte) (string, error)

	// Handle mints a time-limited retrieval handle (a URL or URL-like
	// token) from a ref. Handles are re-mintable while the blob exists.
	Handle(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// ContentReader is implemented by stores whose handles are redeemed
// through the pipeline's own HTTP surface rather than fetched directly
// from the backend (the filesystem store). S3 handles are presigned
// URLs and never pass through here.
type ContentReader interface {
	// Redeem validates a retrieval token and returns the ref it grants.
	Redeem(token string) (string, error)

	// Open reads the blob a ref points to.
	Open(ctx context.Context, ref string) ([]byte, error)
}
