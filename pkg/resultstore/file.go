package resultstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileConfig configures a filesystem-backed result store.
type FileConfig struct {
	// Root is the directory artifacts are written under (required).
	Root string

	// Secret signs retrieval tokens (required). Rotating it invalidates
	// all outstanding handles; refs stay valid and new handles can be
	// minted.
	Secret string

	// BaseURL is the externally reachable URL prefix handles are built
	// on, e.g. "http://localhost:8080". Optional; when empty, Handle
	// returns a bare token instead of a URL.
	BaseURL string
}

// Validate checks the configuration for required fields.
func (c FileConfig) Validate() error {
	if c.Root == "" {
		return errors.New("file result store: root is required")
	}
	if c.Secret == "" {
		return errors.New("file result store: secret is required")
	}
	return nil
}

// FileStore stores artifacts on the local filesystem and mints
// HMAC-signed expiring tokens as retrieval handles. Tokens are
// redeemed through the pipeline's artifact endpoint.
type FileStore struct {
	root    string
	secret  []byte
	baseURL string
	now     func() time.Time
}

var (
	_ Store         = (*FileStore)(nil)
	_ ContentReader = (*FileStore)(nil)
)

// NewFileStore creates a filesystem-backed result store, creating the
// root directory if needed.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("file result store: create root: %w", err)
	}
	return &FileStore{
		root:    cfg.Root,
		secret:  []byte(cfg.Secret),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		now:     time.Now,
	}, nil
}

// Put writes the artifact atomically via a temp file and rename. The
// ref is the job id.
func (s *FileStore) Put(ctx context.Context, jobID string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("file result store: %w: %w", ErrUnavailable, err)
	}

	final := filepath.Join(dir, "artifact.json")
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("file result store: %w: %w", ErrUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("file result store: write: %w: %w", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("file result store: close: %w: %w", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("file result store: rename: %w: %w", ErrUnavailable, err)
	}

	return jobID, nil
}

// Handle mints a signed expiring token for a ref. When BaseURL is set
// the token is embedded in an artifact URL.
func (s *FileStore) Handle(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if _, err := s.Open(ctx, ref); err != nil {
		return "", err
	}

	expiry := s.now().Add(ttl).Unix()
	token := s.signToken(ref, expiry)

	if s.baseURL == "" {
		return token, nil
	}
	return fmt.Sprintf("%s/jobs/%s/artifact?token=%s", s.baseURL, url.PathEscape(ref), url.QueryEscape(token)), nil
}

// Redeem validates a token and returns the ref it grants access to.
func (s *FileStore) Redeem(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrHandleInvalid
	}

	refBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrHandleInvalid
	}
	ref := string(refBytes)

	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrHandleInvalid
	}

	expected := s.signToken(ref, expiry)
	if !hmac.Equal([]byte(token), []byte(expected)) {
		return "", ErrHandleInvalid
	}

	if s.now().Unix() > expiry {
		return "", ErrHandleExpired
	}

	return ref, nil
}

// Open reads the artifact a ref points to.
func (s *FileStore) Open(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Refs are job ids; reject anything that could escape the root.
	if ref == "" || strings.ContainsAny(ref, "/\\") || ref == "." || ref == ".." {
		return nil, ErrNotFound
	}

	content, err := os.ReadFile(filepath.Join(s.root, ref, "artifact.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file result store: %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("file result store: read %s: %w: %w", ref, ErrUnavailable, err)
	}
	return content, nil
}

// signToken builds ref:expiry:sig with the ref base64-encoded and the
// signature over "ref:expiry".
func (s *FileStore) signToken(ref string, expiry int64) string {
	encRef := base64.RawURLEncoding.EncodeToString([]byte(ref))
	payload := encRef + ":" + strconv.FormatInt(expiry, 10)

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return payload + ":" + sig
}
