package resultstore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(FileConfig{
		Root:   t.TempDir(),
		Secret: "test-secret",
	})
	require.NoError(t, err)
	return s
}

func TestFileStorePutOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	content := []byte(`{"kind":"summary","body":"..."}`)
	ref, err := s.Put(ctx, "job-1", content)
	require.NoError(t, err)
	assert.Equal(t, "job-1", ref)

	got, err := s.Open(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFileStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	_, err := s.Put(ctx, "job-1", []byte("first"))
	require.NoError(t, err)
	ref, err := s.Put(ctx, "job-1", []byte("second"))
	require.NoError(t, err)

	got, err := s.Open(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestFileStoreOpenMissing(t *testing.T) {
	s := newTestFileStore(t)

	_, err := s.Open(context.Background(), "no-such-job")
	assert.True(t, IsNotFound(err))
}

func TestFileStoreOpenRejectsPathTraversal(t *testing.T) {
	s := newTestFileStore(t)

	for _, ref := range []string{"", ".", "..", "../etc", "a/b", `a\b`} {
		_, err := s.Open(context.Background(), ref)
		assert.True(t, IsNotFound(err), "ref %q", ref)
	}
}

func TestFileStoreHandleRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	ref, err := s.Put(ctx, "job-1", []byte("content"))
	require.NoError(t, err)

	token, err := s.Handle(ctx, ref, time.Hour)
	require.NoError(t, err)

	got, err := s.Redeem(token)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)
}

func TestFileStoreHandleMissingBlob(t *testing.T) {
	s := newTestFileStore(t)

	_, err := s.Handle(context.Background(), "no-such-job", time.Hour)
	assert.True(t, IsNotFound(err))
}

func TestFileStoreHandleURL(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(FileConfig{
		Root:    t.TempDir(),
		Secret:  "test-secret",
		BaseURL: "http://localhost:8080/",
	})
	require.NoError(t, err)

	ref, err := s.Put(ctx, "job-1", []byte("content"))
	require.NoError(t, err)

	handle, err := s.Handle(ctx, ref, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "http://localhost:8080/jobs/job-1/artifact?token="))

	u, err := url.Parse(handle)
	require.NoError(t, err)
	got, err := s.Redeem(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)
}

func TestFileStoreHandleExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	ref, err := s.Put(ctx, "job-1", []byte("content"))
	require.NoError(t, err)

	token, err := s.Handle(ctx, ref, time.Minute)
	require.NoError(t, err)

	// Advance the clock past the expiry.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = s.Redeem(token)
	assert.ErrorIs(t, err, ErrHandleExpired)

	// A fresh handle minted after expiry still works: handles are
	// re-mintable while the blob exists.
	s.now = time.Now
	fresh, err := s.Handle(ctx, ref, time.Minute)
	require.NoError(t, err)
	_, err = s.Redeem(fresh)
	assert.NoError(t, err)
}

func TestFileStoreRedeemRejectsTampering(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	ref, err := s.Put(ctx, "job-1", []byte("content"))
	require.NoError(t, err)
	token, err := s.Handle(ctx, ref, time.Hour)
	require.NoError(t, err)

	t.Run("GarbageToken", func(t *testing.T) {
		_, err := s.Redeem("not-a-token")
		assert.ErrorIs(t, err, ErrHandleInvalid)
	})

	t.Run("ModifiedExpiry", func(t *testing.T) {
		parts := strings.Split(token, ":")
		require.Len(t, parts, 3)
		forged := parts[0] + ":9999999999:" + parts[2]
		_, err := s.Redeem(forged)
		assert.ErrorIs(t, err, ErrHandleInvalid)
	})

	t.Run("ModifiedSignature", func(t *testing.T) {
		forged := token[:len(token)-2] + "xx"
		_, err := s.Redeem(forged)
		assert.ErrorIs(t, err, ErrHandleInvalid)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := NewFileStore(FileConfig{Root: t.TempDir(), Secret: "other-secret"})
		require.NoError(t, err)
		_, err = other.Redeem(token)
		assert.ErrorIs(t, err, ErrHandleInvalid)
	})
}

func TestFileStoreConfigValidation(t *testing.T) {
	_, err := NewFileStore(FileConfig{Secret: "s"})
	assert.Error(t, err)
	_, err = NewFileStore(FileConfig{Root: t.TempDir()})
	assert.Error(t, err)
}
