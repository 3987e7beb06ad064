package facts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	profile := sampleProfile()
	require.NoError(t, s.UpsertProfile(ctx, profile))

	got, err := s.GetProfile(ctx, "cand-123")
	require.NoError(t, err)
	assert.Equal(t, profile, got)
}

func TestStoreUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	profile := sampleProfile()
	require.NoError(t, s.UpsertProfile(ctx, profile))

	profile.FullName = "Jordan A. Rivera"
	require.NoError(t, s.UpsertProfile(ctx, profile))

	got, err := s.GetProfile(ctx, "cand-123")
	require.NoError(t, err)
	assert.Equal(t, "Jordan A. Rivera", got.FullName)
}

func TestStoreGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetProfile(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestStoreLoadFacts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertProfile(ctx, sampleProfile()))

	fs, err := s.LoadFacts(ctx, "cand-123")
	require.NoError(t, err)
	assert.Equal(t, "Jordan Rivera", fs.Immutable[FieldFullName])
	assert.NotEmpty(t, fs.Verifiable)
}

func TestStoreLoadFactsMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadFacts(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.Error(t, s.UpsertProfile(ctx, nil))
	assert.Error(t, s.UpsertProfile(ctx, &SubjectProfile{SubjectID: "  "}))
}

func TestOpenStoreRequiresPath(t *testing.T) {
	_, err := OpenStore(context.Background(), StoreConfig{})
	assert.Error(t, err)
}
