package license

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/onaplatform/ona-api/internal/config"
	"github.com/onaplatform/ona-api/pkg/licensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "licenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	rec := &licensing.LicenseRecord{
		KeyHash:   licensing.HashKey("KEY-1"),
		AccountID: "acme",
		Tier:      "professional",
		ExpiresAt: &expires,
	}
	require.NoError(t, s.Insert(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Lookup(ctx, rec.KeyHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.AccountID)
	assert.Equal(t, "professional", got.Tier)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))
	assert.Equal(t, time.UTC, got.ExpiresAt.Location())

	missing, err := s.Lookup(ctx, licensing.HashKey("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStoreDuplicateAndRevoke(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &licensing.LicenseRecord{KeyHash: licensing.HashKey("KEY-2"), AccountID: "acme", Tier: "basic"}
	require.NoError(t, s.Insert(ctx, rec))
	dup := *rec
	assert.ErrorIs(t, s.Insert(ctx, &dup), ErrDuplicateKey)

	other := &licensing.LicenseRecord{KeyHash: licensing.HashKey("KEY-3"), AccountID: "globex", Tier: "enterprise"}
	require.NoError(t, s.Insert(ctx, other))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, r := range all {
		assert.Nil(t, r.ExpiresAt)
	}

	require.NoError(t, s.Revoke(ctx, rec.KeyHash))
	assert.ErrorIs(t, s.Revoke(ctx, rec.KeyHash), ErrNotFound)

	got, err := s.Lookup(ctx, rec.KeyHash)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStoreRejectsBadRecords(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	assert.Error(t, s.Insert(ctx, nil))
	assert.Error(t, s.Insert(ctx, &licensing.LicenseRecord{KeyHash: "short", AccountID: "a"}))
	assert.Error(t, s.Insert(ctx, &licensing.LicenseRecord{KeyHash: licensing.HashKey("k")}))
	err := s.Insert(ctx, &licensing.LicenseRecord{KeyHash: licensing.HashKey("k"), AccountID: "acme:corp", Tier: "basic"})
	assert.ErrorIs(t, err, licensing.ErrInvalidAccount)

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(config.LicenseConfig{Store: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "l.db")})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = OpenStore(config.LicenseConfig{Store: "etcd"})
	assert.Error(t, err)
}
