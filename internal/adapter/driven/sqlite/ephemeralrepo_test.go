package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralRepo_PutIfAbsentAndTake(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEphemeralRepo(db)
	ctx := context.Background()

	ok, err := repo.PutIfAbsent(ctx, "k", "v", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.PutIfAbsent(ctx, "k", "other", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second put must not overwrite")

	val, ok, err := repo.Take(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	_, ok, err = repo.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "take is single use")
}

func TestEphemeralRepo_Expiry(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEphemeralRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ok, err := repo.PutIfAbsent(ctx, "k", "v", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	_, ok, err = repo.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry is not returned")

	ok, err = repo.PutIfAbsent(ctx, "k", "fresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired entry does not block a new put")
}

func TestEphemeralRepo_TakeMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEphemeralRepo(db)

	_, ok, err := repo.Take(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
