package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevocationRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewRevocationRepository(db)
	ctx := context.Background()

	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	revoked, err := repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	first, err := repo.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, first)

	first, err = repo.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err, "revoking twice is a no-op")
	assert.False(t, first, "only the first revocation wins")

	first, err = repo.Revoke(ctx, "jti-old", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, first)

	revoked, err = repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	revoked, err = repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestVisitRepository(t *testing.T) {
	repo := NewVisitRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, repo.RecordVisit(ctx, "10.0.0.1", "/posts/p1", "test"))
	require.NoError(t, repo.RecordVisit(ctx, "10.0.0.1", "/posts/p2", "test"))
	require.NoError(t, repo.RecordVisit(ctx, "10.0.0.2", "/posts/p1", ""))

	n, err := repo.CountByIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
