package repository

import (
	"context"
	"testing"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookmarkRepositoryInsertIsUniquePerSubjectActor(t *testing.T) {
	repo := NewBookmarkRepository(setupDB(t))
	ctx := context.Background()

	b := &ledger.Bookmark{
		Subject: ledger.Subject{Kind: ledger.SubjectPost, ID: "p1"},
		Actor:   sitegate.GuestActor("g1"),
	}

	first, created, err := repo.InsertBookmark(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)

	second, created, err := repo.InsertBookmark(ctx, b)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other, created, err := repo.InsertBookmark(ctx, &ledger.Bookmark{
		Subject: b.Subject,
		Actor:   sitegate.UserActor("g1"),
	})
	require.NoError(t, err)
	assert.True(t, created, "same key with another actor kind is a different actor")
	assert.NotEqual(t, first.ID, other.ID)
}

func TestBookmarkRepositoryListAndDelete(t *testing.T) {
	repo := NewBookmarkRepository(setupDB(t))
	ctx := context.Background()

	actor := sitegate.UserActor("u1")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i, id := range []string{"p1", "p2", "p3"} {
		stored, _, err := repo.InsertBookmark(ctx, &ledger.Bookmark{
			Subject:   ledger.Subject{Kind: ledger.SubjectPost, ID: id},
			Actor:     actor,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}

	list, err := repo.ListBookmarks(ctx, actor)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "p3", list[0].Subject.ID)
	assert.Equal(t, "p1", list[2].Subject.ID)

	deleted, err := repo.DeleteBookmark(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteBookmark(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = repo.GetBookmark(ctx, ids[0])
	assert.True(t, sitegate.IsNotFound(err))
}
