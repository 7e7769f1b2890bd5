package ledger

import (
	"context"
	"strings"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/cache"
	"github.com/google/uuid"
)

// BookmarkManager creates, deletes and lists bookmarks. Bookmarks have no
// log: existence is the state.
type BookmarkManager struct {
	store      BookmarkStore
	cache      cache.Cache
	registry   *cache.Registry
	idempotent bool
	now        func() time.Time
	logger     sitegate.Logger
}

// NewBookmarkManager returns a manager whose Create fails with
// ErrAlreadyExists on duplicates. See WithIdempotentCreate.
func NewBookmarkManager(store BookmarkStore) *BookmarkManager {
	return &BookmarkManager{
		store:    store,
		cache:    cache.Nop{},
		registry: cache.NewRegistry(),
		now:      time.Now,
		logger:   sitegate.DefaultLogger(),
	}
}

func (m *BookmarkManager) WithCache(c cache.Cache) *BookmarkManager {
	if c != nil {
		m.cache = c
	}
	return m
}

func (m *BookmarkManager) WithRegistry(r *cache.Registry) *BookmarkManager {
	if r != nil {
		m.registry = r
	}
	return m
}

// WithIdempotentCreate makes Create return the existing bookmark instead of
// ErrAlreadyExists.
func (m *BookmarkManager) WithIdempotentCreate(enabled bool) *BookmarkManager {
	m.idempotent = enabled
	return m
}

func (m *BookmarkManager) WithLogger(logger sitegate.Logger) *BookmarkManager {
	m.logger = sitegate.NormalizeLogger(logger)
	return m
}

func (m *BookmarkManager) WithClock(now func() time.Time) *BookmarkManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Create bookmarks subject for actor.
func (m *BookmarkManager) Create(ctx context.Context, subject Subject, actor sitegate.Actor) (Bookmark, error) {
	if err := validateBookmark(subject, actor); err != nil {
		return Bookmark{}, err
	}

	stored, created, err := m.store.InsertBookmark(ctx, &Bookmark{
		ID:        uuid.NewString(),
		Subject:   subject,
		Actor:     actor,
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		return Bookmark{}, err
	}

	if !created {
		if m.idempotent {
			return *stored, nil
		}
		clone := sitegate.ErrAlreadyExists.Clone()
		return *stored, clone.WithMetadata(map[string]any{
			"bookmark_id": stored.ID,
			"subject":     subject.String(),
		})
	}

	if err := m.invalidate(ctx, cache.OpCreateBookmark); err != nil {
		return *stored, err
	}

	return *stored, nil
}

// Delete removes a bookmark. Unknown ids are a no-op. When actor is given
// the bookmark must belong to it, otherwise it is treated as unknown.
func (m *BookmarkManager) Delete(ctx context.Context, id string, actor *sitegate.Actor) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	if actor != nil {
		existing, err := m.store.GetBookmark(ctx, id)
		if err != nil {
			if sitegate.IsNotFound(err) {
				return nil
			}
			return err
		}
		if existing.Actor != *actor {
			return nil
		}
	}

	deleted, err := m.store.DeleteBookmark(ctx, id)
	if err != nil {
		return err
	}

	if !deleted {
		return nil
	}

	return m.invalidate(ctx, cache.OpDeleteBookmark)
}

// ListFor returns the bookmarks of actor, newest first.
func (m *BookmarkManager) ListFor(ctx context.Context, actor sitegate.Actor) ([]Bookmark, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}

	key := "bookmarks:" + actor.String()
	return cache.Get(ctx, m.cache, key, []cache.Tag{cache.TagBookmarks}, func(ctx context.Context) ([]Bookmark, error) {
		list, err := m.store.ListBookmarks(ctx, actor)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []Bookmark{}
		}
		return list, nil
	})
}

func (m *BookmarkManager) invalidate(ctx context.Context, op cache.Operation) error {
	tags, err := m.registry.TagsAffectedBy(op)
	if err != nil {
		return err
	}
	return m.cache.InvalidateTags(ctx, tags...)
}

func validateBookmark(subject Subject, actor sitegate.Actor) error {
	violations := sitegate.Violations(subject.Validate())
	if violations == nil {
		violations = map[string]string{}
	}
	for rule, msg := range sitegate.Violations(actor.Validate()) {
		violations[rule] = msg
	}
	if len(violations) > 0 {
		return sitegate.NewValidationError(violations)
	}
	return nil
}
