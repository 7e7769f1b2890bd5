package repository

import (
	"context"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BookmarkModel is the Bun model for bookmarks.
type BookmarkModel struct {
	bun.BaseModel `bun:"table:bookmarks"`

	ID          string    `bun:"id,pk"`
	SubjectKind string    `bun:"subject_kind,notnull"`
	SubjectID   string    `bun:"subject_id,notnull"`
	ActorKey    string    `bun:"actor_key,notnull"`
	ActorKind   string    `bun:"actor_kind,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

// BookmarkRepository implements ledger.BookmarkStore using Bun.
type BookmarkRepository struct {
	db bun.IDB
}

var _ ledger.BookmarkStore = (*BookmarkRepository)(nil)

// NewBookmarkRepository creates a new repository.
func NewBookmarkRepository(db bun.IDB) *BookmarkRepository {
	return &BookmarkRepository{db: db}
}

// InsertBookmark implements ledger.BookmarkStore.
func (r *BookmarkRepository) InsertBookmark(ctx context.Context, b *ledger.Bookmark) (*ledger.Bookmark, bool, error) {
	model := &BookmarkModel{
		ID:          b.ID,
		SubjectKind: string(b.Subject.Kind),
		SubjectID:   b.Subject.ID,
		ActorKey:    b.Actor.Key,
		ActorKind:   string(b.Actor.Kind),
		CreatedAt:   b.CreatedAt.UTC(),
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (subject_kind, subject_id, actor_kind, actor_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, mapError(err, "failed to insert bookmark", map[string]any{
			"subject": b.Subject.String(),
		})
	}

	affected, _ := res.RowsAffected()

	stored, err := r.findBySubjectActor(ctx, b.Subject, b.Actor)
	if err != nil {
		return nil, false, err
	}

	return stored, affected > 0, nil
}

// DeleteBookmark implements ledger.BookmarkStore.
func (r *BookmarkRepository) DeleteBookmark(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*BookmarkModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, mapError(err, "failed to delete bookmark", map[string]any{"id": id})
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// GetBookmark implements ledger.BookmarkStore.
func (r *BookmarkRepository) GetBookmark(ctx context.Context, id string) (*ledger.Bookmark, error) {
	var model BookmarkModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapError(err, "bookmark not found", map[string]any{"id": id})
	}
	b := toBookmark(&model)
	return &b, nil
}

// ListBookmarks implements ledger.BookmarkStore.
func (r *BookmarkRepository) ListBookmarks(ctx context.Context, actor sitegate.Actor) ([]ledger.Bookmark, error) {
	var models []BookmarkModel
	err := r.db.NewSelect().
		Model(&models).
		Where("actor_kind = ? AND actor_key = ?", string(actor.Kind), actor.Key).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list bookmarks", nil)
	}

	out := make([]ledger.Bookmark, len(models))
	for i := range models {
		out[i] = toBookmark(&models[i])
	}
	return out, nil
}

func (r *BookmarkRepository) findBySubjectActor(ctx context.Context, subject ledger.Subject, actor sitegate.Actor) (*ledger.Bookmark, error) {
	var model BookmarkModel
	err := r.db.NewSelect().
		Model(&model).
		Where("subject_kind = ? AND subject_id = ?", string(subject.Kind), subject.ID).
		Where("actor_kind = ? AND actor_key = ?", string(actor.Kind), actor.Key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapError(err, "bookmark not found", map[string]any{"subject": subject.String()})
	}
	b := toBookmark(&model)
	return &b, nil
}

func toBookmark(m *BookmarkModel) ledger.Bookmark {
	return ledger.Bookmark{
		ID: m.ID,
		Subject: ledger.Subject{
			Kind: ledger.SubjectKind(m.SubjectKind),
			ID:   m.SubjectID,
		},
		Actor: sitegate.Actor{
			Key:  m.ActorKey,
			Kind: sitegate.ActorKind(m.ActorKind),
		},
		CreatedAt: m.CreatedAt,
	}
}
