package repository

import (
	"context"

	"github.com/uptrace/bun"
)

var models = []any{
	(*UserModel)(nil),
	(*InteractionModel)(nil),
	(*AggregateModel)(nil),
	(*BookmarkModel)(nil),
	(*VisitModel)(nil),
	(*RevokedTokenModel)(nil),
}

type indexDef struct {
	model   any
	name    string
	unique  bool
	columns []string
}

var indexes = []indexDef{
	{(*UserModel)(nil), "ux_users_provider_external_id", true, []string{"provider", "provider_external_id"}},
	{(*InteractionModel)(nil), "ix_interactions_subject_actor", false, []string{"subject_kind", "subject_id", "actor_kind", "actor_key", "created_at"}},
	{(*BookmarkModel)(nil), "ux_bookmarks_subject_actor", true, []string{"subject_kind", "subject_id", "actor_kind", "actor_key"}},
	{(*BookmarkModel)(nil), "ix_bookmarks_actor_created", false, []string{"actor_kind", "actor_key", "created_at"}},
	{(*VisitModel)(nil), "ix_visits_ip", false, []string{"ip"}},
}

// CreateSchema creates tables and indexes that do not exist yet. The
// unique indexes back the insert-or-get operations of the user and
// bookmark repositories.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return mapError(err, "failed to create table", nil)
		}
	}

	for _, idx := range indexes {
		q := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return mapError(err, "failed to create index", map[string]any{"index": idx.name})
		}
	}

	return nil
}
