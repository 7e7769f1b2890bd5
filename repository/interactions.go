package repository

import (
	"context"
	"database/sql"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// InteractionModel is the Bun model for the append only interaction log.
type InteractionModel struct {
	bun.BaseModel `bun:"table:interactions"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Type        string    `bun:"type,notnull"`
	SubjectKind string    `bun:"subject_kind,notnull"`
	SubjectID   string    `bun:"subject_id,notnull"`
	ActorKey    string    `bun:"actor_key,notnull"`
	ActorKind   string    `bun:"actor_kind,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

// AggregateModel holds the running counters of a subject.
type AggregateModel struct {
	bun.BaseModel `bun:"table:content_aggregates"`

	SubjectKind  string    `bun:"subject_kind,pk"`
	SubjectID    string    `bun:"subject_id,pk"`
	LikeCount    int64     `bun:"like_count,notnull"`
	ViewCount    int64     `bun:"view_count,notnull"`
	ShareCount   int64     `bun:"share_count,notnull"`
	CommentCount int64     `bun:"comment_count,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

// LedgerRepository implements ledger.Store using Bun.
type LedgerRepository struct {
	db  *bun.DB
	now func() time.Time
}

var _ ledger.Store = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new repository.
func NewLedgerRepository(db *bun.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// AppendInteraction implements ledger.Store.
func (r *LedgerRepository) AppendInteraction(ctx context.Context, in *ledger.Interaction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = r.now()
	}
	in.CreatedAt = in.CreatedAt.UTC()

	model := &InteractionModel{
		Type:        string(in.Type),
		SubjectKind: string(in.Subject.Kind),
		SubjectID:   in.Subject.ID,
		ActorKey:    in.Actor.Key,
		ActorKind:   string(in.Actor.Kind),
		CreatedAt:   in.CreatedAt,
	}

	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return mapError(err, "failed to append interaction", map[string]any{
			"subject": in.Subject.String(),
			"type":    string(in.Type),
		})
	}

	in.ID = model.ID
	return nil
}

// QueryInteractions implements ledger.Store.
func (r *LedgerRepository) QueryInteractions(ctx context.Context, filter ledger.InteractionFilter) ([]ledger.Interaction, error) {
	return queryInteractions(ctx, r.db, filter)
}

func queryInteractions(ctx context.Context, db bun.IDB, filter ledger.InteractionFilter) ([]ledger.Interaction, error) {
	var models []InteractionModel

	q := db.NewSelect().
		Model(&models).
		Where("subject_kind = ? AND subject_id = ?", string(filter.Subject.Kind), filter.Subject.ID)

	if filter.Actor.Key != "" {
		q = q.Where("actor_kind = ? AND actor_key = ?", string(filter.Actor.Kind), filter.Actor.Key)
	}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN (?)", bun.In(types))
	}

	if err := q.OrderExpr("created_at ASC, id ASC").Scan(ctx); err != nil {
		return nil, mapError(err, "failed to query interactions", map[string]any{
			"subject": filter.Subject.String(),
		})
	}

	out := make([]ledger.Interaction, len(models))
	for i := range models {
		out[i] = toInteraction(&models[i])
	}
	return out, nil
}

// IncrementCounter implements ledger.Store. The aggregate row is created on
// demand and the update is a single relative statement so concurrent
// increments do not lose writes.
func (r *LedgerRepository) IncrementCounter(ctx context.Context, subject ledger.Subject, counter ledger.Counter, delta int64) error {
	if !counter.Valid() {
		return sitegate.NewValidationError(map[string]string{
			"counter": "unknown counter " + string(counter),
		})
	}

	now := r.now().UTC()
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureAggregate(ctx, tx, subject, now); err != nil {
			return err
		}

		_, err := tx.NewUpdate().
			Model((*AggregateModel)(nil)).
			Set("? = ? + ?", bun.Ident(string(counter)), bun.Ident(string(counter)), delta).
			Set("updated_at = ?", now).
			Where("subject_kind = ? AND subject_id = ?", string(subject.Kind), subject.ID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return mapError(err, "failed to increment counter", map[string]any{
			"subject": subject.String(),
			"counter": string(counter),
		})
	}
	return nil
}

// GetAggregate implements ledger.Store. Subjects without a row have zero
// counters.
func (r *LedgerRepository) GetAggregate(ctx context.Context, subject ledger.Subject) (ledger.Aggregate, error) {
	return getAggregate(ctx, r.db, subject)
}

func getAggregate(ctx context.Context, db bun.IDB, subject ledger.Subject) (ledger.Aggregate, error) {
	var model AggregateModel
	err := db.NewSelect().
		Model(&model).
		Where("subject_kind = ? AND subject_id = ?", string(subject.Kind), subject.ID).
		Scan(ctx)
	if err != nil {
		mapped := mapError(err, "aggregate not found", nil)
		if sitegate.IsNotFound(mapped) {
			return ledger.Aggregate{Subject: subject}, nil
		}
		return ledger.Aggregate{}, mapped
	}
	return toAggregate(&model), nil
}

// CounterSnapshot implements ledger.Store. Both reads share one
// transaction; postgres runs it at repeatable read so increments committed
// between the two reads are invisible to both.
func (r *LedgerRepository) CounterSnapshot(ctx context.Context, subject ledger.Subject) ([]ledger.Interaction, ledger.Aggregate, error) {
	var (
		events []ledger.Interaction
		agg    ledger.Aggregate
	)

	err := r.db.RunInTx(ctx, r.snapshotOptions(), func(ctx context.Context, tx bun.Tx) error {
		var err error
		if events, err = queryInteractions(ctx, tx, ledger.InteractionFilter{Subject: subject}); err != nil {
			return err
		}
		agg, err = getAggregate(ctx, tx, subject)
		return err
	})
	if err != nil {
		return nil, ledger.Aggregate{}, mapError(err, "failed to snapshot counters", map[string]any{
			"subject": subject.String(),
		})
	}
	return events, agg, nil
}

// sqlite transactions are already serializable and reject other levels
func (r *LedgerRepository) snapshotOptions() *sql.TxOptions {
	if r.db.Dialect().Name() == dialect.PG {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// AdjustCounters implements ledger.Store. Like IncrementCounter it is a
// single relative update, so it composes with concurrent increments.
func (r *LedgerRepository) AdjustCounters(ctx context.Context, delta ledger.Aggregate) error {
	now := r.now().UTC()
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureAggregate(ctx, tx, delta.Subject, now); err != nil {
			return err
		}

		_, err := tx.NewUpdate().
			Model((*AggregateModel)(nil)).
			Set("like_count = like_count + ?", delta.LikeCount).
			Set("view_count = view_count + ?", delta.ViewCount).
			Set("share_count = share_count + ?", delta.ShareCount).
			Set("updated_at = ?", now).
			Where("subject_kind = ? AND subject_id = ?", string(delta.Subject.Kind), delta.Subject.ID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return mapError(err, "failed to adjust counters", map[string]any{"subject": delta.Subject.String()})
	}
	return nil
}

// Subjects implements ledger.Store.
func (r *LedgerRepository) Subjects(ctx context.Context) ([]ledger.Subject, error) {
	var rows []struct {
		SubjectKind string `bun:"subject_kind"`
		SubjectID   string `bun:"subject_id"`
	}

	err := r.db.NewSelect().
		Model((*InteractionModel)(nil)).
		ColumnExpr("DISTINCT subject_kind, subject_id").
		OrderExpr("subject_kind ASC, subject_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, mapError(err, "failed to list subjects", nil)
	}

	out := make([]ledger.Subject, len(rows))
	for i, row := range rows {
		out[i] = ledger.Subject{Kind: ledger.SubjectKind(row.SubjectKind), ID: row.SubjectID}
	}
	return out, nil
}

// SetCommentCount implements ledger.Store. It does not touch the cache;
// callers go through ledger.Ledger.SetCommentCount.
func (r *LedgerRepository) SetCommentCount(ctx context.Context, subject ledger.Subject, count int64) error {
	now := r.now().UTC()
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureAggregate(ctx, tx, subject, now); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*AggregateModel)(nil)).
			Set("comment_count = ?", count).
			Set("updated_at = ?", now).
			Where("subject_kind = ? AND subject_id = ?", string(subject.Kind), subject.ID).
			Exec(ctx)
		return err
	})
	return mapError(err, "failed to set comment count", map[string]any{"subject": subject.String()})
}

func ensureAggregate(ctx context.Context, tx bun.Tx, subject ledger.Subject, now time.Time) error {
	_, err := tx.NewInsert().
		Model(&AggregateModel{
			SubjectKind: string(subject.Kind),
			SubjectID:   subject.ID,
			UpdatedAt:   now,
		}).
		On("CONFLICT (subject_kind, subject_id) DO NOTHING").
		Exec(ctx)
	return err
}

func toInteraction(m *InteractionModel) ledger.Interaction {
	return ledger.Interaction{
		ID:   m.ID,
		Type: ledger.InteractionType(m.Type),
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

func toAggregate(m *AggregateModel) ledger.Aggregate {
	return ledger.Aggregate{
		Subject: ledger.Subject{
			Kind: ledger.SubjectKind(m.SubjectKind),
			ID:   m.SubjectID,
		},
		LikeCount:    m.LikeCount,
		ViewCount:    m.ViewCount,
		ShareCount:   m.ShareCount,
		CommentCount: m.CommentCount,
	}
}
