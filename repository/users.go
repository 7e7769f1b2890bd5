package repository

import (
	"context"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/uptrace/bun"
)

// UserModel is the Bun model for users.
type UserModel struct {
	bun.BaseModel `bun:"table:users"`

	ID                 string    `bun:"id,pk"`
	Email              string    `bun:"email"`
	Name               string    `bun:"name"`
	AvatarURL          string    `bun:"avatar_url"`
	Provider           string    `bun:"provider,notnull"`
	ProviderExternalID string    `bun:"provider_external_id,notnull"`
	PasswordHash       string    `bun:"password_hash"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
}

// UserRepository implements sitegate.UserStore using Bun.
type UserRepository struct {
	db bun.IDB
}

var _ sitegate.UserStore = (*UserRepository)(nil)

// NewUserRepository creates a new repository.
func NewUserRepository(db bun.IDB) *UserRepository {
	return &UserRepository{db: db}
}

// InsertOrGet inserts record unless (provider, provider_external_id) is
// taken. The insert and the uniqueness check are a single statement, so
// concurrent first sign ins produce exactly one row.
func (r *UserRepository) InsertOrGet(ctx context.Context, record *sitegate.UserRecord) (*sitegate.UserRecord, bool, error) {
	model := fromUserRecord(record)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (provider, provider_external_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, mapError(err, "failed to insert user", map[string]any{
			"provider": model.Provider,
		})
	}

	affected, _ := res.RowsAffected()

	stored, err := r.FindByProviderID(ctx, model.Provider, model.ProviderExternalID)
	if err != nil {
		return nil, false, err
	}

	return stored, affected > 0, nil
}

// FindByProviderID implements sitegate.UserStore.
func (r *UserRepository) FindByProviderID(ctx context.Context, provider, externalID string) (*sitegate.UserRecord, error) {
	var model UserModel
	err := r.db.NewSelect().
		Model(&model).
		Where("provider = ? AND provider_external_id = ?", provider, externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapError(err, "user not found", map[string]any{"provider": provider})
	}
	return toUserRecord(&model), nil
}

// FindByID implements sitegate.UserStore.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*sitegate.UserRecord, error) {
	var model UserModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapError(err, "user not found", map[string]any{"id": id})
	}
	return toUserRecord(&model), nil
}

// Count returns the number of users for a provider, or all users when
// provider is empty.
func (r *UserRepository) Count(ctx context.Context, provider string) (int, error) {
	q := r.db.NewSelect().Model((*UserModel)(nil))
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, mapError(err, "failed to count users", nil)
	}
	return n, nil
}

func toUserRecord(m *UserModel) *sitegate.UserRecord {
	return &sitegate.UserRecord{
		ID:                 m.ID,
		Email:              m.Email,
		Name:               m.Name,
		AvatarURL:          m.AvatarURL,
		Provider:           m.Provider,
		ProviderExternalID: m.ProviderExternalID,
		PasswordHash:       m.PasswordHash,
		CreatedAt:          m.CreatedAt,
	}
}

func fromUserRecord(r *sitegate.UserRecord) *UserModel {
	if r == nil {
		return &UserModel{}
	}
	return &UserModel{
		ID:                 r.ID,
		Email:              r.Email,
		Name:               r.Name,
		AvatarURL:          r.AvatarURL,
		Provider:           r.Provider,
		ProviderExternalID: r.ProviderExternalID,
		PasswordHash:       r.PasswordHash,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}
