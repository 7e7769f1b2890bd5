package repository

import (
	"context"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/uptrace/bun"
)

// RevokedTokenModel records a refresh token id that was rotated out.
type RevokedTokenModel struct {
	bun.BaseModel `bun:"table:revoked_tokens"`

	TokenID   string    `bun:"token_id,pk"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	RevokedAt time.Time `bun:"revoked_at,notnull"`
}

// RevocationRepository implements sitegate.RevocationStore using Bun.
type RevocationRepository struct {
	db  bun.IDB
	now func() time.Time
}

var _ sitegate.RevocationStore = (*RevocationRepository)(nil)

// NewRevocationRepository creates a new repository.
func NewRevocationRepository(db bun.IDB) *RevocationRepository {
	return &RevocationRepository{db: db, now: time.Now}
}

// Revoke implements sitegate.RevocationStore. Revoking twice is a no-op
// that reports first as false.
func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	res, err := r.db.NewInsert().
		Model(&RevokedTokenModel{
			TokenID:   tokenID,
			ExpiresAt: expiresAt.UTC(),
			RevokedAt: r.now().UTC(),
		}).
		On("CONFLICT (token_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, mapError(err, "failed to revoke token", map[string]any{"token_id": tokenID})
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err, "failed to revoke token", map[string]any{"token_id": tokenID})
	}
	return n == 1, nil
}

// IsRevoked implements sitegate.RevocationStore.
func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*RevokedTokenModel)(nil)).
		Where("token_id = ?", tokenID).
		Exists(ctx)
	if err != nil {
		return false, mapError(err, "failed to check revocation", nil)
	}
	return exists, nil
}

// PurgeExpired drops revocations whose token would be rejected by its exp
// claim anyway.
func (r *RevocationRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RevokedTokenModel)(nil)).
		Where("expires_at < ?", r.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, mapError(err, "failed to purge revocations", nil)
	}
	return res.RowsAffected()
}
