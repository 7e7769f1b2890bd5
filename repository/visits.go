package repository

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// VisitModel is one telemetry row written by the request gate.
type VisitModel struct {
	bun.BaseModel `bun:"table:visits"`

	ID        int64     `bun:"id,pk,autoincrement"`
	IP        string    `bun:"ip,notnull"`
	Path      string    `bun:"path,notnull"`
	UserAgent string    `bun:"user_agent"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// VisitRepository stores caller IPs seen on content routes.
type VisitRepository struct {
	db  bun.IDB
	now func() time.Time
}

// NewVisitRepository creates a new repository.
func NewVisitRepository(db bun.IDB) *VisitRepository {
	return &VisitRepository{db: db, now: time.Now}
}

// RecordVisit appends a visit row.
func (r *VisitRepository) RecordVisit(ctx context.Context, ip, path, userAgent string) error {
	_, err := r.db.NewInsert().
		Model(&VisitModel{
			IP:        ip,
			Path:      path,
			UserAgent: userAgent,
			CreatedAt: r.now().UTC(),
		}).
		Exec(ctx)
	return mapError(err, "failed to record visit", map[string]any{"path": path})
}

// CountByIP returns how many visits were recorded for ip.
func (r *VisitRepository) CountByIP(ctx context.Context, ip string) (int, error) {
	n, err := r.db.NewSelect().
		Model((*VisitModel)(nil)).
		Where("ip = ?", ip).
		Count(ctx)
	if err != nil {
		return 0, mapError(err, "failed to count visits", nil)
	}
	return n, nil
}
