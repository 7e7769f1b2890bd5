package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// Manager groups the repositories that share one database handle.
type Manager struct {
	db          *bun.DB
	users       *UserRepository
	ledger      *LedgerRepository
	bookmarks   *BookmarkRepository
	visits      *VisitRepository
	revocations *RevocationRepository
}

func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:          db,
		users:       NewUserRepository(db),
		ledger:      NewLedgerRepository(db),
		bookmarks:   NewBookmarkRepository(db),
		visits:      NewVisitRepository(db),
		revocations: NewRevocationRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.users == nil || m.ledger == nil || m.bookmarks == nil {
		return errors.New("repositories should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// CreateSchema bootstraps every table on the managed database
func (m *Manager) CreateSchema(ctx context.Context) error {
	return CreateSchema(ctx, m.db)
}

func (m *Manager) DB() *bun.DB { return m.db }

func (m *Manager) Users() *UserRepository { return m.users }

func (m *Manager) Ledger() *LedgerRepository { return m.ledger }

func (m *Manager) Bookmarks() *BookmarkRepository { return m.bookmarks }

func (m *Manager) Visits() *VisitRepository { return m.visits }

func (m *Manager) Revocations() *RevocationRepository { return m.revocations }

func (m *Manager) Close() error {
	return m.db.Close()
}
