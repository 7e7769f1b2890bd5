package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/cache"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/goliatone/go-sitegate/repository"
	"github.com/stretchr/testify/require"
)

var (
	p1 = ledger.Subject{Kind: ledger.SubjectPost, ID: "p1"}
	n1 = ledger.Subject{Kind: ledger.SubjectNote, ID: "n1"}
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func setupManager(t *testing.T) *repository.Manager {
	t.Helper()

	db, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)

	mgr := repository.NewManager(db)
	require.NoError(t, mgr.CreateSchema(context.Background()))

	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func setupCache(t *testing.T) *cache.BadgerCache {
	t.Helper()

	c, err := cache.OpenBadger(cache.Options{Logger: nopLogger{}})
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })
	return c
}

// stepClock hands out strictly increasing timestamps
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func newStepClock() *stepClock {
	return &stepClock{next: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(time.Millisecond)
	return now
}

// faultyStore lets tests fail individual store calls
type faultyStore struct {
	ledger.Store
	failAppend    bool
	failIncrement bool
}

func (s *faultyStore) AppendInteraction(ctx context.Context, in *ledger.Interaction) error {
	if s.failAppend {
		return sitegate.Transient(assertErr, "append failed")
	}
	return s.Store.AppendInteraction(ctx, in)
}

func (s *faultyStore) IncrementCounter(ctx context.Context, subject ledger.Subject, counter ledger.Counter, delta int64) error {
	if s.failIncrement {
		return sitegate.Transient(assertErr, "increment failed")
	}
	return s.Store.IncrementCounter(ctx, subject, counter, delta)
}

// brokenCache serves reads but cannot invalidate
type brokenCache struct {
	cache.Nop
}

func (brokenCache) InvalidateTags(context.Context, ...cache.Tag) error {
	return sitegate.Transient(assertErr, "cache unreachable")
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const assertErr = staticErr("injected failure")

// recordingQueue collects repair requests
type recordingQueue struct {
	mu       sync.Mutex
	subjects []ledger.Subject
}

func (q *recordingQueue) Enqueue(s ledger.Subject) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, s)
}
