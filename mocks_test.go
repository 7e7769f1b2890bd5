package sitegate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/repository"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSigningKey = "test-signing-key-0123456789abcdef"
	testIssuer     = "sitegate-test"
	testPIN        = "000000"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// testConfig implements sitegate.Config
type testConfig struct {
	PINHash    string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Rotate     bool
}

func (c testConfig) GetSigningKey() string             { return testSigningKey }
func (c testConfig) GetAdminPINHash() string           { return c.PINHash }
func (c testConfig) GetIssuer() string                 { return testIssuer }
func (c testConfig) GetAccessTokenTTL() time.Duration  { return c.AccessTTL }
func (c testConfig) GetRefreshTokenTTL() time.Duration { return c.RefreshTTL }
func (c testConfig) GetRotateRefreshTokens() bool      { return c.Rotate }
func (c testConfig) GetSecureCookies() bool            { return false }

var (
	pinHashOnce sync.Once
	pinHash     string
)

// testPINHash hashes testPIN once per test binary
func testPINHash(t *testing.T) string {
	t.Helper()
	pinHashOnce.Do(func() {
		h, err := sitegate.HashPassword(testPIN)
		require.NoError(t, err)
		pinHash = h
	})
	return pinHash
}

// manualClock is a settable time source
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCodec(clock *manualClock) *sitegate.TokenCodec {
	codec := sitegate.NewTokenCodec([]byte(testSigningKey), testIssuer, nopLogger{})
	if clock != nil {
		codec.WithClock(clock.Now)
	}
	return codec
}

func setupManager(t *testing.T) *repository.Manager {
	t.Helper()

	db, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)

	mgr := repository.NewManager(db)
	require.NoError(t, mgr.CreateSchema(context.Background()))

	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

// MockUserStore implements sitegate.UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) InsertOrGet(ctx context.Context, record *sitegate.UserRecord) (*sitegate.UserRecord, bool, error) {
	args := m.Called(ctx, record)
	if u, ok := args.Get(0).(*sitegate.UserRecord); ok {
		return u, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockUserStore) FindByProviderID(ctx context.Context, provider, externalID string) (*sitegate.UserRecord, error) {
	args := m.Called(ctx, provider, externalID)
	if u, ok := args.Get(0).(*sitegate.UserRecord); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserStore) FindByID(ctx context.Context, id string) (*sitegate.UserRecord, error) {
	args := m.Called(ctx, id)
	if u, ok := args.Get(0).(*sitegate.UserRecord); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRevocationStore implements sitegate.RevocationStore
type MockRevocationStore struct {
	mock.Mock
}

func (m *MockRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, tokenID, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []sitegate.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event sitegate.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []sitegate.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sitegate.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}
