package sitegate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAdminService(t *testing.T, clock *manualClock) *sitegate.AdminTokenService {
	t.Helper()
	return sitegate.NewAdminTokenService(newCodec(clock), testConfig{PINHash: testPINHash(t)}).
		WithLogger(nopLogger{})
}

func TestAdminLoginWrongPIN(t *testing.T) {
	sink := &recordingSink{}
	svc := newAdminService(t, newManualClock()).WithActivitySink(sink)

	pair, err := svc.Login(context.Background(), "123456")
	require.Error(t, err)
	assert.True(t, sitegate.IsUnauthorized(err))
	assert.Equal(t, 401, sitegate.HTTPStatus(err))
	assert.Empty(t, svc.Cookies(pair))
	assert.Equal(t, []sitegate.ActivityEventType{sitegate.ActivityEventAdminLoginFailure}, sink.Types())
}

func TestAdminLoginRejectsWithoutConfiguredHash(t *testing.T) {
	svc := sitegate.NewAdminTokenService(newCodec(nil), testConfig{}).WithLogger(nopLogger{})

	for _, pin := range []string{"", testPIN} {
		_, err := svc.Login(context.Background(), pin)
		assert.True(t, sitegate.IsUnauthorized(err))
	}
}

func TestAdminLoginThenRefresh(t *testing.T) {
	clock := newManualClock()
	sink := &recordingSink{}
	svc := newAdminService(t, clock).WithActivitySink(sink)
	ctx := context.Background()

	pair, err := svc.Login(ctx, testPIN)
	require.NoError(t, err)
	assert.True(t, clock.Now().Add(time.Hour).Equal(pair.Access.ExpiresAt))
	assert.True(t, clock.Now().Add(7*24*time.Hour).Equal(pair.Refresh.ExpiresAt))

	access := svc.VerifyAccess(pair.Access.Raw)
	require.True(t, access.Valid)
	assert.Equal(t, sitegate.RoleAdmin, access.Claims.Role())

	clock.Advance(2 * time.Hour)
	assert.False(t, svc.VerifyAccess(pair.Access.Raw).Valid)

	refreshed, err := svc.Refresh(ctx, pair.Refresh.Raw)
	require.NoError(t, err)
	assert.False(t, refreshed.HasRefresh(), "refresh token is not rotated by default")
	assert.NotEqual(t, pair.Access.Raw, refreshed.Access.Raw)

	v := svc.VerifyAccess(refreshed.Access.Raw)
	require.True(t, v.Valid)
	assert.Equal(t, sitegate.RoleAdmin, v.Claims.Role())

	// the same refresh token keeps working for its whole lifetime
	clock.Advance(6 * 24 * time.Hour)
	_, err = svc.Refresh(ctx, pair.Refresh.Raw)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	_, err = svc.Refresh(ctx, pair.Refresh.Raw)
	require.Error(t, err)
	assert.True(t, sitegate.IsTokenExpiredError(err))

	assert.Equal(t, []sitegate.ActivityEventType{
		sitegate.ActivityEventAdminLoginSuccess,
		sitegate.ActivityEventAdminRefresh,
		sitegate.ActivityEventAdminRefresh,
		sitegate.ActivityEventAdminRefreshFailure,
	}, sink.Types())
}

func TestAdminTokenKindsAreNotInterchangeable(t *testing.T) {
	svc := newAdminService(t, newManualClock())
	ctx := context.Background()

	pair, err := svc.Login(ctx, testPIN)
	require.NoError(t, err)

	v := svc.VerifyAccess(pair.Refresh.Raw)
	assert.False(t, v.Valid)
	assert.Equal(t, sitegate.ReasonWrongKind, v.Reason)

	_, err = svc.Refresh(ctx, pair.Access.Raw)
	assert.True(t, sitegate.IsUnauthorized(err))

	// a member session signed with the same key is not an admin token
	member, err := newCodec(newManualClock()).Sign(map[string]any{
		sitegate.ClaimRole: sitegate.RoleMember,
		sitegate.ClaimKind: sitegate.TokenKindAccess,
	}, time.Hour)
	require.NoError(t, err)
	assert.False(t, svc.VerifyAccess(member.Raw).Valid)
}

func TestAdminCookies(t *testing.T) {
	svc := newAdminService(t, newManualClock())

	pair, err := svc.Login(context.Background(), testPIN)
	require.NoError(t, err)

	cookies := svc.Cookies(pair)
	require.Len(t, cookies, 2)
	assert.Equal(t, sitegate.AccessTokenCookie, cookies[0].Name)
	assert.Equal(t, time.Hour, cookies[0].MaxAge)
	assert.Equal(t, sitegate.RefreshTokenCookie, cookies[1].Name)
	assert.Equal(t, 7*24*time.Hour, cookies[1].MaxAge)

	for i := 0; i < 2; i++ {
		cleared := svc.Logout(context.Background())
		require.Len(t, cleared, 2)
		for _, c := range cleared {
			assert.True(t, c.Clear)
			assert.Empty(t, c.Value)
		}
	}
}

func TestAdminRefreshRotation(t *testing.T) {
	clock := newManualClock()
	mgr := setupManager(t)
	svc := newAdminService(t, clock).WithRefreshRotation(mgr.Revocations())
	ctx := context.Background()

	require.True(t, svc.RotatesRefreshTokens())

	pair, err := svc.Login(ctx, testPIN)
	require.NoError(t, err)
	require.NotEmpty(t, pair.Refresh.ID)

	rotated, err := svc.Refresh(ctx, pair.Refresh.Raw)
	require.NoError(t, err)
	require.True(t, rotated.HasRefresh())
	assert.NotEqual(t, pair.Refresh.ID, rotated.Refresh.ID)
	assert.Len(t, svc.Cookies(rotated), 2)

	_, err = svc.Refresh(ctx, pair.Refresh.Raw)
	require.Error(t, err, "a rotated refresh token must not be accepted again")
	assert.True(t, sitegate.IsUnauthorized(err))

	clock.Advance(time.Minute)
	_, err = svc.Refresh(ctx, rotated.Refresh.Raw)
	require.NoError(t, err)
}

func TestAdminRefreshRotationFailsClosed(t *testing.T) {
	store := &MockRevocationStore{}
	svc := newAdminService(t, newManualClock()).WithRefreshRotation(store)
	ctx := context.Background()

	pair, err := svc.Login(ctx, testPIN)
	require.NoError(t, err)

	store.On("IsRevoked", mock.Anything, pair.Refresh.ID).Return(false, errors.New("db down")).Once()

	_, err = svc.Refresh(ctx, pair.Refresh.Raw)
	require.Error(t, err)
	assert.True(t, sitegate.IsUnauthorized(err))

	store.On("IsRevoked", mock.Anything, pair.Refresh.ID).Return(false, nil).Once()
	store.On("Revoke", mock.Anything, pair.Refresh.ID, mock.Anything).Return(false, errors.New("db down")).Once()

	_, err = svc.Refresh(ctx, pair.Refresh.Raw)
	require.Error(t, err)
	assert.True(t, sitegate.IsTransient(err))

	store.AssertExpectations(t)
}

func TestAdminRefreshRotationHasOneWinner(t *testing.T) {
	store := &MockRevocationStore{}
	svc := newAdminService(t, newManualClock()).WithRefreshRotation(store)
	ctx := context.Background()

	pair, err := svc.Login(ctx, testPIN)
	require.NoError(t, err)

	// both refreshes pass the revocation check before either revokes
	store.On("IsRevoked", mock.Anything, pair.Refresh.ID).Return(false, nil).Twice()
	store.On("Revoke", mock.Anything, pair.Refresh.ID, mock.Anything).Return(true, nil).Once()
	store.On("Revoke", mock.Anything, pair.Refresh.ID, mock.Anything).Return(false, nil).Once()

	winner, err := svc.Refresh(ctx, pair.Refresh.Raw)
	require.NoError(t, err)
	assert.True(t, winner.HasRefresh())

	loser, err := svc.Refresh(ctx, pair.Refresh.Raw)
	require.Error(t, err)
	assert.True(t, sitegate.IsUnauthorized(err))
	assert.False(t, loser.HasRefresh())
	assert.Empty(t, loser.Access.Raw)

	store.AssertExpectations(t)
}

func TestAdminRefreshRotationConcurrent(t *testing.T) {
	mgr := setupManager(t)
	svc := newAdminService(t, newManualClock()).WithRefreshRotation(mgr.Revocations())
	ctx := context.Background()

	pair, err := svc.Login(ctx, testPIN)
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rotated int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := svc.Refresh(ctx, pair.Refresh.Raw)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if next.HasRefresh() {
				rotated++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rotated)
}
