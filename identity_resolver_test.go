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

func TestResolveFederatedCreatesOnce(t *testing.T) {
	mgr := setupManager(t)
	sink := &recordingSink{}
	resolver := sitegate.NewIdentityResolver(mgr.Users(), newCodec(nil)).
		WithLogger(nopLogger{}).
		WithActivitySink(sink)
	ctx := context.Background()

	profile := sitegate.ExternalProfile{Email: "Ada@Example.com", Name: "Ada"}

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			identity, err := resolver.ResolveFederated(ctx, "github", "4242", profile)
			ids[i] = identity.ID
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	count, err := mgr.Users().Count(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	created := 0
	for _, typ := range sink.Types() {
		if typ == sitegate.ActivityEventUserCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	expected, err := sitegate.UserID("github", "4242")
	require.NoError(t, err)
	assert.Equal(t, expected, ids[0])
}

func TestResolveFederatedIgnoresProfileDrift(t *testing.T) {
	mgr := setupManager(t)
	resolver := sitegate.NewIdentityResolver(mgr.Users(), newCodec(nil)).WithLogger(nopLogger{})
	ctx := context.Background()

	first, err := resolver.ResolveFederated(ctx, "github", "7", sitegate.ExternalProfile{
		Email: "Ada@Example.com",
		Name:  "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", first.Email)
	assert.Equal(t, "github", first.Provider)
	assert.Equal(t, "7", first.ProviderExternalID)

	second, err := resolver.ResolveFederated(ctx, "github", "7", sitegate.ExternalProfile{
		Email: "lovelace@example.com",
		Name:  "Countess",
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := resolver.ResolveFederated(ctx, "gitlab", "7", sitegate.ExternalProfile{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestResolveFederatedValidation(t *testing.T) {
	resolver := sitegate.NewIdentityResolver(&MockUserStore{}, newCodec(nil)).WithLogger(nopLogger{})

	tests := []struct {
		name       string
		provider   string
		externalID string
		want       []string
	}{
		{"empty", "", " ", []string{"external_id.required", "provider.required"}},
		{"reserved provider", sitegate.ProviderCredentials, "x", []string{"provider.reserved"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.ResolveFederated(context.Background(), tt.provider, tt.externalID, sitegate.ExternalProfile{})
			require.Error(t, err)
			assert.True(t, sitegate.IsValidation(err))
			assert.Equal(t, tt.want, sitegate.ViolatedRules(err))
		})
	}
}

func TestResolveFederatedStoreFailure(t *testing.T) {
	store := &MockUserStore{}
	resolver := sitegate.NewIdentityResolver(store, newCodec(nil)).WithLogger(nopLogger{})
	ctx := context.Background()

	store.On("FindByProviderID", mock.Anything, "github", "1").
		Return(nil, sitegate.Transient(errors.New("connection reset"), "lookup failed")).Once()

	_, err := resolver.ResolveFederated(ctx, "github", "1", sitegate.ExternalProfile{})
	require.Error(t, err)
	assert.True(t, sitegate.IsTransient(err))

	store.On("FindByProviderID", mock.Anything, "github", "1").
		Return(nil, sitegate.NotFound("user not found", nil)).Once()
	store.On("InsertOrGet", mock.Anything, mock.MatchedBy(func(r *sitegate.UserRecord) bool {
		return r.Provider == "github" && r.ProviderExternalID == "1"
	})).Return(nil, false, sitegate.Transient(errors.New("disk full"), "insert failed")).Once()

	_, err = resolver.ResolveFederated(ctx, "github", "1", sitegate.ExternalProfile{})
	require.Error(t, err)
	assert.True(t, sitegate.IsTransient(err))

	store.AssertExpectations(t)
}

func TestRegisterAndResolveCredential(t *testing.T) {
	mgr := setupManager(t)
	sink := &recordingSink{}
	resolver := sitegate.NewIdentityResolver(mgr.Users(), newCodec(nil)).
		WithLogger(nopLogger{}).
		WithActivitySink(sink)
	ctx := context.Background()

	identity, err := resolver.Register(ctx, " Reader@Example.com ", "Sup3rSecretPass")
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", identity.Email)
	assert.Equal(t, sitegate.ProviderCredentials, identity.Provider)
	assert.NotEmpty(t, identity.ID)

	_, err = resolver.Register(ctx, "reader@example.com", "An0therSecretPass")
	require.Error(t, err)
	assert.True(t, sitegate.IsConflict(err))

	resolved, err := resolver.ResolveCredential(ctx, "READER@example.com", "Sup3rSecretPass")
	require.NoError(t, err)
	assert.Equal(t, identity, resolved)

	_, err = resolver.ResolveCredential(ctx, "reader@example.com", "WrongPassword1")
	assert.True(t, sitegate.IsUnauthorized(err))
	assert.Equal(t, 401, sitegate.HTTPStatus(err))

	_, err = resolver.ResolveCredential(ctx, "nobody@example.com", "Sup3rSecretPass")
	assert.True(t, sitegate.IsUnauthorized(err))

	_, err = resolver.ResolveCredential(ctx, "", "")
	assert.True(t, sitegate.IsUnauthorized(err))

	assert.Equal(t, []sitegate.ActivityEventType{
		sitegate.ActivityEventUserCreated,
		sitegate.ActivityEventUserResolved,
		sitegate.ActivityEventUserSignInFailure,
		sitegate.ActivityEventUserSignInFailure,
	}, sink.Types())
}

func TestRegisterReportsEveryViolation(t *testing.T) {
	store := &MockUserStore{}
	resolver := sitegate.NewIdentityResolver(store, newCodec(nil)).WithLogger(nopLogger{})

	_, err := resolver.Register(context.Background(), "nope", "short")
	require.Error(t, err)
	assert.True(t, sitegate.IsValidation(err))
	assert.Equal(t, []string{
		sitegate.RuleEmailFormat,
		sitegate.RulePasswordDigit,
		sitegate.RulePasswordMinLength,
		sitegate.RulePasswordUpper,
	}, sitegate.ViolatedRules(err))

	store.AssertNotCalled(t, "InsertOrGet", mock.Anything, mock.Anything)
}

func TestIdentitySessions(t *testing.T) {
	mgr := setupManager(t)
	clock := newManualClock()
	resolver := sitegate.NewIdentityResolver(mgr.Users(), newCodec(clock)).
		WithLogger(nopLogger{}).
		WithSessionTTL(time.Hour)
	ctx := context.Background()

	identity, err := resolver.Register(ctx, "reader@example.com", "Sup3rSecretPass")
	require.NoError(t, err)

	token, err := resolver.IssueSession(identity)
	require.NoError(t, err)

	cookie := resolver.SessionCookie(token)
	assert.Equal(t, sitegate.SessionCookie, cookie.Name)
	assert.Equal(t, time.Hour, cookie.MaxAge)

	resolved, ok, err := resolver.ResolveSession(ctx, token.Raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, identity, resolved)

	_, ok, err = resolver.ResolveSession(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)

	// admin tokens are not user sessions
	admin, err := newAdminService(t, clock).Login(ctx, testPIN)
	require.NoError(t, err)
	_, ok, err = resolver.ResolveSession(ctx, admin.Access.Raw)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = resolver.IssueSession(sitegate.UserIdentity{})
	assert.True(t, sitegate.IsValidation(err))

	clock.Advance(2 * time.Hour)
	_, ok, err = resolver.ResolveSession(ctx, token.Raw)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveSessionForDeletedUser(t *testing.T) {
	store := &MockUserStore{}
	resolver := sitegate.NewIdentityResolver(store, newCodec(nil)).WithLogger(nopLogger{})
	ctx := context.Background()

	token, err := resolver.IssueSession(sitegate.UserIdentity{ID: "gone"})
	require.NoError(t, err)

	store.On("FindByID", mock.Anything, "gone").Return(nil, sitegate.NotFound("", nil)).Once()
	_, ok, err := resolver.ResolveSession(ctx, token.Raw)
	require.NoError(t, err)
	assert.False(t, ok)

	store.On("FindByID", mock.Anything, "gone").Return(nil, sitegate.Transient(errors.New("timeout"), "lookup failed")).Once()
	_, ok, err = resolver.ResolveSession(ctx, token.Raw)
	assert.False(t, ok)
	assert.True(t, sitegate.IsTransient(err))

	store.AssertExpectations(t)
}
