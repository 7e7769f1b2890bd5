package sitegate_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	sitegate "github.com/goliatone/go-sitegate"
	"github.com/stretchr/testify/assert"
)

func adminClaims(role string) *sitegate.TokenClaims {
	return &sitegate.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer},
		Payload: map[string]any{
			sitegate.ClaimRole: role,
			sitegate.ClaimKind: sitegate.TokenKindAccess,
		},
	}
}

func TestCallerFromContext(t *testing.T) {
	tests := []struct {
		name      string
		setupCtx  func() context.Context
		wantOK    bool
		wantActor sitegate.Actor
		hasActor  bool
		wantAdmin bool
	}{
		{
			name: "should return guest caller with its key as actor",
			setupCtx: func() context.Context {
				return sitegate.WithCaller(context.Background(), sitegate.GuestCaller{Key: " g-1 "})
			},
			wantOK:    true,
			wantActor: sitegate.Actor{Key: "g-1", Kind: sitegate.ActorGuest},
			hasActor:  true,
		},
		{
			name: "should return user caller with its id as actor",
			setupCtx: func() context.Context {
				return sitegate.WithCaller(context.Background(), sitegate.UserCaller{
					Identity: sitegate.UserIdentity{ID: "u-1", Email: "a@example.com"},
				})
			},
			wantOK:    true,
			wantActor: sitegate.Actor{Key: "u-1", Kind: sitegate.ActorUser},
			hasActor:  true,
		},
		{
			name: "should report admin without a ledger actor",
			setupCtx: func() context.Context {
				return sitegate.WithCaller(context.Background(), sitegate.AdminCaller{Claims: adminClaims(sitegate.RoleAdmin)})
			},
			wantOK:    true,
			wantAdmin: true,
		},
		{
			name: "should not treat member claims as admin",
			setupCtx: func() context.Context {
				return sitegate.WithCaller(context.Background(), sitegate.AdminCaller{Claims: adminClaims(sitegate.RoleMember)})
			},
			wantOK: true,
		},
		{
			name: "should not derive an actor from an empty guest key",
			setupCtx: func() context.Context {
				return sitegate.WithCaller(context.Background(), sitegate.GuestCaller{})
			},
			wantOK: true,
		},
		{
			name: "should return false when no caller in context",
			setupCtx: func() context.Context {
				return context.Background()
			},
		},
		{
			name: "should return false for a nil caller",
			setupCtx: func() context.Context {
				return sitegate.WithCaller(context.Background(), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.setupCtx()

			_, ok := sitegate.CallerFromContext(ctx)
			assert.Equal(t, tt.wantOK, ok)

			actor, ok := sitegate.ActorFromContext(ctx)
			assert.Equal(t, tt.hasActor, ok)
			assert.Equal(t, tt.wantActor, actor)

			assert.Equal(t, tt.wantAdmin, sitegate.IsAdmin(ctx))
		})
	}
}

func TestActorValidate(t *testing.T) {
	assert.NoError(t, sitegate.GuestActor("abc").Validate())
	assert.NoError(t, sitegate.UserActor("u-1").Validate())

	err := sitegate.Actor{}.Validate()
	assert.True(t, sitegate.IsValidation(err))
	assert.Equal(t, []string{"actor.key", "actor.kind"}, sitegate.ViolatedRules(err))

	err = sitegate.GuestActor("   ").Validate()
	assert.Equal(t, []string{"actor.key"}, sitegate.ViolatedRules(err))

	assert.Equal(t, "GUEST:abc", sitegate.GuestActor("abc").String())
}

func TestCallerKinds(t *testing.T) {
	assert.Equal(t, sitegate.CallerGuest, sitegate.GuestCaller{}.Kind())
	assert.Equal(t, sitegate.CallerUser, sitegate.UserCaller{}.Kind())
	assert.Equal(t, sitegate.CallerAdmin, sitegate.AdminCaller{}.Kind())
}
