package sitegate

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

const (
	// ProviderCredentials marks users that sign in with email and password.
	ProviderCredentials = "credentials"

	// SessionCookie holds the user realm session token
	SessionCookie = "session"

	DefaultSessionTTL = 30 * 24 * time.Hour
)

// UserIdentity is the session facing view of a user. Only ID is referenced
// by interactions and bookmarks.
type UserIdentity struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Name               string `json:"name,omitempty"`
	AvatarURL          string `json:"avatar_url,omitempty"`
	Provider           string `json:"provider"`
	ProviderExternalID string `json:"provider_external_id,omitempty"`
}

// UserRecord is the persisted user row.
type UserRecord struct {
	ID                 string
	Email              string
	Name               string
	AvatarURL          string
	Provider           string
	ProviderExternalID string
	PasswordHash       string
	CreatedAt          time.Time
}

// Identity strips storage only fields
func (r *UserRecord) Identity() UserIdentity {
	if r == nil {
		return UserIdentity{}
	}
	return UserIdentity{
		ID:                 r.ID,
		Email:              r.Email,
		Name:               r.Name,
		AvatarURL:          r.AvatarURL,
		Provider:           r.Provider,
		ProviderExternalID: r.ProviderExternalID,
	}
}

// ExternalProfile is what a federated provider tells us about a user after
// it verified them.
type ExternalProfile struct {
	Email     string
	Name      string
	AvatarURL string
}

// UserID derives the stable id of a (provider, externalID) pair. Two
// concurrent first sign ins compute the same id, so the store uniqueness
// constraint turns the race into a lookup.
func UserID(provider, externalID string) (string, error) {
	id, err := hashid.NewUUID(provider + ":" + externalID)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive user id")
	}
	return id.String(), nil
}

// IdentityResolver maps federated identities and local credentials onto
// canonical user records and issues user realm session tokens.
type IdentityResolver struct {
	users      UserStore
	codec      *TokenCodec
	passwords  PasswordAuthenticator
	policy     PasswordPolicy
	sessionTTL time.Duration
	activity   ActivitySink
	logger     Logger
	now        func() time.Time
}

// NewIdentityResolver creates a resolver backed by users
func NewIdentityResolver(users UserStore, codec *TokenCodec) *IdentityResolver {
	return &IdentityResolver{
		users:      users,
		codec:      codec,
		passwords:  BcryptAuthenticator(),
		policy:     DefaultPasswordPolicy(),
		sessionTTL: DefaultSessionTTL,
		activity:   noopActivitySink{},
		logger:     defLogger{},
		now:        time.Now,
	}
}

func (r *IdentityResolver) WithLogger(logger Logger) *IdentityResolver {
	r.logger = NormalizeLogger(logger)
	return r
}

func (r *IdentityResolver) WithActivitySink(sink ActivitySink) *IdentityResolver {
	r.activity = normalizeActivitySink(sink)
	return r
}

func (r *IdentityResolver) WithPasswordPolicy(policy PasswordPolicy) *IdentityResolver {
	r.policy = policy
	return r
}

func (r *IdentityResolver) WithPasswordAuthenticator(p PasswordAuthenticator) *IdentityResolver {
	if p != nil {
		r.passwords = p
	}
	return r
}

// WithSessionTTL sets the lifetime of user realm session tokens
func (r *IdentityResolver) WithSessionTTL(ttl time.Duration) *IdentityResolver {
	if ttl > 0 {
		r.sessionTTL = ttl
	}
	return r
}

func (r *IdentityResolver) WithClock(now func() time.Time) *IdentityResolver {
	if now != nil {
		r.now = now
	}
	return r
}

// ResolveFederated returns the identity for (provider, externalID),
// creating it on first sight. Profile changes on later calls are ignored.
func (r *IdentityResolver) ResolveFederated(ctx context.Context, provider, externalID string, profile ExternalProfile) (UserIdentity, error) {
	provider = strings.TrimSpace(provider)
	externalID = strings.TrimSpace(externalID)

	violations := map[string]string{}
	if provider == "" {
		violations["provider.required"] = "provider is required"
	}
	if externalID == "" {
		violations["external_id.required"] = "external id is required"
	}
	if provider == ProviderCredentials {
		violations["provider.reserved"] = "provider name is reserved"
	}
	if len(violations) > 0 {
		return UserIdentity{}, NewValidationError(violations)
	}

	existing, err := r.users.FindByProviderID(ctx, provider, externalID)
	if err == nil {
		return existing.Identity(), nil
	}
	if !IsNotFound(err) {
		return UserIdentity{}, err
	}

	id, err := UserID(provider, externalID)
	if err != nil {
		return UserIdentity{}, err
	}

	record, created, err := r.users.InsertOrGet(ctx, &UserRecord{
		ID:                 id,
		Email:              normalizeEmail(profile.Email),
		Name:               profile.Name,
		AvatarURL:          profile.AvatarURL,
		Provider:           provider,
		ProviderExternalID: externalID,
		CreatedAt:          r.now(),
	})
	if err != nil {
		return UserIdentity{}, err
	}

	identity := record.Identity()
	if created {
		r.emit(ctx, ActivityEventUserCreated, identity, map[string]any{"provider": provider})
	} else {
		r.emit(ctx, ActivityEventUserResolved, identity, map[string]any{"provider": provider})
	}

	return identity, nil
}

// ResolveCredential authenticates an email/password pair. Unknown emails
// and wrong passwords both return ErrInvalidCredentials.
func (r *IdentityResolver) ResolveCredential(ctx context.Context, email, password string) (UserIdentity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return UserIdentity{}, withSource(ErrInvalidCredentials, nil)
	}

	record, err := r.users.FindByProviderID(ctx, ProviderCredentials, email)
	if err != nil {
		if IsNotFound(err) {
			r.emit(ctx, ActivityEventUserSignInFailure, UserIdentity{Email: email}, nil)
			return UserIdentity{}, withSource(ErrInvalidCredentials, nil)
		}
		return UserIdentity{}, err
	}

	if err := r.passwords.ComparePasswordAndHash(password, record.PasswordHash); err != nil {
		r.emit(ctx, ActivityEventUserSignInFailure, record.Identity(), nil)
		return UserIdentity{}, withSource(ErrInvalidCredentials, err)
	}

	identity := record.Identity()
	r.emit(ctx, ActivityEventUserResolved, identity, map[string]any{"provider": ProviderCredentials})
	return identity, nil
}

// Register validates the input against the password policy and creates a
// credential user. An email that is already registered returns a conflict.
func (r *IdentityResolver) Register(ctx context.Context, email, password string) (UserIdentity, error) {
	if err := r.policy.ValidateRegistration(email, password); err != nil {
		return UserIdentity{}, err
	}

	email = normalizeEmail(email)

	hash, err := r.passwords.HashPassword(password)
	if err != nil {
		return UserIdentity{}, err
	}

	id, err := UserID(ProviderCredentials, email)
	if err != nil {
		return UserIdentity{}, err
	}

	record, created, err := r.users.InsertOrGet(ctx, &UserRecord{
		ID:                 id,
		Email:              email,
		Provider:           ProviderCredentials,
		ProviderExternalID: email,
		PasswordHash:       hash,
		CreatedAt:          r.now(),
	})
	if err != nil {
		return UserIdentity{}, err
	}

	if !created {
		return UserIdentity{}, withSource(ErrAlreadyExists, nil)
	}

	identity := record.Identity()
	r.emit(ctx, ActivityEventUserCreated, identity, map[string]any{"provider": ProviderCredentials})
	return identity, nil
}

// IssueSession signs a user realm session token for identity.
func (r *IdentityResolver) IssueSession(identity UserIdentity) (Token, error) {
	if identity.ID == "" {
		return Token{}, NewValidationError(map[string]string{"id.required": "identity id is required"})
	}
	return r.codec.Sign(map[string]any{
		ClaimRole:    RoleMember,
		ClaimKind:    TokenKindSession,
		ClaimSubject: identity.ID,
	}, r.sessionTTL)
}

// SessionCookie returns the directive that stores a session token
func (r *IdentityResolver) SessionCookie(token Token) CookieDirective {
	return CookieDirective{Name: SessionCookie, Value: token.Raw, MaxAge: r.sessionTTL}
}

// ResolveSession verifies a session token and loads the current identity.
// A missing or invalid token is not an error: ok is false and the caller
// continues as a guest.
func (r *IdentityResolver) ResolveSession(ctx context.Context, raw string) (UserIdentity, bool, error) {
	v := r.codec.Verify(raw)
	if !v.Valid {
		return UserIdentity{}, false, nil
	}

	if v.Claims.Kind() != TokenKindSession || v.Claims.Role() != RoleMember {
		return UserIdentity{}, false, nil
	}

	id, _ := v.Claims.Payload[ClaimSubject].(string)
	if id == "" {
		return UserIdentity{}, false, nil
	}

	record, err := r.users.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return UserIdentity{}, false, nil
		}
		return UserIdentity{}, false, err
	}

	return record.Identity(), true, nil
}

func (r *IdentityResolver) emit(ctx context.Context, eventType ActivityEventType, identity UserIdentity, metadata map[string]any) {
	emitActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: eventType,
		Actor:     ActorRef{ID: identity.ID, Type: "user"},
		UserID:    identity.ID,
		Metadata:  metadata,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
