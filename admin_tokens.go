package sitegate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ClaimRole    = "role"
	ClaimKind    = "kind"
	ClaimSubject = "sub"

	RoleAdmin  = "admin"
	RoleMember = "member"

	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
	TokenKindSession = "session"

	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is the result of a login or refresh. Refresh is the zero Token
// when a refresh call did not rotate the refresh token.
type TokenPair struct {
	Access  Token
	Refresh Token
}

// HasRefresh reports whether the pair carries a refresh token
func (p TokenPair) HasRefresh() bool {
	return p.Refresh.Raw != ""
}

// CookieDirective tells the transport layer which cookie to set or clear.
type CookieDirective struct {
	Name   string
	Value  string
	MaxAge time.Duration
	Clear  bool
}

// AdminTokenService issues and rotates admin realm tokens against a single
// shared PIN hash. It keeps no session state: tokens die at exp.
type AdminTokenService struct {
	codec       *TokenCodec
	pinHash     string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	passwords   PasswordAuthenticator
	revocations RevocationStore
	activity    ActivitySink
	logger      Logger
}

// NewAdminTokenService returns a service that issues tokens with codec and
// compares PINs against cfg.GetAdminPINHash().
func NewAdminTokenService(codec *TokenCodec, cfg Config) *AdminTokenService {
	accessTTL := cfg.GetAccessTokenTTL()
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}

	refreshTTL := cfg.GetRefreshTokenTTL()
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	return &AdminTokenService{
		codec:      codec,
		pinHash:    cfg.GetAdminPINHash(),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		passwords:  BcryptAuthenticator(),
		activity:   noopActivitySink{},
		logger:     defLogger{},
	}
}

func (s *AdminTokenService) WithLogger(logger Logger) *AdminTokenService {
	s.logger = NormalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for admin realm events.
func (s *AdminTokenService) WithActivitySink(sink ActivitySink) *AdminTokenService {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithPasswordAuthenticator overrides how the PIN is compared to its hash.
func (s *AdminTokenService) WithPasswordAuthenticator(p PasswordAuthenticator) *AdminTokenService {
	if p != nil {
		s.passwords = p
	}
	return s
}

// WithRefreshRotation makes Refresh issue a new refresh token on every use
// and revoke the one that was presented.
func (s *AdminTokenService) WithRefreshRotation(store RevocationStore) *AdminTokenService {
	s.revocations = store
	return s
}

// RotatesRefreshTokens reports whether refresh rotation is enabled
func (s *AdminTokenService) RotatesRefreshTokens() bool {
	return s.revocations != nil
}

// Login compares the PIN to the configured hash and issues an access and a
// refresh token. Any failure is reported as ErrUnauthorized.
func (s *AdminTokenService) Login(ctx context.Context, pin string) (TokenPair, error) {
	if s.pinHash == "" {
		s.logger.Error("admin login attempted without a configured PIN hash")
		s.emit(ctx, ActivityEventAdminLoginFailure, map[string]any{"reason": "not_configured"})
		return TokenPair{}, Unauthorized(nil)
	}

	if pin == "" {
		s.emit(ctx, ActivityEventAdminLoginFailure, nil)
		return TokenPair{}, Unauthorized(nil)
	}

	if err := s.passwords.ComparePasswordAndHash(pin, s.pinHash); err != nil {
		s.emit(ctx, ActivityEventAdminLoginFailure, nil)
		return TokenPair{}, Unauthorized(err)
	}

	access, err := s.issue(TokenKindAccess, s.accessTTL, "")
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.issue(TokenKindRefresh, s.refreshTTL, s.refreshTokenID())
	if err != nil {
		return TokenPair{}, err
	}

	s.emit(ctx, ActivityEventAdminLoginSuccess, nil)

	return TokenPair{Access: access, Refresh: refresh}, nil
}

// Refresh verifies a refresh token and mints a new access token with the
// same role claim. The refresh token is only replaced when rotation is on,
// and then only by the caller whose Revoke claimed the old token id.
func (s *AdminTokenService) Refresh(ctx context.Context, refreshRaw string) (TokenPair, error) {
	v := s.VerifyRefresh(ctx, refreshRaw)
	if !v.Valid {
		s.emit(ctx, ActivityEventAdminRefreshFailure, map[string]any{"reason": string(v.Reason)})
		return TokenPair{}, v.Err()
	}

	role := v.Claims.Role()

	var pair TokenPair

	if s.revocations != nil {
		first, err := s.revocations.Revoke(ctx, v.Claims.ID, v.Claims.Expires())
		if err != nil {
			return TokenPair{}, Transient(err, "failed to revoke rotated refresh token")
		}
		if !first {
			// a concurrent refresh already rotated this token
			s.emit(ctx, ActivityEventAdminRefreshFailure, map[string]any{"reason": string(ReasonRevoked)})
			return TokenPair{}, invalid(ReasonRevoked, nil).Err()
		}

		refresh, err := s.codec.SignWithID(map[string]any{
			ClaimRole: role,
			ClaimKind: TokenKindRefresh,
		}, s.refreshTTL, uuid.NewString())
		if err != nil {
			return TokenPair{}, err
		}
		pair.Refresh = refresh
	}

	access, err := s.codec.Sign(map[string]any{
		ClaimRole: role,
		ClaimKind: TokenKindAccess,
	}, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	pair.Access = access

	s.emit(ctx, ActivityEventAdminRefresh, map[string]any{"rotated": pair.HasRefresh()})

	return pair, nil
}

// VerifyAccess accepts only admin access tokens.
func (s *AdminTokenService) VerifyAccess(raw string) Verification {
	return s.verifyKind(raw, TokenKindAccess)
}

// VerifyRefresh accepts only admin refresh tokens that have not been revoked.
func (s *AdminTokenService) VerifyRefresh(ctx context.Context, raw string) Verification {
	v := s.verifyKind(raw, TokenKindRefresh)
	if !v.Valid || s.revocations == nil {
		return v
	}

	if v.Claims.ID == "" {
		return invalid(ReasonRevoked, nil)
	}

	revoked, err := s.revocations.IsRevoked(ctx, v.Claims.ID)
	if err != nil {
		s.logger.Error("refresh revocation lookup failed", "error", err)
		return invalid(ReasonRevoked, err)
	}

	if revoked {
		return invalid(ReasonRevoked, nil)
	}

	return v
}

// Logout returns directives that clear both cookies. It is idempotent and
// does not revoke anything server side.
func (s *AdminTokenService) Logout(ctx context.Context) []CookieDirective {
	s.emit(ctx, ActivityEventAdminLogout, nil)
	return ClearAdminCookies()
}

// ClearAdminCookies returns directives that expire both admin cookies
func ClearAdminCookies() []CookieDirective {
	return []CookieDirective{
		{Name: AccessTokenCookie, Clear: true},
		{Name: RefreshTokenCookie, Clear: true},
	}
}

// Cookies maps a token pair onto the cookies the client must store.
func (s *AdminTokenService) Cookies(pair TokenPair) []CookieDirective {
	out := make([]CookieDirective, 0, 2)
	if pair.Access.Raw != "" {
		out = append(out, CookieDirective{
			Name:   AccessTokenCookie,
			Value:  pair.Access.Raw,
			MaxAge: s.accessTTL,
		})
	}
	if pair.Refresh.Raw != "" {
		out = append(out, CookieDirective{
			Name:   RefreshTokenCookie,
			Value:  pair.Refresh.Raw,
			MaxAge: s.refreshTTL,
		})
	}
	return out
}

func (s *AdminTokenService) verifyKind(raw, kind string) Verification {
	v := s.codec.Verify(raw)
	if !v.Valid {
		return v
	}

	if v.Claims.Kind() != kind || v.Claims.Role() != RoleAdmin {
		return invalid(ReasonWrongKind, nil)
	}

	return v
}

func (s *AdminTokenService) issue(kind string, ttl time.Duration, tokenID string) (Token, error) {
	return s.codec.SignWithID(map[string]any{
		ClaimRole: RoleAdmin,
		ClaimKind: kind,
	}, ttl, tokenID)
}

func (s *AdminTokenService) refreshTokenID() string {
	if s.revocations == nil {
		return ""
	}
	return uuid.NewString()
}

func (s *AdminTokenService) emit(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: eventType,
		Actor:     ActorRef{Type: "admin"},
		Metadata:  metadata,
	})
}
