package sitegate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// Token is a signed, immutable token. Rotation always produces a new Token.
type Token struct {
	Raw       string
	Payload   map[string]any
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MaxAge is the remaining lifetime of the token relative to now.
func (t Token) MaxAge(now time.Time) time.Duration {
	if t.ExpiresAt.IsZero() || !t.ExpiresAt.After(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// TokenClaims are the claims carried by every token the codec signs.
type TokenClaims struct {
	jwt.RegisteredClaims
	Payload map[string]any `json:"pld,omitempty"`
}

// Role returns the role claim from the payload
func (c *TokenClaims) Role() string {
	return c.stringClaim(ClaimRole)
}

// Kind returns the token kind (access or refresh)
func (c *TokenClaims) Kind() string {
	return c.stringClaim(ClaimKind)
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// Issued returns the issued at time
func (c *TokenClaims) Issued() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

func (c *TokenClaims) stringClaim(key string) string {
	if c == nil || c.Payload == nil {
		return ""
	}
	s, _ := c.Payload[key].(string)
	return s
}

// InvalidReason explains why a token failed verification.
type InvalidReason string

const (
	ReasonNone      InvalidReason = ""
	ReasonMissing   InvalidReason = "missing"
	ReasonMalformed InvalidReason = "malformed"
	ReasonSignature InvalidReason = "signature"
	ReasonExpired   InvalidReason = "expired"
	ReasonRevoked   InvalidReason = "revoked"
	ReasonWrongKind InvalidReason = "wrong_kind"
)

// Verification is the result of verifying a token. Callers branch on Valid
// instead of inspecting errors.
type Verification struct {
	Valid  bool
	Reason InvalidReason
	Claims *TokenClaims
	Cause  error
}

// Payload returns the verified payload, or nil when invalid.
func (v Verification) Payload() map[string]any {
	if !v.Valid || v.Claims == nil {
		return nil
	}
	return v.Claims.Payload
}

// Err converts an invalid verification into the matching rich error.
func (v Verification) Err() error {
	if v.Valid {
		return nil
	}
	switch v.Reason {
	case ReasonExpired:
		return withSource(ErrTokenExpired, v.Cause)
	case ReasonMissing, ReasonRevoked, ReasonWrongKind:
		return withSource(ErrUnauthorized, v.Cause)
	default:
		return withSource(ErrTokenMalformed, v.Cause)
	}
}

func invalid(reason InvalidReason, cause error) Verification {
	return Verification{Reason: reason, Cause: cause}
}

// TokenCodec signs and verifies HMAC-SHA256 tokens with iat/exp claims.
// It holds no mutable state after construction and is safe for concurrent use.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
	logger     Logger
}

var _ TokenSigner = (*TokenCodec)(nil)

// NewTokenCodec creates a codec for the given shared secret
func NewTokenCodec(signingKey []byte, issuer string, logger Logger) *TokenCodec {
	return &TokenCodec{
		signingKey: signingKey,
		issuer:     issuer,
		now:        time.Now,
		logger:     NormalizeLogger(logger),
	}
}

// WithClock overrides the time source, used for expiry checks as well as iat/exp.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// Sign creates a token with exp = now + ttl. The signature is deterministic
// for a given payload and second.
//
// The payload travels as JSON, so Verify returns it in encoding/json form:
// numbers decode as float64, arrays as []any and objects as map[string]any.
// Integers above 2^53 lose precision and should be signed as strings.
func (c *TokenCodec) Sign(payload map[string]any, ttl time.Duration) (Token, error) {
	return c.sign(payload, ttl, "")
}

// SignWithID signs a token carrying a jti claim, used by refresh rotation.
func (c *TokenCodec) SignWithID(payload map[string]any, ttl time.Duration, tokenID string) (Token, error) {
	return c.sign(payload, ttl, tokenID)
}

func (c *TokenCodec) sign(payload map[string]any, ttl time.Duration, tokenID string) (Token, error) {
	if len(c.signingKey) == 0 {
		return Token{}, goerrors.New("signing key is required", goerrors.CategoryInternal)
	}

	if ttl < 0 {
		return Token{}, goerrors.New("token TTL must be non-negative", goerrors.CategoryBadInput)
	}

	if _, err := json.Marshal(payload); err != nil {
		clone := ErrTokenEncoding.Clone()
		clone.Source = err
		return Token{}, clone.WithMetadata(map[string]any{"cause": err.Error()})
	}

	now := c.now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Payload: copyPayload(payload),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return Token{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return Token{
		Raw:       signed,
		Payload:   copyPayload(payload),
		ID:        tokenID,
		IssuedAt:  claims.Issued(),
		ExpiresAt: claims.Expires(),
	}, nil
}

// Verify recomputes the signature and checks expiry. The HMAC comparison is
// constant time (hmac.Equal inside jwt).
func (c *TokenCodec) Verify(raw string) Verification {
	if raw == "" {
		return invalid(ReasonMissing, nil)
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case goerrors.Is(err, jwt.ErrTokenExpired):
			return invalid(ReasonExpired, err)
		case goerrors.Is(err, jwt.ErrTokenSignatureInvalid):
			c.logger.Warn("token signature mismatch")
			return invalid(ReasonSignature, err)
		default:
			return invalid(ReasonMalformed, err)
		}
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return invalid(ReasonMalformed, ErrUnableToMapClaims)
	}

	if claims.Payload == nil {
		claims.Payload = map[string]any{}
	}

	return Verification{Valid: true, Claims: claims}
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
