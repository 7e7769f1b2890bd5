package sitegate

import (
	"context"
	"fmt"
	"time"
)

// Logger is the logging contract shared by every service in the module.
// Arguments after the message are key/value pairs.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the options consumed by the token and identity services.
// The config package provides an env/YAML backed implementation.
type Config interface {
	GetSigningKey() string
	GetAdminPINHash() string
	GetIssuer() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetRotateRefreshTokens() bool
	GetSecureCookies() bool
}

// TokenSigner signs and verifies compact tokens.
type TokenSigner interface {
	Sign(payload map[string]any, ttl time.Duration) (Token, error)
	Verify(raw string) Verification
}

// UserStore persists canonical user identities. Insert operations must be
// atomic against the (provider, provider_external_id) uniqueness constraint:
// when the pair already exists the stored row is returned and created is false.
type UserStore interface {
	InsertOrGet(ctx context.Context, record *UserRecord) (user *UserRecord, created bool, err error)
	FindByProviderID(ctx context.Context, provider, externalID string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
}

// RevocationStore tracks refresh token ids that must no longer be honored.
// Only consulted when refresh rotation is enabled.
type RevocationStore interface {
	// Revoke records tokenID. first is true only for the call that
	// inserted it, so concurrent rotations of one token have one winner.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (first bool, err error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SITEGATE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SITEGATE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SITEGATE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SITEGATE "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

// NormalizeLogger returns l, or the default logger when l is nil.
func NormalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
