// Package federated verifies session tokens minted by an external identity
// provider and maps them onto the profile the identity resolver consumes.
// Keys come from a JWKS endpoint or a shared HMAC secret.
package federated

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	sitegate "github.com/goliatone/go-sitegate"
)

const (
	DefaultProvider = "federated"
	DefaultKeyID    = "default"
)

// Config holds the verifier settings.
type Config struct {
	// JWKSURL enables asymmetric verification with a remote key set.
	JWKSURL string
	// SharedSecret enables HS256 verification. Tokens must carry KeyID as kid.
	SharedSecret string
	KeyID        string
	Issuer       string
	Audience     string
	// Provider is used when the token has no provider claim.
	Provider string
	Logger   sitegate.Logger
}

// Identity is a verified external identity.
type Identity struct {
	Provider   string
	ExternalID string
	Profile    sitegate.ExternalProfile
}

// Claims is the claim set read from federated tokens.
type Claims struct {
	jwt.RegisteredClaims
	Provider string `json:"provider,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
}

// Verifier validates federated session tokens.
type Verifier struct {
	jwks     *keyfunc.JWKS
	remote   bool
	issuer   string
	audience string
	provider string
	now      func() time.Time
	logger   sitegate.Logger
}

// New builds a verifier. Exactly one of JWKSURL or SharedSecret is expected;
// JWKSURL wins when both are set.
func New(cfg Config) (*Verifier, error) {
	logger := sitegate.NormalizeLogger(cfg.Logger)

	v := &Verifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		provider: cfg.Provider,
		now:      time.Now,
		logger:   logger,
	}
	if v.provider == "" {
		v.provider = DefaultProvider
	}

	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				logger.Error("failed to do a background refresh of JWT set", "error", err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load federated JWKS")
		}
		v.jwks = jwks
		v.remote = true
	case cfg.SharedSecret != "":
		kid := cfg.KeyID
		if kid == "" {
			kid = DefaultKeyID
		}
		v.jwks = keyfunc.NewGiven(map[string]keyfunc.GivenKey{
			kid: keyfunc.NewGivenCustom([]byte(cfg.SharedSecret), keyfunc.GivenKeyOptions{
				Algorithm: jwt.SigningMethodHS256.Alg(),
			}),
		})
	default:
		return nil, goerrors.New("federated verifier needs a JWKS URL or a shared secret", goerrors.CategoryBadInput)
	}

	return v, nil
}

// WithClock overrides the time source used for exp checks
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify checks the token and returns the identity it asserts. Every
// failure is an Unauthorized error.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return Identity{}, sitegate.Unauthorized(sitegate.ErrUnableToFindSession)
	}

	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.jwks.Keyfunc, opts...)
	if err != nil {
		return Identity{}, sitegate.Unauthorized(err)
	}
	if !token.Valid {
		return Identity{}, sitegate.Unauthorized(sitegate.ErrUnableToMapClaims)
	}

	if claims.Subject == "" {
		return Identity{}, sitegate.Unauthorized(fmt.Errorf("federated token has no subject"))
	}

	provider := claims.Provider
	if provider == "" {
		provider = v.provider
	}

	return Identity{
		Provider:   provider,
		ExternalID: claims.Subject,
		Profile: sitegate.ExternalProfile{
			Email:     claims.Email,
			Name:      claims.Name,
			AvatarURL: claims.Picture,
		},
	}, nil
}

// Close stops the background JWKS refresh, if any.
func (v *Verifier) Close() {
	if v.remote && v.jwks != nil {
		v.jwks.EndBackground()
	}
}
