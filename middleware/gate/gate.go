// Package gate is the request gate placed in front of every route. Content
// routes get a telemetry tap and user realm resolution, admin routes run
// the admin token state machine with transparent refresh.
package gate

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/provider/federated"
)

const (
	DefaultAdminPrefix      = "/admin"
	DefaultLoginRoute       = "/admin/login"
	DefaultGuestKeyHeader   = "X-Guest-Key"
	DefaultGuestKeyCookie   = "guestKey"
	DefaultFederatedCookie  = "federatedSession"
	DefaultContextKey       = "caller"
	DefaultTelemetryTimeout = 250 * time.Millisecond
	MaxGuestKeyLength       = 128
)

// DefaultContentPrefixes are the routes that serve user content
var DefaultContentPrefixes = []string{"/api", "/posts", "/notes"}

// FederatedVerifier checks a federated session token
type FederatedVerifier interface {
	Verify(raw string) (federated.Identity, error)
}

// VisitRecorder stores telemetry for content requests
type VisitRecorder interface {
	RecordVisit(ctx context.Context, ip, path, userAgent string) error
}

type Config struct {
	// Filter skips the gate entirely when it returns true
	Filter          func(*fiber.Ctx) bool
	ContentPrefixes []string
	AdminPrefix     string
	// LoginRoute is reachable without an admin session and is where
	// rejected admin requests are redirected.
	LoginRoute      string
	GuestKeyHeader  string
	GuestKeyCookie  string
	FederatedCookie string
	ContextKey      string
	// TelemetryTimeout bounds each background visit write
	TelemetryTimeout time.Duration
	// TelemetryBuffer is the visit queue size used when Visits is not
	// already a *VisitQueue
	TelemetryBuffer int

	Admin      *sitegate.AdminTokenService
	Identities *sitegate.IdentityResolver
	Federated  FederatedVerifier
	Visits     VisitRecorder
	Cookies    sitegate.CookieOptions
	Logger     sitegate.Logger
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	ContentPrefixes:  DefaultContentPrefixes,
	AdminPrefix:      DefaultAdminPrefix,
	LoginRoute:       DefaultLoginRoute,
	GuestKeyHeader:   DefaultGuestKeyHeader,
	GuestKeyCookie:   DefaultGuestKeyCookie,
	FederatedCookie:  DefaultFederatedCookie,
	ContextKey:       DefaultContextKey,
	TelemetryTimeout: DefaultTelemetryTimeout,
	TelemetryBuffer:  DefaultTelemetryBuffer,
	Cookies:          sitegate.DefaultCookieOptions(false),
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		cfg := ConfigDefault
		cfg.Logger = sitegate.DefaultLogger()
		return cfg
	}

	cfg := config[0]
	if len(cfg.ContentPrefixes) == 0 {
		cfg.ContentPrefixes = ConfigDefault.ContentPrefixes
	}
	if cfg.AdminPrefix == "" {
		cfg.AdminPrefix = ConfigDefault.AdminPrefix
	}
	if cfg.LoginRoute == "" {
		cfg.LoginRoute = ConfigDefault.LoginRoute
	}
	if cfg.GuestKeyHeader == "" {
		cfg.GuestKeyHeader = ConfigDefault.GuestKeyHeader
	}
	if cfg.GuestKeyCookie == "" {
		cfg.GuestKeyCookie = ConfigDefault.GuestKeyCookie
	}
	if cfg.FederatedCookie == "" {
		cfg.FederatedCookie = ConfigDefault.FederatedCookie
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = ConfigDefault.ContextKey
	}
	if cfg.TelemetryTimeout <= 0 {
		cfg.TelemetryTimeout = ConfigDefault.TelemetryTimeout
	}
	if cfg.TelemetryBuffer <= 0 {
		cfg.TelemetryBuffer = ConfigDefault.TelemetryBuffer
	}
	if cfg.Cookies.Path == "" {
		cfg.Cookies = ConfigDefault.Cookies
	}
	cfg.Logger = sitegate.NormalizeLogger(cfg.Logger)
	return cfg
}

// New creates the gate handler. Admin routes require an Admin service.
// A Visits recorder that is not a *VisitQueue is wrapped in one whose
// writer runs for the life of the process; pass a *VisitQueue to control
// that lifetime.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	if cfg.Admin == nil {
		panic("gate: admin token service is required")
	}

	if cfg.Visits != nil {
		if _, queued := cfg.Visits.(*VisitQueue); !queued {
			q := NewVisitQueue(cfg.Visits, VisitQueueConfig{
				Buffer:  cfg.TelemetryBuffer,
				Timeout: cfg.TelemetryTimeout,
				Logger:  cfg.Logger,
			})
			go func() { _ = q.Run(context.Background()) }()
			cfg.Visits = q
		}
	}

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		path := c.Path()
		switch {
		case cfg.isLoginRoute(path):
			return c.Next()
		case hasPrefix(path, cfg.AdminPrefix):
			return cfg.admin(c)
		case cfg.isContentRoute(path):
			return cfg.content(c)
		}
		return c.Next()
	}
}

// CallerFrom returns the caller the gate attached to the request, or a
// guest without a key when the gate did not run.
func CallerFrom(c *fiber.Ctx) sitegate.Caller {
	if caller, ok := sitegate.CallerFromContext(c.UserContext()); ok {
		return caller
	}
	return sitegate.GuestCaller{}
}

func (cfg Config) admin(c *fiber.Ctx) error {
	access := c.Cookies(sitegate.AccessTokenCookie)
	refresh := c.Cookies(sitegate.RefreshTokenCookie)

	decision := cfg.Admin.EvaluateAdminSession(c.UserContext(), access, refresh)
	if !decision.Proceed() {
		if access != "" || refresh != "" {
			sitegate.ApplyCookies(c, cfg.Cookies, sitegate.ClearAdminCookies()...)
		}
		cfg.Logger.Debug("admin request rejected", "path", c.Path(), "reason", decision.Reason)
		return cfg.rejectAdmin(c)
	}

	if decision.Refreshed != nil {
		sitegate.ApplyCookies(c, cfg.Cookies, cfg.Admin.Cookies(*decision.Refreshed)...)
	}

	cfg.setCaller(c, sitegate.AdminCaller{Claims: decision.Claims})
	return c.Next()
}

func (cfg Config) rejectAdmin(c *fiber.Ctx) error {
	if wantsJSON(c) {
		return sitegate.SendError(c, sitegate.Unauthorized(nil))
	}
	return c.Redirect(cfg.LoginRoute, fiber.StatusSeeOther)
}

func (cfg Config) content(c *fiber.Ctx) error {
	cfg.tap(c)
	cfg.setCaller(c, cfg.resolveCaller(c))
	return c.Next()
}

// tap queues the visit. The write happens off the request path and
// failures are only logged.
func (cfg Config) tap(c *fiber.Ctx) {
	if cfg.Visits == nil {
		return
	}

	// the queue outlives the request, fasthttp reuses these buffers
	path := strings.Clone(c.Path())
	ip := strings.Clone(c.IP())
	ua := strings.Clone(c.Get(fiber.HeaderUserAgent))

	if err := cfg.Visits.RecordVisit(c.UserContext(), ip, path, ua); err != nil {
		cfg.Logger.Warn("telemetry visit dropped", "path", path, "error", err)
	}
}

// resolveCaller tries the user realm first: the credential session cookie,
// then the federated session. Anything else is a guest.
func (cfg Config) resolveCaller(c *fiber.Ctx) sitegate.Caller {
	ctx := c.UserContext()

	if cfg.Identities != nil {
		if raw := c.Cookies(sitegate.SessionCookie); raw != "" {
			identity, ok, err := cfg.Identities.ResolveSession(ctx, raw)
			if err != nil {
				cfg.Logger.Warn("session lookup failed", "error", err)
			}
			if ok {
				return sitegate.UserCaller{Identity: identity}
			}
		}

		if cfg.Federated != nil {
			if raw := c.Cookies(cfg.FederatedCookie); raw != "" {
				if identity, ok := cfg.resolveFederated(ctx, raw); ok {
					return sitegate.UserCaller{Identity: identity}
				}
			}
		}
	}

	return sitegate.GuestCaller{Key: cfg.guestKey(c)}
}

func (cfg Config) resolveFederated(ctx context.Context, raw string) (sitegate.UserIdentity, bool) {
	external, err := cfg.Federated.Verify(raw)
	if err != nil {
		cfg.Logger.Debug("federated session rejected", "error", err)
		return sitegate.UserIdentity{}, false
	}

	identity, err := cfg.Identities.ResolveFederated(ctx, external.Provider, external.ExternalID, external.Profile)
	if err != nil {
		cfg.Logger.Warn("federated identity resolution failed", "provider", external.Provider, "error", err)
		return sitegate.UserIdentity{}, false
	}

	return identity, true
}

func (cfg Config) guestKey(c *fiber.Ctx) string {
	key := strings.TrimSpace(c.Get(cfg.GuestKeyHeader))
	if key == "" {
		key = strings.TrimSpace(c.Cookies(cfg.GuestKeyCookie))
	}
	if len(key) > MaxGuestKeyLength {
		return ""
	}
	// fasthttp reuses the request buffers
	return strings.Clone(key)
}

func (cfg Config) setCaller(c *fiber.Ctx, caller sitegate.Caller) {
	c.Locals(cfg.ContextKey, caller)
	c.SetUserContext(sitegate.WithCaller(c.UserContext(), caller))
}

func (cfg Config) isLoginRoute(path string) bool {
	return strings.TrimSuffix(path, "/") == strings.TrimSuffix(cfg.LoginRoute, "/")
}

func (cfg Config) isContentRoute(path string) bool {
	for _, prefix := range cfg.ContentPrefixes {
		if hasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// hasPrefix matches whole path segments, so /admin does not match /administrator
func hasPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func wantsJSON(c *fiber.Ctx) bool {
	if strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON) {
		return true
	}
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)
}
