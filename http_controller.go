package sitegate

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(key string) bool
}

type AuthControllerRoutes struct {
	Login    string
	Refresh  string
	Logout   string
	Register string
	SignIn   string
	SignOut  string
}

// AuthController exposes both realms over HTTP. Admin tokens travel in the
// accessToken/refreshToken cookies, user sessions in the session cookie.
type AuthController struct {
	Debug      bool
	Logger     Logger
	Routes     *AuthControllerRoutes
	Admin      *AdminTokenService
	Identities *IdentityResolver
	Limiter    Limiter
	Cookies    CookieOptions
}

type AuthControllerOption func(*AuthController) *AuthController

func WithAdminTokenService(s *AdminTokenService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Admin = s
		return c
	}
}

func WithIdentityResolver(r *IdentityResolver) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Identities = r
		return c
	}
}

// WithLoginLimiter throttles admin login attempts per client IP.
func WithLoginLimiter(l Limiter) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Limiter = l
		return c
	}
}

func WithControllerLogger(l Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = NormalizeLogger(l)
		return c
	}
}

func WithCookieOptions(opts CookieOptions) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Cookies = opts
		return c
	}
}

func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:  defLogger{},
		Cookies: DefaultCookieOptions(false),
		Routes: &AuthControllerRoutes{
			Login:    "/auth/login",
			Refresh:  "/auth/refresh",
			Logout:   "/auth/logout",
			Register: "/auth/register",
			SignIn:   "/auth/signin",
			SignOut:  "/auth/signout",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Admin == nil {
		panic("Missing AdminTokenService in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the auth endpoints on app.
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Login, controller.LoginPost).Name("admin-login.post")
	app.Post(controller.Routes.Refresh, controller.RefreshPost).Name("admin-refresh.post")
	app.Get(controller.Routes.Logout, controller.LogOut).Name("admin-logout.get")

	if controller.Identities != nil {
		app.Post(controller.Routes.Register, controller.RegistrationCreate).Name("register.post")
		app.Post(controller.Routes.SignIn, controller.SignInPost).Name("sign-in.post")
		app.Get(controller.Routes.SignOut, controller.SignOut).Name("sign-out.get")
	}

	return controller
}

// AdminLoginRequest payload
type AdminLoginRequest struct {
	PIN string `form:"pin" json:"pin"`
}

// RefreshRequest payload. The refresh cookie is used when the body is empty.
type RefreshRequest struct {
	RefreshToken string `form:"refreshToken" json:"refreshToken"`
}

// CredentialsRequest payload for register and sign in
type CredentialsRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (a *AuthController) LoginPost(ctx *fiber.Ctx) error {
	if a.Limiter != nil && !a.Limiter.Allow(ctx.IP()) {
		a.Logger.Warn("admin login rate limited", "ip", ctx.IP())
		return a.sendError(ctx, withSource(ErrRateLimited, nil))
	}

	payload := new(AdminLoginRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return a.sendError(ctx, Unauthorized(err))
	}

	pair, err := a.Admin.Login(ctx.UserContext(), payload.PIN)
	if err != nil {
		return a.sendError(ctx, err)
	}

	ApplyCookies(ctx, a.Cookies, a.Admin.Cookies(pair)...)

	return ctx.JSON(fiber.Map{
		"authenticated": true,
		"expires_at":    pair.Access.ExpiresAt,
	})
}

func (a *AuthController) RefreshPost(ctx *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(payload); err != nil {
			return a.sendError(ctx, Unauthorized(err))
		}
	}

	raw := payload.RefreshToken
	if raw == "" {
		raw = ctx.Cookies(RefreshTokenCookie)
	}

	pair, err := a.Admin.Refresh(ctx.UserContext(), raw)
	if err != nil {
		return a.sendError(ctx, err)
	}

	ApplyCookies(ctx, a.Cookies, a.Admin.Cookies(pair)...)

	return ctx.JSON(fiber.Map{
		"refreshed":  true,
		"rotated":    pair.HasRefresh(),
		"expires_at": pair.Access.ExpiresAt,
	})
}

func (a *AuthController) LogOut(ctx *fiber.Ctx) error {
	ApplyCookies(ctx, a.Cookies, a.Admin.Logout(ctx.UserContext())...)
	return ctx.JSON(fiber.Map{"authenticated": false})
}

func (a *AuthController) RegistrationCreate(ctx *fiber.Ctx) error {
	payload := new(CredentialsRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return a.sendError(ctx, NewValidationError(map[string]string{"body": "unable to parse request body"}))
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(map[string]any{"email": payload.Email}))
		fmt.Println("============================")
	}

	identity, err := a.Identities.Register(ctx.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return a.sendError(ctx, err)
	}

	if err := a.startSession(ctx, identity); err != nil {
		return a.sendError(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"user": identity})
}

func (a *AuthController) SignInPost(ctx *fiber.Ctx) error {
	payload := new(CredentialsRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return a.sendError(ctx, withSource(ErrInvalidCredentials, err))
	}

	identity, err := a.Identities.ResolveCredential(ctx.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return a.sendError(ctx, err)
	}

	if err := a.startSession(ctx, identity); err != nil {
		return a.sendError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"user": identity})
}

func (a *AuthController) SignOut(ctx *fiber.Ctx) error {
	ApplyCookies(ctx, a.Cookies, CookieDirective{Name: SessionCookie, Clear: true})
	return ctx.JSON(fiber.Map{"authenticated": false})
}

func (a *AuthController) startSession(ctx *fiber.Ctx, identity UserIdentity) error {
	token, err := a.Identities.IssueSession(identity)
	if err != nil {
		return err
	}
	ApplyCookies(ctx, a.Cookies, a.Identities.SessionCookie(token))
	return nil
}

func (a *AuthController) sendError(ctx *fiber.Ctx, err error) error {
	status := HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("auth request failed", "path", ctx.Path(), "error", err)
		if a.Debug {
			fmt.Println(print.MaybePrettyJSON(errorMetadata(err)))
		}
	}
	return SendError(ctx, err)
}

// ErrorResponse is the JSON body of every error answered by the module.
type ErrorResponse struct {
	Message    string            `json:"message"`
	TextCode   string            `json:"text_code,omitempty"`
	Violations map[string]string `json:"violations,omitempty"`
}

// SendError answers with the status mapped from err. Internal details and
// the reason a credential check failed are never sent.
func SendError(ctx *fiber.Ctx, err error) error {
	status := HTTPStatus(err)
	body := ErrorResponse{Message: strings.ToLower(fiber.ErrInternalServerError.Message)}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && status < fiber.StatusInternalServerError {
		body.Message = richErr.Message
		body.TextCode = richErr.TextCode
		body.Violations = Violations(err)
	} else if status == fiber.StatusServiceUnavailable {
		body.Message = "service temporarily unavailable"
		body.TextCode = TextCodeTransient
	}

	return ctx.Status(status).JSON(fiber.Map{"error": body})
}

func errorMetadata(err error) map[string]any {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{
		"message":   richErr.Message,
		"category":  richErr.Category,
		"text_code": richErr.TextCode,
		"metadata":  richErr.Metadata,
	}
}
