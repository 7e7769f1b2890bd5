package sitegate

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// CookieOptions are applied to every cookie the module writes.
type CookieOptions struct {
	Path     string
	Secure   bool
	SameSite string
}

// DefaultCookieOptions scopes cookies to the whole site
func DefaultCookieOptions(secure bool) CookieOptions {
	return CookieOptions{Path: "/", Secure: secure, SameSite: fiber.CookieSameSiteLaxMode}
}

// ApplyCookies writes directives onto the response. Clearing a cookie sets
// it empty with a zero lifetime.
func ApplyCookies(c *fiber.Ctx, opts CookieOptions, directives ...CookieDirective) {
	if opts.Path == "" {
		opts.Path = "/"
	}

	for _, d := range directives {
		cookie := &fiber.Cookie{
			Name:     d.Name,
			Value:    d.Value,
			Path:     opts.Path,
			Secure:   opts.Secure,
			HTTPOnly: true,
			SameSite: opts.SameSite,
		}

		if d.Clear {
			cookie.Value = ""
			cookie.MaxAge = -1
			cookie.Expires = time.Unix(0, 0)
		} else {
			cookie.MaxAge = int(d.MaxAge / time.Second)
		}

		c.Cookie(cookie)
	}
}
