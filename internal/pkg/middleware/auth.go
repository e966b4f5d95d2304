package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
)

// RequireAdmin guards operator endpoints with HTTP basic auth from
// ADMIN_USER / ADMIN_PASSWORD. An empty password locks the endpoints.
func RequireAdmin() fiber.Handler {
	return AdminBasicAuth(env.GetEnv("ADMIN_USER", "admin"), env.GetEnv("ADMIN_PASSWORD", ""))
}

func AdminBasicAuth(user, password string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "LicenseFox Admin",
		Authorizer: func(u, p string) bool {
			if password == "" {
				return false
			}
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
			return userOK && passOK
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="LicenseFox Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
		},
	})
}
