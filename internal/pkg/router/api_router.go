package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/LicenseFox/app/controllers"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/middleware"
)

// Services are the collaborators the HTTP layer is built from.
type Services struct {
	Licenses  controllers.LicenseService
	Admin     controllers.LicenseAdmin
	Reports   controllers.VerificationReporter
	Modes     controllers.ModeSource
	TokenHash middleware.TokenHashSource
	// LimiterStorage shares the coarse request limiter across instances.
	// Nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

type ApiRouter struct {
	services Services
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:          env.GetEnvInt("API_RATE_LIMIT_MAX", 120),
		Expiration:   env.GetEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
		KeyGenerator: controllers.GetClientIP,
		Storage:      h.services.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"valid":      false,
				"message":    "Too many requests",
				"error_code": "RATE_LIMITED",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from license api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ping": "pong"})
	})

	tokenHash := h.services.TokenHash
	if tokenHash == nil {
		tokenHash = middleware.SettingsTokenHash
	}
	requireToken := middleware.LicenseAPITokenMiddleware(tokenHash)

	lc := controllers.NewLicenseController(h.services.Licenses, h.services.Modes)
	license := v1.Group("/license")
	license.Post("/verify", requireToken, lc.HandleVerify)
	license.Post("/register", requireToken, lc.HandleRegister)
	license.Post("/status", lc.HandleStatus)
	license.Post("/check-updates", requireToken, lc.HandleCheckUpdates)
	license.Get("/latest-version", lc.HandleLatestVersion)
}

func NewApiRouter(services Services) *ApiRouter {
	return &ApiRouter{services: services}
}
