package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/LicenseFox/app/controllers"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/middleware"
)

type AdminRouter struct {
	services Services
	guard    fiber.Handler
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	app.Get("/metrics/prometheus", h.guard, adaptor.HTTPHandler(promhttp.Handler()))

	ac := controllers.NewAdminLicenseController(h.services.Admin, h.services.Reports)
	admin := app.Group("/api/v1/admin", h.guard)
	admin.Get("/licenses/:id", ac.HandleGetLicense)
	admin.Patch("/licenses/:id/status", ac.HandleUpdateStatus)
	admin.Patch("/licenses/:id/expiry", ac.HandleUpdateExpiry)
	admin.Get("/verification/stats", ac.HandleVerificationStats)
}

func NewAdminRouter(services Services) *AdminRouter {
	return &AdminRouter{services: services, guard: middleware.RequireAdmin()}
}
