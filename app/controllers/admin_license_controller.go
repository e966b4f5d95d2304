package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/licensing"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/logging"
)

// LicenseAdmin mutates licenses on behalf of an operator.
type LicenseAdmin interface {
	GetLicense(ctx context.Context, licenseID uint) (*models.License, error)
	SetStatus(ctx context.Context, licenseID uint, status string) error
	UpdateExpiry(ctx context.Context, licenseID uint, licenseExpiresAt, supportExpiresAt *time.Time) error
}

// VerificationReporter aggregates the verification audit log.
type VerificationReporter interface {
	Stats(ctx context.Context, hours int) (*models.VerificationStats, error)
	SuspiciousActivity(ctx context.Context, hours, minAttempts int) ([]models.SuspiciousIP, error)
}

type AdminLicenseController struct {
	licenses LicenseAdmin
	reports  VerificationReporter
	logger   zerolog.Logger
}

func NewAdminLicenseController(licenses LicenseAdmin, reports VerificationReporter) *AdminLicenseController {
	return &AdminLicenseController{
		licenses: licenses,
		reports:  reports,
		logger:   logging.Component("admin"),
	}
}

type statusUpdateRequest struct {
	Status string `json:"status" form:"status" validate:"required,oneof=active inactive suspended expired"`
}

// expiryUpdateRequest takes RFC 3339 timestamps. A null or missing
// license_expires_at makes the license perpetual; support_expires_at is
// kept when missing.
type expiryUpdateRequest struct {
	LicenseExpiresAt *time.Time `json:"license_expires_at"`
	SupportExpiresAt *time.Time `json:"support_expires_at"`
}

// HandleGetLicense GET /api/v1/admin/licenses/:id
func (ac *AdminLicenseController) HandleGetLicense(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return adminError(c, fiber.StatusBadRequest, "Invalid license id")
	}
	license, err := ac.licenses.GetLicense(c.UserContext(), uint(id))
	if err != nil {
		return ac.licenseError(c, err, uint(id))
	}
	return c.JSON(fiber.Map{"success": true, "data": license})
}

// HandleUpdateStatus PATCH /api/v1/admin/licenses/:id/status
func (ac *AdminLicenseController) HandleUpdateStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return adminError(c, fiber.StatusBadRequest, "Invalid license id")
	}
	var req statusUpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return validationResponse(c, err)
	}
	if err := ac.licenses.SetStatus(c.UserContext(), uint(id), req.Status); err != nil {
		return ac.licenseError(c, err, uint(id))
	}
	return c.JSON(fiber.Map{"success": true, "message": "License status updated", "status": req.Status})
}

// HandleUpdateExpiry PATCH /api/v1/admin/licenses/:id/expiry
func (ac *AdminLicenseController) HandleUpdateExpiry(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return adminError(c, fiber.StatusBadRequest, "Invalid license id")
	}
	var req expiryUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return adminError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := ac.licenses.UpdateExpiry(c.UserContext(), uint(id), utcPtr(req.LicenseExpiresAt), utcPtr(req.SupportExpiresAt)); err != nil {
		return ac.licenseError(c, err, uint(id))
	}
	return c.JSON(fiber.Map{"success": true, "message": "License expiry updated"})
}

// HandleVerificationStats GET /api/v1/admin/verification/stats?hours=24&min_attempts=10
func (ac *AdminLicenseController) HandleVerificationStats(c *fiber.Ctx) error {
	hours := c.QueryInt("hours", 24)
	minAttempts := c.QueryInt("min_attempts", 10)
	if hours <= 0 || hours > 24*90 {
		return adminError(c, fiber.StatusBadRequest, "hours must be between 1 and 2160")
	}

	stats, err := ac.reports.Stats(c.UserContext(), hours)
	if err != nil {
		ac.logger.Error().Err(err).Int("hours", hours).Msg("verification stats failed")
		return adminError(c, fiber.StatusInternalServerError, "Could not load verification stats")
	}
	suspicious, err := ac.reports.SuspiciousActivity(c.UserContext(), hours, minAttempts)
	if err != nil {
		ac.logger.Error().Err(err).Int("hours", hours).Msg("suspicious activity query failed")
		return adminError(c, fiber.StatusInternalServerError, "Could not load verification stats")
	}
	if suspicious == nil {
		suspicious = []models.SuspiciousIP{}
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"hours":        hours,
		"stats":        stats,
		"success_rate": stats.SuccessRate(),
		"suspicious":   suspicious,
	})
}

func (ac *AdminLicenseController) licenseError(c *fiber.Ctx, err error, id uint) error {
	switch {
	case errors.Is(err, licensing.ErrLicenseNotFound):
		return adminError(c, fiber.StatusNotFound, "License not found")
	case errors.Is(err, licensing.ErrInvalidStatus):
		return adminError(c, fiber.StatusUnprocessableEntity, "Invalid license status")
	default:
		ac.logger.Error().Err(err).Uint("license_id", id).Msg("license admin operation failed")
		return adminError(c, fiber.StatusInternalServerError, "License update failed")
	}
}

func adminError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "message": message})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
