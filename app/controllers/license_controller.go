package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/licensing"
)

// LicenseService is the part of the licensing engine the public API uses.
type LicenseService interface {
	Verify(ctx context.Context, req licensing.VerifyRequest) licensing.VerifyResult
	Register(ctx context.Context, req licensing.RegisterRequest) licensing.RegisterResult
	Status(ctx context.Context, req licensing.StatusRequest) licensing.StatusResult
	CheckUpdates(ctx context.Context, req licensing.UpdateCheckRequest) licensing.UpdateCheckResult
	LatestVersion(ctx context.Context, productSlug string) licensing.LatestVersionResult
}

// ModeSource resolves the verification mode for a request.
type ModeSource interface {
	Resolve() licensing.VerificationMode
}

type LicenseController struct {
	service LicenseService
	modes   ModeSource
}

func NewLicenseController(service LicenseService, modes ModeSource) *LicenseController {
	return &LicenseController{service: service, modes: modes}
}

type verifyRequest struct {
	PurchaseCode    string `json:"purchase_code" form:"purchase_code" validate:"required,max=191"`
	ProductSlug     string `json:"product_slug" form:"product_slug" validate:"required,max=191"`
	Domain          string `json:"domain" form:"domain" validate:"omitempty,max=255"`
	VerificationKey string `json:"verification_key" form:"verification_key" validate:"omitempty,max=128"`
}

type registerRequest struct {
	PurchaseCode string `json:"purchase_code" form:"purchase_code" validate:"required,min=10,max=191"`
	ProductSlug  string `json:"product_slug" form:"product_slug" validate:"required,max=191"`
	Domain       string `json:"domain" form:"domain" validate:"omitempty,max=255"`
	BuyerName    string `json:"buyer_name" form:"buyer_name" validate:"omitempty,max=200"`
	BuyerEmail   string `json:"buyer_email" form:"buyer_email" validate:"omitempty,email,max=200"`
}

type statusRequest struct {
	LicenseKey  string `json:"license_key" form:"license_key" validate:"required,max=191"`
	ProductSlug string `json:"product_slug" form:"product_slug" validate:"required,max=191"`
}

type checkUpdatesRequest struct {
	PurchaseCode    string `json:"purchase_code" form:"purchase_code" validate:"required,max=191"`
	ProductSlug     string `json:"product_slug" form:"product_slug" validate:"required,max=191"`
	Domain          string `json:"domain" form:"domain" validate:"omitempty,max=255"`
	VerificationKey string `json:"verification_key" form:"verification_key" validate:"omitempty,max=128"`
	CurrentVersion  string `json:"current_version" form:"current_version" validate:"required,max=50,version"`
}

type latestVersionRequest struct {
	ProductSlug string `query:"product_slug" json:"product_slug" validate:"required,max=191"`
}

// HandleVerify POST /api/v1/license/verify
func (lc *LicenseController) HandleVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return validationResponse(c, err)
	}

	mode := licensing.ModeVerifyOnly
	if lc.modes != nil {
		mode = lc.modes.Resolve()
	}

	res := lc.service.Verify(c.UserContext(), licensing.VerifyRequest{
		Identifier:      req.PurchaseCode,
		ProductSlug:     req.ProductSlug,
		Domain:          req.Domain,
		VerificationKey: req.VerificationKey,
		Mode:            mode,
		ClientIP:        GetClientIP(c),
		UserAgent:       c.Get(fiber.HeaderUserAgent),
	})
	if !res.Valid {
		return reasonResponse(c, res.Reason, res.Message, verifyErrorData(res))
	}

	return c.JSON(fiber.Map{
		"valid":   true,
		"message": res.Message,
		"data": fiber.Map{
			"license_id":          res.LicenseID,
			"license_type":        res.LicenseType,
			"max_domains":         res.MaxDomains,
			"current_domains":     res.CurrentDomains,
			"remaining_domains":   res.RemainingDomains,
			"expires_at":          res.ExpiresAt,
			"support_expires_at":  res.SupportExpiresAt,
			"status":              res.Status,
			"verification_method": res.VerificationMethod,
			"domain_registered":   res.DomainRegistered,
		},
	})
}

// HandleRegister POST /api/v1/license/register
func (lc *LicenseController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return validationResponse(c, err)
	}

	res := lc.service.Register(c.UserContext(), licensing.RegisterRequest{
		PurchaseCode: req.PurchaseCode,
		ProductSlug:  req.ProductSlug,
		Domain:       req.Domain,
		BuyerName:    req.BuyerName,
		BuyerEmail:   req.BuyerEmail,
		ClientIP:     GetClientIP(c),
		UserAgent:    c.Get(fiber.HeaderUserAgent),
	})
	if !res.Success {
		var data fiber.Map
		if res.MaxDomains > 0 {
			data = fiber.Map{
				"max_domains":       res.MaxDomains,
				"current_domains":   res.CurrentDomains,
				"remaining_domains": res.RemainingDomains,
			}
		}
		return reasonResponse(c, res.Reason, res.Message, data)
	}

	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(res)
}

// HandleStatus POST /api/v1/license/status
func (lc *LicenseController) HandleStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return validationResponse(c, err)
	}

	res := lc.service.Status(c.UserContext(), licensing.StatusRequest{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.ProductSlug,
		ClientIP:    GetClientIP(c),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
	})
	// A known but unusable license still reports its details.
	if res.License == nil {
		return reasonResponse(c, res.Reason, res.Message, nil)
	}
	return c.JSON(res)
}

// HandleCheckUpdates POST /api/v1/license/check-updates
func (lc *LicenseController) HandleCheckUpdates(c *fiber.Ctx) error {
	var req checkUpdatesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return validationResponse(c, err)
	}

	mode := licensing.ModeVerifyOnly
	if lc.modes != nil {
		mode = lc.modes.Resolve()
	}

	res := lc.service.CheckUpdates(c.UserContext(), licensing.UpdateCheckRequest{
		Identifier:      req.PurchaseCode,
		ProductSlug:     req.ProductSlug,
		CurrentVersion:  req.CurrentVersion,
		Domain:          req.Domain,
		VerificationKey: req.VerificationKey,
		Mode:            mode,
		ClientIP:        GetClientIP(c),
		UserAgent:       c.Get(fiber.HeaderUserAgent),
	})
	if !res.Valid {
		return reasonResponse(c, res.Reason, res.Message, verifyErrorData(res.License))
	}

	return c.JSON(fiber.Map{
		"valid":   true,
		"message": res.Message,
		"data": fiber.Map{
			"current_version":     res.CurrentVersion,
			"latest_version":      res.LatestVersion,
			"is_update_available": res.UpdateAvailable,
			"product":             res.Product,
		},
	})
}

// HandleLatestVersion GET /api/v1/license/latest-version?product_slug=
func (lc *LicenseController) HandleLatestVersion(c *fiber.Ctx) error {
	var req latestVersionRequest
	if err := c.QueryParser(&req); err != nil {
		return validationResponse(c, err)
	}
	if err := validate.Struct(&req); err != nil {
		return validationResponse(c, err)
	}

	res := lc.service.LatestVersion(c.UserContext(), req.ProductSlug)
	if res.Reason != licensing.ReasonNone {
		return reasonResponse(c, res.Reason, res.Message, nil)
	}
	return c.JSON(fiber.Map{
		"version": res.Version,
		"product": res.Product,
	})
}

func bindAndValidate(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return err
	}
	return validate.Struct(out)
}

func validationResponse(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"valid":      false,
		"message":    "Validation failed",
		"error_code": "VALIDATION_ERROR",
		"errors":     validationErrors(err),
	})
}

// reasonResponse writes the error envelope {valid, message, error_code, data}.
func reasonResponse(c *fiber.Ctx, reason licensing.Reason, message string, data fiber.Map) error {
	if message == "" {
		message = reason.Message()
	}
	body := fiber.Map{
		"valid":      false,
		"message":    message,
		"error_code": string(reason),
	}
	if len(data) > 0 {
		body["data"] = data
	}
	return c.Status(HTTPStatus(reason)).JSON(body)
}

func verifyErrorData(res licensing.VerifyResult) fiber.Map {
	switch res.Reason {
	case licensing.ReasonDomainLimitExceeded, licensing.ReasonDomainNotAuthorized:
		return fiber.Map{
			"max_domains":       res.MaxDomains,
			"current_domains":   res.CurrentDomains,
			"remaining_domains": res.RemainingDomains,
		}
	case licensing.ReasonLicenseExpired:
		if res.ExpiresAt != nil {
			return fiber.Map{"expires_at": res.ExpiresAt}
		}
	}
	return nil
}

// HTTPStatus maps a failure reason to its response status.
func HTTPStatus(reason licensing.Reason) int {
	switch reason {
	case licensing.ReasonNone:
		return fiber.StatusOK
	case licensing.ReasonProductNotFound, licensing.ReasonLicenseNotFound:
		return fiber.StatusNotFound
	case licensing.ReasonInvalidVerificationKey:
		return fiber.StatusUnauthorized
	case licensing.ReasonLicenseSuspended, licensing.ReasonLicenseExpired, licensing.ReasonLicenseInactive,
		licensing.ReasonDomainNotAuthorized, licensing.ReasonDomainLimitExceeded:
		return fiber.StatusForbidden
	case licensing.ReasonRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}
