package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/app/repository"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/audit"
)

// RegisterRequest registers a directly sold license.
type RegisterRequest struct {
	PurchaseCode string
	ProductSlug  string
	Domain       string
	BuyerName    string
	BuyerEmail   string
	ClientIP     string
	UserAgent    string
}

type RegisterResult struct {
	Success          bool       `json:"success"`
	Created          bool       `json:"created"`
	Reason           Reason     `json:"reason,omitempty"`
	Message          string     `json:"message"`
	LicenseID        uint       `json:"license_id,omitempty"`
	LicenseKey       string     `json:"license_key,omitempty"`
	LicenseType      string     `json:"license_type,omitempty"`
	MaxDomains       int        `json:"max_domains,omitempty"`
	CurrentDomains   int        `json:"current_domains"`
	RemainingDomains int        `json:"remaining_domains"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	SupportExpiresAt *time.Time `json:"support_expires_at,omitempty"`
}

// errRegistrationDenied rolls back a registration whose domain was refused.
var errRegistrationDenied = errors.New("registration denied")

// Register creates a license for a purchase code sold outside the
// marketplace. An existing (purchase code, product) pair is reported as
// success without changes. License and optional domain commit together.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) RegisterResult {
	req.PurchaseCode = strings.TrimSpace(req.PurchaseCode)
	req.ProductSlug = strings.TrimSpace(req.ProductSlug)

	result, licenseID, err := e.register(ctx, req)
	if err != nil {
		e.logger.Error().Err(err).
			Str("purchase_code", audit.Mask(req.PurchaseCode)).
			Str("product_slug", req.ProductSlug).
			Msg("license registration failed")
		result = RegisterResult{Reason: ReasonInternalError, Message: "Registration failed"}
	}

	attempt := audit.Attempt{
		LicenseID: licenseID,
		Source:    "registration",
		Domain:    NormalizeDomain(req.Domain),
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		Status:    models.VERIFICATION_STATUS_FAILED,
		Reason:    string(result.Reason),
		Request: map[string]any{
			"purchase_code": req.PurchaseCode,
			"product_slug":  req.ProductSlug,
			"domain":        req.Domain,
		},
		Response: map[string]any{
			"success": result.Success,
			"created": result.Created,
			"message": result.Message,
		},
	}
	if result.Success {
		attempt.Status = models.VERIFICATION_STATUS_SUCCESS
	}
	e.record(ctx, attempt)
	e.metrics.RecordVerification("register", string(result.Reason))
	return result
}

func (e *Engine) register(ctx context.Context, req RegisterRequest) (RegisterResult, *uint, error) {
	product, err := e.repos.Product.GetBySlug(ctx, req.ProductSlug)
	if err != nil {
		return RegisterResult{}, nil, fmt.Errorf("find product: %w", err)
	}
	if product == nil {
		return RegisterResult{Reason: ReasonProductNotFound, Message: ReasonProductNotFound.Message()}, nil, nil
	}

	now := e.clock()
	var (
		result    RegisterResult
		licenseID *uint
	)
	err = e.tx.Transaction(ctx, func(tx *repository.Repositories) error {
		existing, err := tx.License.FindByPurchaseCodeAndProduct(ctx, req.PurchaseCode, product.ID)
		if err != nil {
			return fmt.Errorf("find license: %w", err)
		}
		if existing != nil {
			id := existing.ID
			licenseID = &id
			result = RegisterResult{Success: true, Message: "License already exists", LicenseID: existing.ID}
			return nil
		}

		license, err := newDirectLicense(product, req, now)
		if err != nil {
			return err
		}
		created, stored, err := tx.License.CreateIfAbsent(ctx, license)
		if err != nil {
			return fmt.Errorf("create license: %w", err)
		}
		id := stored.ID
		licenseID = &id
		if !created {
			result = RegisterResult{Success: true, Message: "License already exists", LicenseID: stored.ID}
			return nil
		}

		maxDomains, current := stored.EffectiveMaxDomains(), 0
		if strings.TrimSpace(req.Domain) != "" {
			decision, err := e.authorizer.Register(ctx, tx, stored, req.Domain)
			if err != nil {
				denial, ok := DecisionFromError(err)
				if !ok {
					return err
				}
				decision = denial
			}
			if !decision.Allowed {
				result = RegisterResult{
					Reason:           decision.Reason,
					Message:          decision.Reason.Message(),
					MaxDomains:       decision.MaxDomains,
					CurrentDomains:   decision.CurrentDomains,
					RemainingDomains: decision.RemainingDomains,
				}
				licenseID = nil
				return errRegistrationDenied
			}
			maxDomains, current = decision.MaxDomains, decision.CurrentDomains
		}

		result = RegisterResult{
			Success:          true,
			Created:          true,
			Message:          "License registered successfully",
			LicenseID:        stored.ID,
			LicenseKey:       stored.LicenseKey,
			LicenseType:      stored.LicenseType,
			MaxDomains:       maxDomains,
			CurrentDomains:   current,
			RemainingDomains: remaining(maxDomains, current),
			ExpiresAt:        stored.LicenseExpiresAt,
			SupportExpiresAt: stored.SupportExpiresAt,
		}
		return nil
	})
	if errors.Is(err, errRegistrationDenied) {
		return result, nil, nil
	}
	if err != nil {
		return RegisterResult{}, nil, err
	}
	return result, licenseID, nil
}

func newDirectLicense(product *models.Product, req RegisterRequest, now time.Time) (*models.License, error) {
	key, err := models.GenerateLicenseKey()
	if err != nil {
		return nil, fmt.Errorf("generate license key: %w", err)
	}
	licenseType := product.EffectiveLicenseType()
	support := now.Add(product.SupportWindow())
	license := &models.License{
		ProductID:        product.ID,
		PurchaseCode:     req.PurchaseCode,
		LicenseKey:       key,
		LicenseType:      licenseType,
		Status:           models.LICENSE_STATUS_ACTIVE,
		MaxDomains:       models.DefaultMaxDomains(licenseType),
		Source:           models.LICENSE_SOURCE_DIRECT,
		BuyerName:        req.BuyerName,
		BuyerEmail:       req.BuyerEmail,
		SupportExpiresAt: &support,
	}
	if licenseType == models.LICENSE_TYPE_EXTENDED {
		expires := now.AddDate(1, 0, 0)
		license.LicenseExpiresAt = &expires
	}
	if err := license.Validate(); err != nil {
		return nil, fmt.Errorf("invalid license: %w", err)
	}
	return license, nil
}

// StatusRequest looks a license up by its license key.
type StatusRequest struct {
	LicenseKey  string
	ProductSlug string
	ClientIP    string
	UserAgent   string
}

type LicenseStatus struct {
	ID               uint       `json:"id"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	ExpiresAt        *time.Time `json:"expires_at"`
	SupportExpiresAt *time.Time `json:"support_expires_at"`
}

type ProductInfo struct {
	Name    string `json:"name"`
	Slug    string `json:"slug,omitempty"`
	Version string `json:"version"`
}

type StatusResult struct {
	Valid   bool           `json:"valid"`
	Reason  Reason         `json:"reason,omitempty"`
	Message string         `json:"message,omitempty"`
	License *LicenseStatus `json:"license,omitempty"`
	Product *ProductInfo   `json:"product,omitempty"`
}

// Status reports whether a license key is usable for a product. Only usable
// lookups are audited.
func (e *Engine) Status(ctx context.Context, req StatusRequest) StatusResult {
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	req.ProductSlug = strings.TrimSpace(req.ProductSlug)

	product, err := e.repos.Product.GetBySlug(ctx, req.ProductSlug)
	if err != nil {
		e.logger.Error().Err(err).Str("product_slug", req.ProductSlug).Msg("license status check failed")
		return StatusResult{Reason: ReasonInternalError, Message: "Status check failed"}
	}
	if product == nil {
		return StatusResult{Reason: ReasonProductNotFound, Message: ReasonProductNotFound.Message()}
	}

	license, err := e.repos.License.FindByLicenseKeyAndProduct(ctx, req.LicenseKey, product.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("license_key", audit.Mask(req.LicenseKey)).Msg("license status check failed")
		return StatusResult{Reason: ReasonInternalError, Message: "Status check failed"}
	}
	if license == nil {
		return StatusResult{Reason: ReasonLicenseNotFound, Message: ReasonLicenseNotFound.Message()}
	}

	now := e.clock()
	result := StatusResult{
		Valid: license.IsUsable(now),
		License: &LicenseStatus{
			ID:               license.ID,
			Type:             license.LicenseType,
			Status:           license.Status,
			ExpiresAt:        license.LicenseExpiresAt,
			SupportExpiresAt: license.SupportExpiresAt,
		},
		Product: productInfo(product.Name, product.Slug, product.Version),
	}
	if !result.Valid {
		result.Reason = unusableReason(license, now)
		result.Message = result.Reason.Message()
		return result
	}

	id := license.ID
	e.record(ctx, audit.Attempt{
		LicenseID: &id,
		Source:    "status",
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		Status:    models.VERIFICATION_STATUS_SUCCESS,
		Request: map[string]any{
			"purchase_code": req.LicenseKey,
			"product_slug":  req.ProductSlug,
		},
		Response: map[string]any{"valid": true},
	})
	return result
}
