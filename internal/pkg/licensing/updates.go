package licensing

import (
	"context"
	"strings"

	"golang.org/x/mod/semver"
)

// UpdateCheckRequest asks whether a licensed installation runs an older
// release than the product's current one.
type UpdateCheckRequest struct {
	Identifier      string
	ProductSlug     string
	CurrentVersion  string
	Domain          string
	VerificationKey string
	Mode            VerificationMode
	ClientIP        string
	UserAgent       string
}

type UpdateCheckResult struct {
	Valid           bool         `json:"valid"`
	Reason          Reason       `json:"reason,omitempty"`
	Message         string       `json:"message"`
	CurrentVersion  string       `json:"current_version"`
	LatestVersion   string       `json:"latest_version,omitempty"`
	UpdateAvailable bool         `json:"is_update_available"`
	Product         *ProductInfo `json:"product,omitempty"`

	// License is the verification the check ran on.
	License VerifyResult `json:"-"`
}

// CheckUpdates runs a full verification (rate limits, domain authorization,
// audit) and on success compares CurrentVersion with the product version.
func (e *Engine) CheckUpdates(ctx context.Context, req UpdateCheckRequest) UpdateCheckResult {
	req.CurrentVersion = strings.TrimSpace(req.CurrentVersion)

	verified := e.Verify(ctx, VerifyRequest{
		Identifier:      req.Identifier,
		ProductSlug:     req.ProductSlug,
		Domain:          req.Domain,
		VerificationKey: req.VerificationKey,
		Mode:            req.Mode,
		ClientIP:        req.ClientIP,
		UserAgent:       req.UserAgent,
	})
	result := UpdateCheckResult{
		Reason:         verified.Reason,
		Message:        verified.Message,
		CurrentVersion: req.CurrentVersion,
		License:        verified,
	}
	if !verified.Valid {
		return result
	}

	product, err := e.repos.Product.GetBySlug(ctx, strings.TrimSpace(req.ProductSlug))
	if err != nil || product == nil {
		e.logger.Error().Err(err).Str("product_slug", req.ProductSlug).Msg("update check failed")
		result.Reason = ReasonInternalError
		result.Message = ReasonInternalError.Message()
		return result
	}

	result.Valid = true
	result.LatestVersion = product.Version
	result.UpdateAvailable = IsNewerVersion(product.Version, req.CurrentVersion)
	result.Product = productInfo(product.Name, product.Slug, product.Version)
	result.Message = "No update available"
	if result.UpdateAvailable {
		result.Message = "Update available"
	}
	e.metrics.RecordVerification("update_check", string(result.Reason))
	return result
}

type LatestVersionResult struct {
	Reason  Reason       `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	Version string       `json:"version,omitempty"`
	Product *ProductInfo `json:"product,omitempty"`
}

// LatestVersion reports a product's current release. It needs no license.
func (e *Engine) LatestVersion(ctx context.Context, productSlug string) LatestVersionResult {
	productSlug = strings.TrimSpace(productSlug)
	product, err := e.repos.Product.GetBySlug(ctx, productSlug)
	if err != nil {
		e.logger.Error().Err(err).Str("product_slug", productSlug).Msg("latest version lookup failed")
		return LatestVersionResult{Reason: ReasonInternalError, Message: ReasonInternalError.Message()}
	}
	if product == nil || !product.IsActive {
		return LatestVersionResult{Reason: ReasonProductNotFound, Message: ReasonProductNotFound.Message()}
	}
	return LatestVersionResult{
		Version: product.Version,
		Product: productInfo(product.Name, product.Slug, product.Version),
	}
}

func productInfo(name, slug, version string) *ProductInfo {
	return &ProductInfo{Name: name, Slug: slug, Version: version}
}

// ValidVersion accepts semantic versions with or without a leading "v";
// "1.2" is read as "1.2.0".
func ValidVersion(v string) bool {
	return semver.IsValid(canonicalVersion(v))
}

// IsNewerVersion reports whether latest is a higher release than current.
// An invalid latest is never newer; any valid latest beats an invalid current.
func IsNewerVersion(latest, current string) bool {
	if !ValidVersion(latest) {
		return false
	}
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v[0] == 'v' {
		return v
	}
	return "v" + v
}
