package licensing

import (
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
)

// VerificationMethod tells how a valid license was resolved.
type VerificationMethod string

const (
	MethodDatabaseOnly      VerificationMethod = "database_only"
	MethodEnvatoAutoCreated VerificationMethod = "envato_auto_created"
)

// VerifyRequest is one inbound verification. Mode is resolved by the caller.
type VerifyRequest struct {
	Identifier      string
	ProductSlug     string
	Domain          string
	VerificationKey string
	Mode            VerificationMode
	ClientIP        string
	UserAgent       string
}

// VerifyResult is returned for every verification, valid or not.
type VerifyResult struct {
	Valid              bool               `json:"valid"`
	Reason             Reason             `json:"reason,omitempty"`
	Message            string             `json:"message"`
	LicenseID          uint               `json:"license_id,omitempty"`
	LicenseType        string             `json:"license_type,omitempty"`
	Status             string             `json:"status,omitempty"`
	MaxDomains         int                `json:"max_domains,omitempty"`
	CurrentDomains     int                `json:"current_domains"`
	RemainingDomains   int                `json:"remaining_domains"`
	ExpiresAt          *time.Time         `json:"expires_at,omitempty"`
	SupportExpiresAt   *time.Time         `json:"support_expires_at,omitempty"`
	VerificationMethod VerificationMethod `json:"verification_method,omitempty"`
	DomainRegistered   bool               `json:"domain_registered,omitempty"`
}

func failure(reason Reason) VerifyResult {
	return VerifyResult{Reason: reason, Message: reason.Message()}
}

func licenseFailure(license *models.License, reason Reason) VerifyResult {
	r := failure(reason)
	r.LicenseID = license.ID
	r.LicenseType = license.LicenseType
	r.Status = license.Status
	r.ExpiresAt = license.LicenseExpiresAt
	r.SupportExpiresAt = license.SupportExpiresAt
	return r
}

func domainFailure(license *models.License, d Decision) VerifyResult {
	r := licenseFailure(license, d.Reason)
	r.MaxDomains = d.MaxDomains
	r.CurrentDomains = d.CurrentDomains
	r.RemainingDomains = d.RemainingDomains
	return r
}

func success(license *models.License, method VerificationMethod, maxDomains, current int, registered bool) VerifyResult {
	return VerifyResult{
		Valid:              true,
		Message:            "License verified successfully",
		LicenseID:          license.ID,
		LicenseType:        license.LicenseType,
		Status:             license.Status,
		MaxDomains:         maxDomains,
		CurrentDomains:     current,
		RemainingDomains:   remaining(maxDomains, current),
		ExpiresAt:          license.LicenseExpiresAt,
		SupportExpiresAt:   license.SupportExpiresAt,
		VerificationMethod: method,
		DomainRegistered:   registered,
	}
}

// unusableReason maps a license that failed IsUsable to its reason.
func unusableReason(license *models.License, now time.Time) Reason {
	switch {
	case license.Status == models.LICENSE_STATUS_SUSPENDED:
		return ReasonLicenseSuspended
	case license.Status == models.LICENSE_STATUS_EXPIRED, license.IsExpired(now):
		return ReasonLicenseExpired
	default:
		return ReasonLicenseInactive
	}
}

// snapshot is the response side of the audit record.
func (r VerifyResult) snapshot() map[string]any {
	out := map[string]any{
		"valid":   r.Valid,
		"message": r.Message,
	}
	if r.Reason != ReasonNone {
		out["error_code"] = string(r.Reason)
	}
	if r.LicenseID != 0 {
		out["license_id"] = r.LicenseID
		out["max_domains"] = r.MaxDomains
		out["current_domains"] = r.CurrentDomains
		out["remaining_domains"] = r.RemainingDomains
	}
	if r.VerificationMethod != "" {
		out["verification_method"] = string(r.VerificationMethod)
	}
	return out
}
