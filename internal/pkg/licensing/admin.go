package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/LicenseFox/app/models"
)

var (
	ErrLicenseNotFound = errors.New("license not found")
	ErrInvalidStatus   = errors.New("invalid license status")
)

// SetStatus suspends, deactivates, expires or reactivates a license.
func (e *Engine) SetStatus(ctx context.Context, licenseID uint, status string) error {
	if !models.IsValidLicenseStatus(status) {
		return ErrInvalidStatus
	}
	if err := e.repos.License.UpdateStatus(ctx, licenseID, status); err != nil {
		return notFoundOr(err)
	}
	e.logger.Info().Uint("license_id", licenseID).Str("status", status).Msg("license status changed")
	return nil
}

// UpdateExpiry sets the license expiry; nil makes the license perpetual.
// supportExpiresAt is left untouched when nil.
func (e *Engine) UpdateExpiry(ctx context.Context, licenseID uint, licenseExpiresAt, supportExpiresAt *time.Time) error {
	if err := e.repos.License.UpdateExpiry(ctx, licenseID, licenseExpiresAt, supportExpiresAt); err != nil {
		return notFoundOr(err)
	}
	e.logger.Info().Uint("license_id", licenseID).Msg("license expiry changed")
	return nil
}

// GetLicense loads a license for admin views.
func (e *Engine) GetLicense(ctx context.Context, licenseID uint) (*models.License, error) {
	license, err := e.repos.License.GetByID(ctx, licenseID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return license, nil
}

// ExpireOverdue marks active licenses past their expiry as expired.
func (e *Engine) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := e.repos.License.ExpireOverdue(ctx, e.clock())
	if err != nil {
		return 0, fmt.Errorf("expire overdue licenses: %w", err)
	}
	e.metrics.RecordExpired(n)
	return n, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrLicenseNotFound
	}
	return err
}
