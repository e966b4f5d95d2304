package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type licenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository creates a new license repository instance
func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

func (r *licenseRepository) GetByID(ctx context.Context, id uint) (*models.License, error) {
	var license models.License
	if err := r.db.WithContext(ctx).Preload("Product").First(&license, id).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

// FindByIdentifierAndProduct matches the identifier against purchase code or
// license key. Purchase code hits win when both columns match different rows.
func (r *licenseRepository) FindByIdentifierAndProduct(ctx context.Context, identifier string, productID uint) (*models.License, error) {
	if identifier == "" {
		return nil, nil
	}
	license, err := r.FindByPurchaseCodeAndProduct(ctx, identifier, productID)
	if err != nil || license != nil {
		return license, err
	}
	return r.FindByLicenseKeyAndProduct(ctx, identifier, productID)
}

func (r *licenseRepository) FindByLicenseKeyAndProduct(ctx context.Context, licenseKey string, productID uint) (*models.License, error) {
	return r.findOne(ctx, "license_key = ? AND product_id = ?", licenseKey, productID)
}

func (r *licenseRepository) FindByPurchaseCodeAndProduct(ctx context.Context, purchaseCode string, productID uint) (*models.License, error) {
	return r.findOne(ctx, "purchase_code = ? AND product_id = ?", purchaseCode, productID)
}

func (r *licenseRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.License, error) {
	return r.first(r.db.WithContext(ctx), query, args...)
}

func (r *licenseRepository) first(db *gorm.DB, query string, args ...interface{}) (*models.License, error) {
	var license models.License
	err := db.Where(query, args...).Order("id ASC").First(&license).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &license, nil
}

func (r *licenseRepository) LockByID(ctx context.Context, id uint) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&license, id).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *licenseRepository) CreateIfAbsent(ctx context.Context, license *models.License) (bool, *models.License, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "purchase_code"},
			{Name: "product_id"},
		},
		DoNothing: true,
	}).Create(license)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	// locking read: the conflicting row may be newer than our snapshot
	stored, err := r.first(
		r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}),
		"purchase_code = ? AND product_id = ?", license.PurchaseCode, license.ProductID,
	)
	if err != nil {
		return false, nil, err
	}
	if stored == nil {
		// conflicting row is soft-deleted
		return false, nil, fmt.Errorf("license for purchase code on product %d is deleted", license.ProductID)
	}
	return created, stored, nil
}

func (r *licenseRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	if !models.IsValidLicenseStatus(status) {
		return fmt.Errorf("invalid license status %q", status)
	}
	res := r.db.WithContext(ctx).Model(&models.License{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.existsOrNotFound(ctx, id)
	}
	return nil
}

func (r *licenseRepository) UpdateExpiry(ctx context.Context, id uint, licenseExpiresAt, supportExpiresAt *time.Time) error {
	updates := map[string]interface{}{
		"license_expires_at": licenseExpiresAt,
	}
	if supportExpiresAt != nil {
		updates["support_expires_at"] = supportExpiresAt
	}
	res := r.db.WithContext(ctx).Model(&models.License{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.existsOrNotFound(ctx, id)
	}
	return nil
}

func (r *licenseRepository) MarkVerified(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.License{}).Where("id = ?", id).
		UpdateColumn("verified_at", at).Error
}

func (r *licenseRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.License{}).
		Where("status = ? AND license_expires_at IS NOT NULL AND license_expires_at <= ?", models.LICENSE_STATUS_ACTIVE, now).
		Update("status", models.LICENSE_STATUS_EXPIRED)
	return res.RowsAffected, res.Error
}

// MySQL reports zero affected rows for no-op updates, so tell "unchanged"
// apart from "missing".
func (r *licenseRepository) existsOrNotFound(ctx context.Context, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.License{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
