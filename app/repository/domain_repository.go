package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type domainRepository struct {
	db *gorm.DB
}

// NewDomainRepository creates a new domain registry instance
func NewDomainRepository(db *gorm.DB) DomainRepository {
	return &domainRepository{db: db}
}

func (r *domainRepository) ActiveDomainsFor(ctx context.Context, licenseID uint) ([]models.LicenseDomain, error) {
	var domains []models.LicenseDomain
	err := r.db.WithContext(ctx).
		Where("license_id = ? AND status = ?", licenseID, models.DOMAIN_STATUS_ACTIVE).
		Order("id ASC").
		Find(&domains).Error
	return domains, err
}

func (r *domainRepository) FindByNormalizedDomain(ctx context.Context, licenseID uint, domain string) (*models.LicenseDomain, error) {
	var row models.LicenseDomain
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("license_id = ? AND domain = ?", licenseID, domain).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *domainRepository) CountActive(ctx context.Context, licenseID uint) (int64, error) {
	return r.countActive(r.db.WithContext(ctx), licenseID)
}

func (r *domainRepository) CountActiveLocked(ctx context.Context, licenseID uint) (int64, error) {
	return r.countActive(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), licenseID)
}

func (r *domainRepository) countActive(db *gorm.DB, licenseID uint) (int64, error) {
	var count int64
	err := db.Model(&models.LicenseDomain{}).
		Where("license_id = ? AND status = ?", licenseID, models.DOMAIN_STATUS_ACTIVE).
		Count(&count).Error
	return count, err
}

func (r *domainRepository) CreateIfAbsent(ctx context.Context, domain *models.LicenseDomain) (bool, *models.LicenseDomain, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "license_id"},
			{Name: "domain"},
		},
		DoNothing: true,
	}).Create(domain)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.FindByNormalizedDomain(ctx, domain.LicenseID, domain.Domain)
	if err != nil {
		return false, nil, err
	}
	if stored == nil {
		return false, nil, gorm.ErrRecordNotFound
	}
	return created, stored, nil
}

func (r *domainRepository) Activate(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.LicenseDomain{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.DOMAIN_STATUS_ACTIVE,
			"last_used_at": at,
		}).Error
}

func (r *domainRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.LicenseDomain{}).Where("id = ?", id).
		UpdateColumn("last_used_at", at).Error
}
