package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"gorm.io/gorm"
)

// ProductRepository resolves products for the license core. Catalog writes
// happen elsewhere.
type ProductRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Product, error)
	// GetBySlug returns (nil, nil) when no product has the slug.
	GetBySlug(ctx context.Context, slug string) (*models.Product, error)
}

// LicenseRepository is the license store. Finders return (nil, nil) when the
// license does not exist.
type LicenseRepository interface {
	GetByID(ctx context.Context, id uint) (*models.License, error)
	FindByIdentifierAndProduct(ctx context.Context, identifier string, productID uint) (*models.License, error)
	FindByLicenseKeyAndProduct(ctx context.Context, licenseKey string, productID uint) (*models.License, error)
	FindByPurchaseCodeAndProduct(ctx context.Context, purchaseCode string, productID uint) (*models.License, error)
	// LockByID re-reads the license with a row lock held until the
	// surrounding transaction ends.
	LockByID(ctx context.Context, id uint) (*models.License, error)
	// CreateIfAbsent inserts the license unless (purchase_code, product_id)
	// already exists and returns the stored row either way.
	CreateIfAbsent(ctx context.Context, license *models.License) (bool, *models.License, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	UpdateExpiry(ctx context.Context, id uint, licenseExpiresAt, supportExpiresAt *time.Time) error
	MarkVerified(ctx context.Context, id uint, at time.Time) error
	// ExpireOverdue flips active licenses whose expiry passed to expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// DomainRepository is the registry of domains authorized per license.
type DomainRepository interface {
	ActiveDomainsFor(ctx context.Context, licenseID uint) ([]models.LicenseDomain, error)
	// FindByNormalizedDomain looks up any-status rows with a locking read;
	// (nil, nil) when absent.
	FindByNormalizedDomain(ctx context.Context, licenseID uint, domain string) (*models.LicenseDomain, error)
	CountActive(ctx context.Context, licenseID uint) (int64, error)
	// CountActiveLocked counts with a locking read, which sees rows committed
	// after the transaction's snapshot. Call it while holding the license lock.
	CountActiveLocked(ctx context.Context, licenseID uint) (int64, error)
	// CreateIfAbsent inserts the domain unless (license_id, domain) exists.
	CreateIfAbsent(ctx context.Context, domain *models.LicenseDomain) (bool, *models.LicenseDomain, error)
	Activate(ctx context.Context, id uint, at time.Time) error
	Touch(ctx context.Context, id uint, at time.Time) error
}

// VerificationLogRepository persists and aggregates verification attempts.
type VerificationLogRepository interface {
	Create(ctx context.Context, entry *models.LicenseVerificationLog) error
	Stats(ctx context.Context, since time.Time) (*models.VerificationStats, error)
	SuspiciousIPs(ctx context.Context, since time.Time, minAttempts int) ([]models.SuspiciousIP, error)
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// Transactor runs fn with repositories bound to one database transaction.
// Returning an error from fn rolls everything back.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *Repositories) error) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Product         ProductRepository
	License         LicenseRepository
	Domain          DomainRepository
	VerificationLog VerificationLogRepository
	Setting         SettingRepository

	db *gorm.DB
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Product:         NewProductRepository(db),
		License:         NewLicenseRepository(db),
		Domain:          NewDomainRepository(db),
		VerificationLog: NewVerificationLogRepository(db),
		Setting:         NewSettingRepository(db),
		db:              db,
	}
}

// Transaction implements Transactor on top of gorm's managed transactions.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
