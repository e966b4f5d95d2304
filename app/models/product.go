package models

import (
	"time"

	"gorm.io/gorm"
)

// Product is read-only from the license core: it resolves slugs to ids, the
// marketplace item id and the license type new licenses inherit.
type Product struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(200);not null" json:"name"`
	Slug         string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"slug"`
	Version      string         `gorm:"type:varchar(50);default:''" json:"version"`
	EnvatoItemID string         `gorm:"type:varchar(50);default:'';index" json:"envato_item_id"`
	LicenseType  string         `gorm:"type:varchar(20);not null;default:'single'" json:"license_type"`
	SupportDays  int            `gorm:"not null;default:365" json:"support_days"`
	IsActive     bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// SupportWindow returns the product's support period, 365 days when unset.
func (p *Product) SupportWindow() time.Duration {
	days := p.SupportDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// EffectiveLicenseType falls back to "single" like the marketplace default.
func (p *Product) EffectiveLicenseType() string {
	if p.LicenseType == "" {
		return LICENSE_TYPE_SINGLE
	}
	return p.LicenseType
}
