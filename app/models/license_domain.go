package models

import "time"

const (
	DOMAIN_STATUS_ACTIVE   = "active"
	DOMAIN_STATUS_INACTIVE = "inactive"
)

// LicenseDomain is a domain authorized for exactly one license. Domain is
// stored normalized; (LicenseID, Domain) is unique.
type LicenseDomain struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	LicenseID  uint       `gorm:"not null;index:ux_license_domains_license_domain,unique,priority:1;index:idx_license_domains_license_status,priority:1" json:"license_id"`
	Domain     string     `gorm:"type:varchar(191);not null;index:ux_license_domains_license_domain,unique,priority:2" json:"domain"`
	Status     string     `gorm:"type:varchar(20);not null;default:'active';index:idx_license_domains_license_status,priority:2" json:"status"`
	AddedAt    time.Time  `gorm:"type:timestamp;not null" json:"added_at"`
	LastUsedAt *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the domain counts against the license's limit.
func (d *LicenseDomain) IsActive() bool {
	return d.Status == DOMAIN_STATUS_ACTIVE
}
