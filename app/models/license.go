package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	LICENSE_STATUS_ACTIVE    = "active"
	LICENSE_STATUS_INACTIVE  = "inactive"
	LICENSE_STATUS_SUSPENDED = "suspended"
	LICENSE_STATUS_EXPIRED   = "expired"
)

const (
	LICENSE_TYPE_REGULAR   = "regular"
	LICENSE_TYPE_EXTENDED  = "extended"
	LICENSE_TYPE_SINGLE    = "single"
	LICENSE_TYPE_MULTI     = "multi"
	LICENSE_TYPE_DEVELOPER = "developer"
)

const (
	LICENSE_SOURCE_ENVATO = "envato"
	LICENSE_SOURCE_DIRECT = "direct"
)

type License struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ProductID        uint           `gorm:"not null;index:ux_licenses_purchase_code_product,unique,priority:2" json:"product_id"`
	Product          *Product       `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	PurchaseCode     string         `gorm:"type:varchar(191);not null;index:ux_licenses_purchase_code_product,unique,priority:1" json:"-" validate:"required,min=10,max=191"`
	LicenseKey       string         `gorm:"type:varchar(191);not null;index" json:"-" validate:"required,max=191"`
	LicenseType      string         `gorm:"type:varchar(20);not null;default:'single'" json:"license_type" validate:"oneof=regular extended single multi developer"`
	Status           string         `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active inactive suspended expired"`
	MaxDomains       int            `gorm:"not null;default:1" json:"max_domains" validate:"gte=0"`
	Source           string         `gorm:"type:varchar(20);not null;default:'direct'" json:"source"`
	BuyerName        string         `gorm:"type:varchar(200);default:''" json:"buyer_name"`
	BuyerEmail       string         `gorm:"type:varchar(200);default:''" json:"-"`
	SupportExpiresAt *time.Time     `gorm:"type:timestamp;default:null" json:"support_expires_at,omitempty"`
	LicenseExpiresAt *time.Time     `gorm:"type:timestamp;default:null;index" json:"license_expires_at,omitempty"`
	VerifiedAt       *time.Time     `gorm:"type:timestamp;default:null" json:"verified_at,omitempty"`
	VerifyCount      int64          `gorm:"not null;default:0" json:"verify_count"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (l *License) Validate() error {
	v := validator.New()

	return v.Struct(l)
}

// IsUsable reports whether the license may be used at time now: it must be
// active and not past its license expiry.
func (l *License) IsUsable(now time.Time) bool {
	if l.Status != LICENSE_STATUS_ACTIVE {
		return false
	}
	return !l.IsExpired(now)
}

// IsExpired reports whether a license expiry is set and already passed.
func (l *License) IsExpired(now time.Time) bool {
	return l.LicenseExpiresAt != nil && !l.LicenseExpiresAt.After(now)
}

// EffectiveMaxDomains returns MaxDomains, or the license type default when unset.
func (l *License) EffectiveMaxDomains() int {
	if l.MaxDomains > 0 {
		return l.MaxDomains
	}
	return DefaultMaxDomains(l.LicenseType)
}

// DefaultMaxDomains maps a license type to its domain allowance.
func DefaultMaxDomains(licenseType string) int {
	switch strings.ToLower(strings.TrimSpace(licenseType)) {
	case LICENSE_TYPE_SINGLE:
		return 1
	case LICENSE_TYPE_MULTI:
		return 5
	case LICENSE_TYPE_DEVELOPER:
		return 10
	case LICENSE_TYPE_EXTENDED:
		return 3
	default:
		return 1
	}
}

// GenerateLicenseKey returns a key in the XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX shape.
func GenerateLicenseKey() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	raw := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return raw[0:8] + "-" + raw[8:16] + "-" + raw[16:24] + "-" + raw[24:32], nil
}

// IsValidLicenseStatus reports whether s is one of the known license states.
func IsValidLicenseStatus(s string) bool {
	switch s {
	case LICENSE_STATUS_ACTIVE, LICENSE_STATUS_INACTIVE, LICENSE_STATUS_SUSPENDED, LICENSE_STATUS_EXPIRED:
		return true
	default:
		return false
	}
}
