package models

import "time"

const (
	VERIFICATION_STATUS_SUCCESS      = "success"
	VERIFICATION_STATUS_FAILED       = "failed"
	VERIFICATION_STATUS_RATE_LIMITED = "rate_limited"
)

// LicenseVerificationLog is a write-once audit record of one verification attempt.
type LicenseVerificationLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	LicenseID    *uint          `gorm:"index" json:"license_id,omitempty"`
	Source       string         `gorm:"type:varchar(32);not null;default:'api'" json:"source"`
	Domain       string         `gorm:"type:varchar(191);default:'';index" json:"domain"`
	IPAddress    string         `gorm:"type:varchar(45);default:'';index" json:"ip_address"`
	UserAgent    string         `gorm:"type:varchar(500);default:''" json:"user_agent"`
	Status       string         `gorm:"type:varchar(20);not null;index" json:"status"`
	Reason       string         `gorm:"type:varchar(50);default:''" json:"reason"`
	RequestData  map[string]any `gorm:"type:text;serializer:json" json:"request_data"`
	ResponseData map[string]any `gorm:"type:text;serializer:json" json:"response_data"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
