package models

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	SETTING_AUTO_REGISTER_DOMAINS = "license_auto_register_domains"
	SETTING_API_TOKEN_HASH        = "license_api_token_hash"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Setting) Validate() error {
	return validator.New().Struct(s)
}

// LicenseSettings holds the runtime-tunable license server settings.
type LicenseSettings struct {
	AutoRegisterDomains bool
	APITokenHash        string
	mu                  sync.RWMutex
}

// Global settings instance
var (
	licenseSettings = &LicenseSettings{}
	settingsMu      sync.RWMutex
)

// GetLicenseSettings returns the in-memory settings snapshot.
func GetLicenseSettings() *LicenseSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return licenseSettings
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	var settings []Setting
	if err := db.Where("setting_key IN ?", []string{SETTING_AUTO_REGISTER_DOMAINS, SETTING_API_TOKEN_HASH}).
		Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	loaded := &LicenseSettings{}
	for _, setting := range settings {
		switch setting.Key {
		case SETTING_AUTO_REGISTER_DOMAINS:
			loaded.AutoRegisterDomains, _ = strconv.ParseBool(strings.TrimSpace(setting.Value))
		case SETTING_API_TOKEN_HASH:
			loaded.APITokenHash = setting.Value
		}
	}

	settingsMu.Lock()
	licenseSettings = loaded
	settingsMu.Unlock()
	return nil
}

// SetLicenseSettings replaces the in-memory snapshot without touching the database.
func SetLicenseSettings(s *LicenseSettings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	licenseSettings = s
}

// IsAutoRegisterDomainsEnabled returns whether unknown domains are auto-registered.
func (s *LicenseSettings) IsAutoRegisterDomainsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AutoRegisterDomains
}

// GetAPITokenHash returns the bcrypt hash of the license API token.
func (s *LicenseSettings) GetAPITokenHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APITokenHash
}

// HashAPIToken returns a bcrypt hash suitable for SETTING_API_TOKEN_HASH.
func HashAPIToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(token)), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckAPIToken compares a presented token with a stored bcrypt hash.
func CheckAPIToken(token, hash string) bool {
	if strings.TrimSpace(token) == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(token))) == nil
}

// GetSettingType returns the stored type of a setting based on its key
func GetSettingType(key string) string {
	switch key {
	case SETTING_AUTO_REGISTER_DOMAINS:
		return "boolean"
	default:
		return "string"
	}
}
