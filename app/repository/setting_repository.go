package repository

import (
	"errors"

	"github.com/ManuelReschke/LicenseFox/app/models"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// settingRepository implements the SettingRepository interface
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository instance
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// GetValue retrieves a specific setting value by key
func (r *settingRepository) GetValue(key string) (string, error) {
	var setting models.Setting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil // Return empty string for non-existent settings
		}
		return "", err
	}
	return setting.Value, nil
}

// SetValue sets a specific setting value by key
func (r *settingRepository) SetValue(key, value string) error {
	var setting models.Setting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting = models.Setting{
			Key:   key,
			Value: value,
			Type:  models.GetSettingType(key),
		}
		createErr := r.db.Create(&setting).Error
		if createErr == nil || !IsDuplicateKey(createErr) {
			return createErr
		}
		// lost the insert race, fall through to update
	} else if err != nil {
		return err
	}

	return r.db.Model(&models.Setting{}).Where("setting_key = ?", key).Update("value", value).Error
}

// IsDuplicateKey reports unique constraint violations, whether or not gorm
// translated the driver error.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
