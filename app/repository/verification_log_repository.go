package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"gorm.io/gorm"
)

type verificationLogRepository struct {
	db *gorm.DB
}

// NewVerificationLogRepository creates a new verification log repository instance
func NewVerificationLogRepository(db *gorm.DB) VerificationLogRepository {
	return &verificationLogRepository{db: db}
}

func (r *verificationLogRepository) Create(ctx context.Context, entry *models.LicenseVerificationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *verificationLogRepository) Stats(ctx context.Context, since time.Time) (*models.VerificationStats, error) {
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.LicenseVerificationLog{}).Where("created_at >= ?", since)
	}

	var rows []struct {
		Status string
		Total  int64
	}
	if err := base().Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &models.VerificationStats{}
	for _, row := range rows {
		stats.TotalAttempts += row.Total
		switch row.Status {
		case models.VERIFICATION_STATUS_SUCCESS:
			stats.SuccessfulAttempts = row.Total
		case models.VERIFICATION_STATUS_FAILED:
			stats.FailedAttempts = row.Total
		case models.VERIFICATION_STATUS_RATE_LIMITED:
			stats.RateLimitedAttempts = row.Total
		}
	}

	if err := base().Distinct("domain").Where("domain <> ''").Count(&stats.UniqueDomains).Error; err != nil {
		return nil, err
	}
	if err := base().Distinct("ip_address").Count(&stats.UniqueIPs).Error; err != nil {
		return nil, err
	}

	stats.Daily = []models.DailyStats{}
	if err := base().
		Select("DATE_FORMAT(created_at, '%Y-%m-%d') AS date, COUNT(*) AS count").
		Group("date").
		Order("date").
		Scan(&stats.Daily).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *verificationLogRepository) SuspiciousIPs(ctx context.Context, since time.Time, minAttempts int) ([]models.SuspiciousIP, error) {
	var result []models.SuspiciousIP
	err := r.db.WithContext(ctx).Model(&models.LicenseVerificationLog{}).
		Select("ip_address, COUNT(*) AS attempt_count, MAX(created_at) AS last_attempt").
		Where("status = ? AND created_at >= ?", models.VERIFICATION_STATUS_FAILED, since).
		Group("ip_address").
		Having("COUNT(*) >= ?", minAttempts).
		Order("attempt_count DESC").
		Scan(&result).Error
	return result, err
}
