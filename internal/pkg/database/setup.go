package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the shared database handle, nil before SetupDatabase ran.
func GetDB() *gorm.DB {
	return DB
}

// DSN builds the MySQL data source name from the environment.
func DSN() string {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

func SetupDatabase() {
	var err error
	dsn := DSN()

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,   // data source name
			DefaultStringSize:         256,   // default size for string fields
			DisableDatetimePrecision:  true,  // disable datetime precision, which not supported before MySQL 5.6
			DontSupportRenameIndex:    true,  // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
			DontSupportRenameColumn:   true,  // `change` when rename column, rename column not supported before MySQL 8, MariaDB
			SkipInitializeWithVersion: false, // auto configure based on currently MySQL version
		}), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			if migrateErr := AutoMigrate(DB); migrateErr != nil {
				log.Error().Err(migrateErr).Msg("auto migration failed")
			}
			if loadErr := models.LoadSettings(DB); loadErr != nil {
				log.Warn().Err(loadErr).Msg("could not load license settings")
			}
			return
		}

		log.Warn().Err(err).Msgf("Failed to connect to database (try %d/%d)", i+1, maxRetries)
		if i < maxRetries-1 {
			log.Info().Msgf("Retry in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// AutoMigrate keeps the schema in sync for development setups; production
// schemas are managed by cmd/migrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.License{},
		&models.LicenseDomain{},
		&models.LicenseVerificationLog{},
		&models.Setting{},
	)
}
