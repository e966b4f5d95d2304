package repository

import (
	"os"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/database"
)

// openTestDB connects to LICENSEFOX_TEST_DSN and wipes the license tables.
// Tests skip when no test database is configured or reachable.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("LICENSEFOX_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL-dependent test: LICENSEFOX_TEST_DSN not set")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		t.Skipf("Skipping MySQL-dependent test: database not reachable")
	}

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	for _, table := range []string{"license_verification_logs", "license_domains", "licenses", "products", "settings"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("failed to clean %s: %v", table, err)
		}
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
