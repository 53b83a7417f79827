package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mirroros/public-api/internal/config"
	"github.com/mirroros/public-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(cfg *config.Config) error {
	var err error
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected")
	return nil
}

// Migrate runs AutoMigrate for all models and creates the reporting view.
func Migrate() error {
	if err := DB.AutoMigrate(
		&models.User{},
		&models.WhitelistEntry{},
		&models.UserSession{},
		&models.Subscription{},
		&models.PaymentEvent{},
		&models.PredictionRequest{},
		&models.PredictionVector{},
		&models.SystemLog{},
	); err != nil {
		return err
	}
	return createReportingView(DB)
}

// createReportingView maintains the user/subscription overview used by
// reporting queries. View DDL is Postgres-only; other dialects (tests) skip it.
func createReportingView(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.Exec(`
		CREATE OR REPLACE VIEW user_subscription_overview AS
		SELECT
			u.id AS user_id,
			u.email,
			u.tier AS user_tier,
			u.is_active,
			u.predictions_used_today,
			u.last_login_at,
			s.status AS subscription_status,
			s.tier AS subscription_tier,
			s.current_period_end
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id
	`).Error
}

func Ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
