package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"rewards-backend/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormConfig is shared by production and test connections so both surface
// unique violations as gorm.ErrDuplicatedKey and stamp times in UTC.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: logger.New(log.New(os.Stderr, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Models lists every table owned or read by the rewards core.
func Models() []any {
	return []any{
		&models.User{},
		&models.PointsAccount{},
		&models.PointsTransaction{},
		&models.DailyUsage{},
		&models.Product{},
		&models.CartItem{},
		&models.Redemption{},
		&models.RedemptionAudit{},
		&models.PremiumSubscription{},
		&models.Coupon{},
		&models.CouponUsage{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}

	// AutoMigrate cannot express partial indexes. Both postgres and sqlite
	// accept this form.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_subscription
		ON premium_subscriptions (user_id)
		WHERE status IN ('active', 'pending_payment')
	`).Error; err != nil {
		return fmt.Errorf("failed to create open subscription index: %w", err)
	}

	return nil
}
