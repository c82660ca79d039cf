// Package testutil opens throwaway sqlite databases with the production
// schema and seeds the rows most tests need.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"rewards-backend/database"
	"rewards-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB returns an isolated in-memory database migrated with database.Migrate.
// It holds a single connection, so concurrent transactions serialize.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// TxOptions are generous enough for a goroutine to wait its turn on the
// single test connection.
func TxOptions() database.TxOptions {
	return database.TxOptions{Timeout: 10 * time.Second, MaxRetries: 2}
}

func SeedUser(t testing.TB, db *gorm.DB, email, role string) models.User {
	t.Helper()
	u := models.User{Email: email, Name: "Test User", Role: role}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedBalance writes an account and a matching opening transaction so the
// ledger invariant holds from the start.
func SeedBalance(t testing.TB, db *gorm.DB, userID uuid.UUID, balance int64) {
	t.Helper()
	acct := models.PointsAccount{UserID: userID, Balance: balance, LifetimeEarned: balance, AdminPoints: balance}
	if err := db.Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if balance == 0 {
		return
	}
	tx := models.PointsTransaction{
		UserID:       userID,
		Amount:       balance,
		Type:         "earned_" + models.CategoryAdmin,
		Action:       "admin_grant",
		Reason:       "opening balance",
		BalanceAfter: balance,
	}
	if err := db.Create(&tx).Error; err != nil {
		t.Fatalf("seed opening transaction: %v", err)
	}
}

type ProductOpt func(*models.Product)

func Digital(days int) ProductOpt {
	return func(p *models.Product) {
		p.Category = models.ProductDigital
		p.ValidityDays = days
	}
}

func PremiumOnly() ProductOpt { return func(p *models.Product) { p.PremiumOnly = true } }

func OneTime() ProductOpt { return func(p *models.Product) { p.OneTimeRedeemable = true } }

func Inactive() ProductOpt { return func(p *models.Product) { p.Active = false } }

func SeedProduct(t testing.TB, db *gorm.DB, name string, cost int64, stock int, opts ...ProductOpt) models.Product {
	t.Helper()
	p := models.Product{
		Name:        name,
		PointsCost:  cost,
		Stock:       stock,
		Category:    models.ProductPhysical,
		ProductType: models.ProductTypeMarketplace,
		Active:      true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func SeedCartItem(t testing.TB, db *gorm.DB, userID uuid.UUID, p models.Product, qty int) models.CartItem {
	t.Helper()
	item := models.CartItem{
		UserID:      userID,
		ProductID:   p.ID,
		ProductType: p.ProductType,
		Quantity:    qty,
		UnitPrice:   decimal.NewFromInt(p.PointsCost),
		Currency:    models.CurrencyPoints,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed cart item: %v", err)
	}
	return item
}

func SeedCoupon(t testing.TB, db *gorm.DB, code string, benefit models.BenefitType, value int64, maxUses int) models.Coupon {
	t.Helper()
	c := models.Coupon{
		Code:            code,
		Title:           code,
		BenefitType:     benefit,
		BenefitValue:    decimal.NewFromInt(value),
		MaxUsesPerCycle: maxUses,
		Active:          true,
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	return c
}

// Clock is a settable time source for services that take a now func.
type Clock struct{ T time.Time }

func NewClock(t time.Time) *Clock { return &Clock{T: t.UTC()} }

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
