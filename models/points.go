package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CategoryGame     = "game"
	CategoryAds      = "ads"
	CategoryReferral = "referral"
	CategoryDaily    = "daily"
	CategoryAdmin    = "admin"
)

// PointsAccount is the running balance of one user. Only the ledger writes it.
type PointsAccount struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance        int64     `gorm:"not null" json:"balance"`
	LifetimeEarned int64     `gorm:"not null" json:"lifetime_earned"`
	TotalSpent     int64     `gorm:"not null" json:"total_spent"`
	GamePoints     int64     `gorm:"not null" json:"game_points"`
	AdsPoints      int64     `gorm:"not null" json:"ads_points"`
	ReferralPoints int64     `gorm:"not null" json:"referral_points"`
	DailyPoints    int64     `gorm:"not null" json:"daily_points"`
	AdminPoints    int64     `gorm:"not null" json:"admin_points"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *PointsAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// CategoryColumn returns the subtotal column for category, or "" when the
// category has no dedicated subtotal.
func CategoryColumn(category string) string {
	switch category {
	case CategoryGame:
		return "game_points"
	case CategoryAds:
		return "ads_points"
	case CategoryReferral:
		return "referral_points"
	case CategoryDaily:
		return "daily_points"
	case CategoryAdmin:
		return "admin_points"
	}
	return ""
}

// PointsTransaction is an immutable ledger entry. Amount is signed.
type PointsTransaction struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID         `gorm:"type:uuid;not null;index;uniqueIndex:idx_points_tx_idempotency,priority:1" json:"user_id"`
	Amount         int64             `gorm:"not null" json:"amount"`
	Type           string            `gorm:"not null;index" json:"type"` // earned_<category> or spent_<kind>
	Action         string            `gorm:"index" json:"action,omitempty"`
	Reason         string            `json:"reason"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	IdempotencyKey *string           `gorm:"uniqueIndex:idx_points_tx_idempotency,priority:2" json:"idempotency_key,omitempty"`
	BalanceAfter   int64             `gorm:"not null" json:"balance_after"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
}

func (t *PointsTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// DailyUsage counts uses of one feature by one user on one UTC day.
type DailyUsage struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_daily_usage_key,priority:1" json:"user_id"`
	Feature    string            `gorm:"not null;uniqueIndex:idx_daily_usage_key,priority:2" json:"feature"`
	UsageDate  string            `gorm:"type:varchar(10);not null;index;uniqueIndex:idx_daily_usage_key,priority:3" json:"usage_date"`
	UsageCount int               `gorm:"not null" json:"usage_count"`
	LastUsedAt time.Time         `json:"last_used_at"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (d *DailyUsage) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
