package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BenefitType string

const (
	BenefitDiscountPercentage BenefitType = "discount_percentage"
	BenefitDiscountFixed      BenefitType = "discount_fixed"
	BenefitFreeTrip           BenefitType = "free_trip"
	BenefitPointsBonus        BenefitType = "points_bonus"
	BenefitCustom             BenefitType = "custom"
)

func (b BenefitType) Valid() bool {
	switch b {
	case BenefitDiscountPercentage, BenefitDiscountFixed, BenefitFreeTrip, BenefitPointsBonus, BenefitCustom:
		return true
	}
	return false
}

// Coupon is an admin-defined benefit template handed to premium subscribers
// once per billing cycle.
type Coupon struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Code            string          `gorm:"uniqueIndex;not null" json:"code"`
	Title           string          `gorm:"not null" json:"title"`
	Description     string          `json:"description"`
	BenefitType     BenefitType     `gorm:"type:varchar(30);not null" json:"benefit_type"`
	BenefitValue    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"benefit_value"`
	ValidFrom       *time.Time      `json:"valid_from,omitempty"`
	ValidUntil      *time.Time      `json:"valid_until,omitempty"`
	MaxUsesPerCycle int             `gorm:"not null" json:"max_uses_per_cycle"`
	TotalUses       int64           `gorm:"not null" json:"total_uses"`
	Active          bool            `gorm:"not null;index" json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (c *Coupon) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ValidAt reports whether the coupon template can be used at t.
func (c Coupon) ValidAt(t time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && t.After(*c.ValidUntil) {
		return false
	}
	return true
}

type CouponUsageStatus string

const (
	CouponAvailable CouponUsageStatus = "available"
	CouponUsed      CouponUsageStatus = "used"
	CouponExpired   CouponUsageStatus = "expired"
)

// CouponUsage binds a coupon to one user for one billing cycle.
type CouponUsage struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_coupon_usage_cycle,priority:1" json:"user_id"`
	CouponID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_coupon_usage_cycle,priority:2" json:"coupon_id"`
	CycleStart     time.Time         `gorm:"not null;uniqueIndex:idx_coupon_usage_cycle,priority:3" json:"cycle_start"`
	Coupon         *Coupon           `gorm:"foreignKey:CouponID" json:"coupon,omitempty"`
	SubscriptionID *uuid.UUID        `gorm:"type:uuid;index" json:"subscription_id,omitempty"`
	CycleNumber    int               `gorm:"not null" json:"cycle_number"`
	CycleEnd       time.Time         `gorm:"not null" json:"cycle_end"`
	Status         CouponUsageStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	UsageCount     int               `gorm:"not null" json:"usage_count"`
	MaxUsesInCycle int               `gorm:"not null" json:"max_uses_in_cycle"`
	UsedAt         *time.Time        `json:"used_at,omitempty"`
	WillResetOn    time.Time         `gorm:"not null;index" json:"will_reset_on"`
	ResetCount     int               `gorm:"not null" json:"reset_count"`
	UsageDetails   datatypes.JSONMap `json:"usage_details,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (u *CouponUsage) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = CouponAvailable
	}
	return nil
}
