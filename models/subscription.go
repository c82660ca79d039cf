package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionActive         SubscriptionStatus = "active"
	SubscriptionCancelled      SubscriptionStatus = "cancelled"
	SubscriptionExpired        SubscriptionStatus = "expired"
)

// PremiumSubscription is a user's paid plan. At most one row per user may be
// active or pending_payment; database.Migrate installs the partial unique
// index that enforces it.
type PremiumSubscription struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	Plan          string             `gorm:"not null" json:"plan"`
	Status        SubscriptionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Price         decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"price"`
	PaymentMethod string             `json:"payment_method"`
	PaymentRef    string             `json:"payment_ref,omitempty"`
	StartDate     *time.Time         `json:"start_date,omitempty"`
	EndDate       *time.Time         `gorm:"index" json:"end_date,omitempty"`
	CurrentCycle  int                `json:"current_cycle"`
	CycleStart    *time.Time         `json:"cycle_start,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (s *PremiumSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SubscriptionPendingPayment
	}
	return nil
}
