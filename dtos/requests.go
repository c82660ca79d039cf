package dtos

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// CodeActionRequest is sent by a staff scanner for a claim code.
type CodeActionRequest struct {
	Code     string `json:"code" binding:"required"`
	Station  string `json:"station"`
	DeviceID string `json:"device_id"`
}

// EarnPointsRequest credits a user-triggered action at its configured amount.
type EarnPointsRequest struct {
	ActionType     string         `json:"action_type" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type AdminAwardRequest struct {
	UserID         uuid.UUID      `json:"user_id" binding:"required"`
	ActionType     string         `json:"action_type" binding:"required"`
	Amount         int64          `json:"amount" binding:"required,gt=0"`
	Reason         string         `json:"reason" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type SubscribeRequest struct {
	Plan          string          `json:"plan" binding:"required"`
	PaymentMethod string          `json:"payment_method" binding:"required"`
	Price         decimal.Decimal `json:"price"`
}

// PaymentEventRequest is posted by the payment adapter once a charge settles.
type PaymentEventRequest struct {
	PaymentRef string `json:"payment_ref" binding:"required"`
}

type UseCouponRequest struct {
	Details map[string]any `json:"details"`
}

type CreateCouponRequest struct {
	Code            string          `json:"code" binding:"required,min=3,max=40"`
	Title           string          `json:"title" binding:"required"`
	Description     string          `json:"description"`
	BenefitType     string          `json:"benefit_type" binding:"required,oneof=discount_percentage discount_fixed free_trip points_bonus custom"`
	BenefitValue    decimal.Decimal `json:"benefit_value"`
	ValidFrom       *time.Time      `json:"valid_from"`
	ValidUntil      *time.Time      `json:"valid_until"`
	MaxUsesPerCycle int             `json:"max_uses_per_cycle" binding:"required,min=1"`
}

type CreateProductRequest struct {
	Name              string `json:"name" binding:"required"`
	PointsCost        int64  `json:"points_cost" binding:"required,gt=0"`
	Stock             int    `json:"stock" binding:"min=0"`
	Category          string `json:"category" binding:"omitempty,oneof=physical digital"`
	ProductType       string `json:"product_type" binding:"omitempty,oneof=marketplace microinsurance"`
	PremiumOnly       bool   `json:"premium_only"`
	OneTimeRedeemable bool   `json:"one_time_redeemable"`
	ValidityDays      int    `json:"validity_days" binding:"min=0"`
}
