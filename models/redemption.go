package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionConfirmed RedemptionStatus = "confirmed"
	RedemptionDelivered RedemptionStatus = "delivered"
)

type Redemption struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	ProductID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"product_id"`
	ProductName   string           `json:"product_name"` // snapshot at checkout
	ProductType   ProductType      `gorm:"type:varchar(20);not null" json:"product_type"`
	Category      ProductCategory  `gorm:"type:varchar(20);not null" json:"category"`
	Quantity      int              `gorm:"not null" json:"quantity"`
	PointsSpent   int64            `gorm:"not null" json:"points_spent"`
	TransactionID uuid.UUID        `gorm:"type:uuid;index" json:"transaction_id"`
	Status        RedemptionStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ClaimCode     *string          `gorm:"uniqueIndex" json:"claim_code,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
	ConfirmedBy   *uuid.UUID       `gorm:"type:uuid" json:"confirmed_by,omitempty"`
	DeliveredAt   *time.Time       `json:"delivered_at,omitempty"`
	DeliveredBy   *uuid.UUID       `gorm:"type:uuid" json:"delivered_by,omitempty"`
	OnceKey       *string          `gorm:"uniqueIndex" json:"-"` // user:product for one-time items
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (r *Redemption) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = RedemptionPending
	}
	return nil
}

// Expired reports whether a digital redemption code is past its expiry at now.
func (r Redemption) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// AllowedTransitions defines the forward-only redemption lifecycle.
var AllowedTransitions = map[RedemptionStatus][]RedemptionStatus{
	RedemptionPending:   {RedemptionConfirmed},
	RedemptionConfirmed: {RedemptionDelivered},
	RedemptionDelivered: {},
}

// DigitalShortcuts are the extra transitions digital items allow, such as a
// user confirming receipt before any staff confirmation.
var DigitalShortcuts = map[RedemptionStatus][]RedemptionStatus{
	RedemptionPending: {RedemptionDelivered},
}

var statusRank = map[RedemptionStatus]int{
	RedemptionPending:   0,
	RedemptionConfirmed: 1,
	RedemptionDelivered: 2,
}

// Reached reports whether status is already at or past target.
func (s RedemptionStatus) Reached(target RedemptionStatus) bool {
	return statusRank[s] >= statusRank[target]
}

// IsValidTransition checks if a status transition is allowed for an item of
// the given category.
func IsValidTransition(category ProductCategory, from, to RedemptionStatus) bool {
	if contains(AllowedTransitions[from], to) {
		return true
	}
	return category == ProductDigital && contains(DigitalShortcuts[from], to)
}

func contains(list []RedemptionStatus, s RedemptionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type AuditAction string

const (
	AuditConfirm AuditAction = "confirm"
	AuditDeliver AuditAction = "deliver"
	AuditScan    AuditAction = "scan"
	AuditReceive AuditAction = "receive"
)

type AuditOutcome string

const (
	OutcomeOK        AuditOutcome = "ok"
	OutcomeDuplicate AuditOutcome = "duplicate"
	OutcomeExpired   AuditOutcome = "expired"
	OutcomeInvalid   AuditOutcome = "invalid"
	OutcomeError     AuditOutcome = "error"
)

// RedemptionAudit is one append-only entry in a redemption's audit trail.
type RedemptionAudit struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	RedemptionID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_redemption_audit_seq,priority:1" json:"redemption_id"`
	Seq          int          `gorm:"not null;uniqueIndex:idx_redemption_audit_seq,priority:2" json:"seq"`
	Action       AuditAction  `gorm:"type:varchar(20);not null" json:"action"`
	ActorID      *uuid.UUID   `gorm:"type:uuid" json:"actor_id,omitempty"`
	Station      string       `json:"station,omitempty"`
	DeviceID     string       `json:"device_id,omitempty"`
	Outcome      AuditOutcome `gorm:"type:varchar(20);not null" json:"outcome"`
	Note         string       `json:"note,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (a *RedemptionAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
