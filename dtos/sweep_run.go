package dtos

import (
	"time"

	"github.com/google/uuid"
)

// SweepRun reports one pass of a scheduled maintenance job
type SweepRun struct {
	ID          uuid.UUID    `json:"id"`
	Job         string       `json:"job"`    // coupon_reset, subscription_expiry
	Status      string       `json:"status"` // running, completed, failed
	Total       int          `json:"total"`
	Processed   int          `json:"processed"`
	Reset       int          `json:"reset"`
	Expired     int          `json:"expired"`
	Failed      int          `json:"failed"`
	Errors      []SweepError `json:"errors"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at"`
}

// SweepError records a row the sweep could not process
type SweepError struct {
	ID      uuid.UUID `json:"id"`
	Message string    `json:"message"`
}

const (
	SweepStatusRunning   = "running"
	SweepStatusCompleted = "completed"
	SweepStatusFailed    = "failed"
)

const (
	JobCouponReset        = "coupon_reset"
	JobSubscriptionExpiry = "subscription_expiry"
)
