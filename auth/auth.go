// Package auth carries the caller identity handed to the rewards core by the
// external auth layer. Nothing here authenticates.
package auth

import (
	"time"

	"github.com/google/uuid"
)

const RoleAdmin = "admin"

type Context struct {
	UserID          uuid.UUID
	Role            string
	IsPremiumActive bool
	PremiumExpiry   *time.Time
}

func (c Context) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// HasPremium reports whether the caller's premium entitlement is in force at now.
func (c Context) HasPremium(now time.Time) bool {
	if !c.IsPremiumActive {
		return false
	}
	return c.PremiumExpiry == nil || now.Before(*c.PremiumExpiry)
}
