package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rewards-backend/auth"
	"rewards-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const authKey = "auth"

// PremiumSource reports a user's current premium entitlement. The token only
// carries a snapshot, so a live source takes precedence when configured.
type PremiumSource interface {
	Premium(ctx context.Context, userID uuid.UUID) (bool, *time.Time, error)
}

func AuthMiddleware(premium PremiumSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		ac := claims.AuthContext()
		if premium != nil {
			active, expiry, err := premium.Premium(c.Request.Context(), ac.UserID)
			if err != nil {
				// Fall back to the token snapshot.
				slog.Warn("premium lookup failed", "user_id", ac.UserID, "error", err)
			} else {
				ac.IsPremiumActive, ac.PremiumExpiry = active, expiry
			}
		}

		c.Set(authKey, ac)
		c.Set("user_id", ac.UserID)
		c.Set("user_role", ac.Role)
		c.Next()
	}
}

// CurrentAuth returns the identity set by AuthMiddleware.
func CurrentAuth(c *gin.Context) (auth.Context, bool) {
	v, ok := c.Get(authKey)
	if !ok {
		return auth.Context{}, false
	}
	ac, ok := v.(auth.Context)
	return ac, ok
}

func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("user_role")
		if !exists || role != auth.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// StaffMiddleware admits roles allowed to confirm and deliver redemptions.
func StaffMiddleware(roles ...string) gin.HandlerFunc {
	allowed := map[string]bool{auth.RoleAdmin: true}
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		role, _ := c.Get("user_role")
		if s, ok := role.(string); !ok || !allowed[s] {
			c.JSON(http.StatusForbidden, gin.H{"error": "Staff access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
