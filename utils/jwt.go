package utils

import (
	"fmt"
	"os"
	"time"

	"rewards-backend/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "rewards-backend"

// Claims is what the upstream auth service signs for each caller. Premium
// fields are a snapshot taken at issue time.
type Claims struct {
	UserID        uuid.UUID  `json:"user_id"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	IsPremium     bool       `json:"is_premium,omitempty"`
	PremiumExpiry *time.Time `json:"premium_expiry,omitempty"`
	jwt.RegisteredClaims
}

// AuthContext converts the claims into the identity the core services take.
func (c *Claims) AuthContext() auth.Context {
	return auth.Context{
		UserID:          c.UserID,
		Role:            c.Role,
		IsPremiumActive: c.IsPremium,
		PremiumExpiry:   c.PremiumExpiry,
	}
}

func getJWTSecret() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		panic("FATAL: JWT_SECRET environment variable is not set. Refusing to start with an insecure configuration.")
	}
	return secret
}

// GenerateToken signs a two hour access token. premiumUntil is nil for users
// without a subscription.
func GenerateToken(userID uuid.UUID, email, role string, premiumUntil *time.Time) (string, error) {
	secret := getJWTSecret()

	claims := Claims{
		UserID:        userID,
		Email:         email,
		Role:          role,
		IsPremium:     premiumUntil != nil,
		PremiumExpiry: premiumUntil,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(tokenString string) (*Claims, error) {
	secret := getJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
