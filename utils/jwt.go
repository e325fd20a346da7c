package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const developmentSecret = "TestSecretKeyAUTH1945"

var jwtSecret = []byte(developmentSecret)

// ErrMissingJWTSecret is returned by SetJWTSecret when production mode has no secret configured.
var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set in release mode")

// SetJWTSecret replaces the signing key; main calls it once with the configured secret. With
// strict set (release mode) an empty secret is refused rather than falling back to the built-in
// development key.
func SetJWTSecret(secret string, strict bool) error {
	if secret == "" {
		if strict {
			return ErrMissingJWTSecret
		}
		InfoLogger.Warn("JWT_SECRET not set, using development secret")
		jwtSecret = []byte(developmentSecret)
		return nil
	}
	jwtSecret = []byte(secret)
	return nil
}

// CustomClaims identifies a staff member. RestaurantID is empty for platform-wide consoles.
type CustomClaims struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken issues a staff token. Staff login lives outside this service; this is used by
// tooling and tests.
func GenerateToken(userID, role, restaurantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:       userID,
		Role:         role,
		RestaurantID: restaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "RestaurantWebApp",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ParseToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})

	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, errors.New("invalid user ID in token")
	}

	return claims, nil
}
