package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

// Claims carries the caller's identity. UserID travels as the Crockford
// Base32 form of a SixID; Role is the platform role the token was minted
// for.
type Claims struct {
	UserID string      `json:"uid"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT mints a token for the given party. Used by the surrounding
// platform's auth service; kept here for tests and tooling.
func GenerateJWT(p models.Party, secret string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: p.ID.String(),
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT parses and verifies a token, returning the caller's party.
func ValidateJWT(tokenString, secret string) (models.Party, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return models.Party{}, err
	}
	if !token.Valid {
		return models.Party{}, fmt.Errorf("invalid token")
	}

	id, err := utils.ParseSixID(claims.UserID)
	if err != nil || id.IsZero() {
		return models.Party{}, fmt.Errorf("token carries no usable user id")
	}
	if claims.Role == "" {
		return models.Party{}, fmt.Errorf("token carries no role")
	}
	return models.Party{Role: claims.Role, ID: id}, nil
}
