package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenManager signs and verifies HS256 identity tokens. Issuing is only used
// by tests and dev tooling; production tokens come from the login service
// sharing the same secret.
type TokenManager struct {
	secret     []byte
	expiration time.Duration
}

func NewTokenManager(secret string, expiration time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters long")
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), expiration: expiration}, nil
}

func (m *TokenManager) Generate(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   fmt.Sprintf("user_%d", id.UserID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}
