package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller every game operation acts on behalf of.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Username: c.Username}
}

type contextKey string

const identityContextKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
