package auth

import (
	"context"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestNewTokenManagerRejectsWeakSecrets(t *testing.T) {
	if _, err := NewTokenManager("", time.Hour); err == nil {
		t.Fatalf("empty secret accepted")
	}
	if _, err := NewTokenManager("short", time.Hour); err == nil {
		t.Fatalf("short secret accepted")
	}
}

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewTokenManager(secret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	token, err := m.Generate(Identity{UserID: 42, Username: "ana"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := claims.Identity(); got != (Identity{UserID: 42, Username: "ana"}) {
		t.Fatalf("identity = %+v", got)
	}

	other, _ := NewTokenManager(secret+"x", time.Hour)
	if _, err := other.Validate(token); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}
}

func TestValidateRejectsMissingUser(t *testing.T) {
	m, _ := NewTokenManager(secret, time.Hour)
	token, _ := m.Generate(Identity{Username: "ghost"})
	if _, err := m.Validate(token); err == nil {
		t.Fatalf("token without user id accepted")
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Fatalf("identity found in empty context")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: 7, Username: "bea"})
	if id, ok := IdentityFrom(ctx); !ok || id.UserID != 7 {
		t.Fatalf("identity = %+v, %v", id, ok)
	}
}
