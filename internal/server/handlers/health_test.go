package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

var (
	up   = pingerFunc(func(context.Context) error { return nil })
	down = pingerFunc(func(context.Context) error { return errors.New("refused") })
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name         string
		db           Pinger
		redis        Pinger
		wantStatus   string
		wantDatabase string
		wantRedis    string
	}{
		{"memory backends", nil, nil, "healthy", "not_configured", "not_configured"},
		{"database up", up, nil, "healthy", "connected", "not_configured"},
		{"database down", down, nil, "degraded", "disconnected", "not_configured"},
		{"both up", up, up, "healthy", "connected", "connected"},
		{"redis down", up, down, "degraded", "connected", "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("postgres", tt.db, "redis", tt.redis)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/server/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status code = %d", rec.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus || resp.Database != tt.wantDatabase || resp.Redis != tt.wantRedis {
				t.Fatalf("response = %+v", resp)
			}
			if resp.Storage != "postgres" || resp.Presence != "redis" {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}
