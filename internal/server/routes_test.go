package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/core"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/island"
	"github.com/orfeixyz/solara/internal/middleware"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/rules"
	serverHandlers "github.com/orfeixyz/solara/internal/server/handlers"
	"github.com/orfeixyz/solara/internal/shared/logger"
	"github.com/orfeixyz/solara/internal/shared/response"
	"github.com/orfeixyz/solara/internal/storage/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	mux    *http.ServeMux
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	table, err := rules.Default()
	if err != nil {
		t.Fatalf("rules.Default: %v", err)
	}
	tokens, err := auth.NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	store := memory.NewStore(nil)
	emitter := &events.Recorder{}
	tracker := presence.NewMemoryTracker(time.Minute, nil)
	goals := rules.Resources{Energy: 1200, Water: 800, Biomass: 1000}

	islands := island.NewService(store, table, emitter, island.Config{
		TickInterval:    time.Hour,
		MaxCatchupTicks: 240,
		Starting:        rules.Resources{Energy: 200, Water: 200, Biomass: 200},
		AlphaGoal:       goals,
		MinEfficiency:   90,
	}, logger.Discard())
	coreService := core.NewService(store, islands, tracker, emitter, core.Config{
		Goals:                  goals,
		RequireIslandReadiness: true,
		MinEfficiency:          90,
		ContributionHistory:    10,
	}, logger.Discard())
	if err := coreService.Bootstrap(t.Context()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	health := serverHandlers.NewHealthHandler("memory", nil, "memory", nil)
	routes := NewRoutes(health, islands, coreService, tracker, nil, middleware.NewAuth(tokens, false))
	return &testServer{mux: routes.Setup(), tokens: tokens}
}

func (s *testServer) do(t *testing.T, user *auth.Identity, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != nil {
		token, err := s.tokens.Generate(*user)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

var (
	ana = &auth.Identity{UserID: 1, Username: "ana"}
	bea = &auth.Identity{UserID: 2, Username: "bea"}
)

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, nil, http.MethodPost, "/api/islands", "")
	expectStatus(t, rec, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/api/islands/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
	if msg := decodeBody[response.ErrorResponse](t, rec).Message; msg != "invalid token" {
		t.Fatalf("message = %q", msg)
	}
}

func TestIslandLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, ana, http.MethodPost, "/api/islands", "")
	expectStatus(t, rec, http.StatusCreated)
	created := decodeBody[struct {
		ID int64 `json:"id"`
	}](t, rec)

	rec = s.do(t, ana, http.MethodGet, "/api/islands/me", "")
	expectStatus(t, rec, http.StatusOK)
	view := decodeBody[island.IslandView](t, rec)
	if view.Island.ID != created.ID || view.Island.Resources.Energy != 200 {
		t.Fatalf("view = %+v", view.Island)
	}

	buildPath := fmt.Sprintf("/api/islands/%d/build", created.ID)
	rec = s.do(t, ana, http.MethodPost, buildPath, `{"x":0,"y":0,"type":"centro_solar"}`)
	expectStatus(t, rec, http.StatusCreated)
	result := decodeBody[island.MutationResult](t, rec)
	if result.Building == nil || result.Building.Type != rules.SolarCenter {
		t.Fatalf("building = %+v", result.Building)
	}
	if result.Island.Resources != (rules.Resources{Energy: 90, Water: 145, Biomass: 130}) {
		t.Fatalf("resources after build = %+v", result.Island.Resources)
	}

	rec = s.do(t, ana, http.MethodPost, buildPath, `{"x":0,"y":0,"type":"solar_center"}`)
	expectStatus(t, rec, http.StatusConflict)

	rec = s.do(t, ana, http.MethodPost, buildPath, `{"x":1,"type":"solar_center"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, ana, http.MethodPost, buildPath, `{"x":1,`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, ana, http.MethodGet, buildPath, "")
	expectStatus(t, rec, http.StatusMethodNotAllowed)

	rec = s.do(t, bea, http.MethodPost, buildPath, `{"x":1,"y":0,"type":"solar_center"}`)
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, ana, http.MethodPost, "/api/islands/abc/build", `{"x":1,"y":0,"type":"solar_center"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, ana, http.MethodGet, "/api/islands/999", "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = s.do(t, ana, http.MethodPost, fmt.Sprintf("/api/islands/%d/multiplier", created.ID), `{"multiplier":3}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, nil, http.MethodGet, "/api/world", "")
	expectStatus(t, rec, http.StatusOK)
}

func TestCoreRoutes(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, ana, http.MethodPost, "/api/islands", ""), http.StatusCreated)

	rec := s.do(t, ana, http.MethodPost, "/api/core/contribute", `{"energy":10,"water":0,"biomass":5}`)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, ana, http.MethodPost, "/api/core/contribute", `{"energy":0}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, ana, http.MethodPost, "/api/core/contribute", `{"energy":5000}`)
	expectStatus(t, rec, http.StatusConflict)
	errBody := decodeBody[response.ErrorResponse](t, rec)
	if errBody.Error != "conflict" || errBody.Details == nil {
		t.Fatalf("error body = %+v", errBody)
	}

	rec = s.do(t, nil, http.MethodGet, "/api/core", "")
	expectStatus(t, rec, http.StatusOK)
	state := decodeBody[core.StateView](t, rec)
	if state.Core.Totals != (rules.Resources{Energy: 10, Biomass: 5}) || len(state.Contributions) != 1 {
		t.Fatalf("state = %+v", state)
	}

	rec = s.do(t, ana, http.MethodPost, "/api/core/activate", "")
	expectStatus(t, rec, http.StatusConflict)

	rec = s.do(t, ana, http.MethodPost, "/api/core/restart", "")
	expectStatus(t, rec, http.StatusConflict)
}

func TestPresenceRoutes(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s.do(t, ana, http.MethodPost, "/api/presence/ping", ""), http.StatusNoContent)
	expectStatus(t, s.do(t, bea, http.MethodPost, "/api/presence/ping", ""), http.StatusNoContent)

	rec := s.do(t, ana, http.MethodGet, "/api/presence", "")
	expectStatus(t, rec, http.StatusOK)
	body := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
}
