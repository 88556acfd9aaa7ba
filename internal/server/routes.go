package server

import (
	"log/slog"
	"net/http"

	"github.com/orfeixyz/solara/internal/core"
	coreHandlers "github.com/orfeixyz/solara/internal/core/handlers"
	"github.com/orfeixyz/solara/internal/island"
	islandHandlers "github.com/orfeixyz/solara/internal/island/handlers"
	"github.com/orfeixyz/solara/internal/middleware"
	"github.com/orfeixyz/solara/internal/presence"
	presenceHandlers "github.com/orfeixyz/solara/internal/presence/handlers"
	"github.com/orfeixyz/solara/internal/realtime"
	serverHandlers "github.com/orfeixyz/solara/internal/server/handlers"
)

type Routes struct {
	health        *serverHandlers.HealthHandler
	islandService *island.Service
	coreService   *core.Service
	tracker       presence.Tracker
	hub           *realtime.Hub
	auth          *middleware.Auth
}

// NewRoutes takes a nil hub when realtime is disabled.
func NewRoutes(health *serverHandlers.HealthHandler, islandService *island.Service, coreService *core.Service, tracker presence.Tracker, hub *realtime.Hub, auth *middleware.Auth) *Routes {
	return &Routes{
		health:        health,
		islandService: islandService,
		coreService:   coreService,
		tracker:       tracker,
		hub:           hub,
		auth:          auth,
	}
}

func (r *Routes) Setup() *http.ServeMux {
	logger := slog.With("component", "routes", "operation", "setup")
	logger.Debug("Setting up application routes")

	mux := http.NewServeMux()

	islandHandler := islandHandlers.NewIslandHandler(r.islandService)
	coreHandler := coreHandlers.NewCoreHandler(r.coreService)
	presenceHandler := presenceHandlers.NewPresenceHandler(r.tracker)

	// Public endpoints
	mux.Handle("/api/server/health", r.health)
	mux.HandleFunc("/api/world", islandHandler.World)
	mux.HandleFunc("/api/core", coreHandler.State)

	// Protected endpoints (authenticated users)
	mux.Handle("/api/islands", r.auth.RequireFunc(islandHandler.Create))
	mux.Handle("/api/islands/me", r.auth.RequireFunc(islandHandler.Me))
	mux.Handle("/api/islands/{id}", r.auth.RequireFunc(islandHandler.Get))
	mux.Handle("/api/islands/{id}/build", r.auth.RequireFunc(islandHandler.Build))
	mux.Handle("/api/islands/{id}/upgrade", r.auth.RequireFunc(islandHandler.Upgrade))
	mux.Handle("/api/islands/{id}/destroy", r.auth.RequireFunc(islandHandler.Destroy))
	mux.Handle("/api/islands/{id}/multiplier", r.auth.RequireFunc(islandHandler.SetMultiplier))

	mux.Handle("/api/core/contribute", r.auth.RequireFunc(coreHandler.Contribute))
	mux.Handle("/api/core/activate", r.auth.RequireFunc(coreHandler.Activate))
	mux.Handle("/api/core/restart", r.auth.RequireFunc(coreHandler.RequestRestart))
	mux.Handle("/api/core/restart/accept", r.auth.RequireFunc(coreHandler.AcceptRestart))

	mux.Handle("/api/presence", r.auth.RequireFunc(presenceHandler.List))
	mux.Handle("/api/presence/ping", r.auth.RequireFunc(presenceHandler.Ping))

	if r.hub != nil {
		mux.Handle("/ws", r.auth.RequireFunc(r.hub.ServeWS))
	}

	logger.Info("Routes configured successfully",
		"public_endpoints", []string{"/api/server/health", "/api/world", "/api/core"},
		"island_endpoints", []string{"/api/islands", "/api/islands/me", "/api/islands/{id}", "/api/islands/{id}/build", "/api/islands/{id}/upgrade", "/api/islands/{id}/destroy", "/api/islands/{id}/multiplier"},
		"core_endpoints", []string{"/api/core/contribute", "/api/core/activate", "/api/core/restart", "/api/core/restart/accept"},
		"presence_endpoints", []string{"/api/presence", "/api/presence/ping"},
		"realtime", r.hub != nil,
	)

	return mux
}
