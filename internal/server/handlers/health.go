package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/orfeixyz/solara/internal/shared/response"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Storage   string `json:"storage"`
	Database  string `json:"database"`
	Presence  string `json:"presence"`
	Redis     string `json:"redis"`
}

// Pinger is satisfied by *database.DB and *redis.Client.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	storage  string
	db       Pinger
	presence string
	redis    Pinger
}

// NewHealthHandler takes a nil db when the world lives in memory and a nil
// rdb when presence does.
func NewHealthHandler(storage string, db Pinger, presence string, rdb Pinger) *HealthHandler {
	return &HealthHandler{storage: storage, db: db, presence: presence, redis: rdb}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "health")

	dbStatus := ping(r.Context(), h.db, logger.With("backend", "database"))
	redisStatus := ping(r.Context(), h.redis, logger.With("backend", "redis"))

	status := "healthy"
	if dbStatus == "disconnected" || redisStatus == "disconnected" {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
		Storage:   h.storage,
		Database:  dbStatus,
		Presence:  h.presence,
		Redis:     redisStatus,
	}

	response.Success(w, http.StatusOK, resp)
}

func ping(ctx context.Context, p Pinger, logger *slog.Logger) string {
	if p == nil {
		return "not_configured"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.PingContext(ctx); err != nil {
		logger.Warn("Health ping failed", "error", err)
		return "disconnected"
	}
	return "connected"
}
