package handlers

import (
	"log/slog"
	"net/http"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/shared/response"
)

type ActiveUsersResponse struct {
	Users []presence.User `json:"users"`
	Count int             `json:"count"`
}

type PresenceHandler struct {
	tracker presence.Tracker
}

func NewPresenceHandler(tracker presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// Ping records a heartbeat for the caller.
func (h *PresenceHandler) Ping(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "presence_ping")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, r, logger, errors.Unauthorized("authentication required"))
		return
	}

	if err := h.tracker.Touch(r.Context(), presence.User{UserID: id.UserID, Username: id.Username}); err != nil {
		response.Error(w, r, logger, errors.WrapStorage("failed to record presence", err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PresenceHandler) List(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "presence_list")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	users, err := h.tracker.ActiveUsers(r.Context())
	if err != nil {
		response.Error(w, r, logger, errors.WrapStorage("failed to load active users", err))
		return
	}

	response.Success(w, http.StatusOK, ActiveUsersResponse{Users: users, Count: len(users)})
}
