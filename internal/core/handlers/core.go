package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/core"
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/shared/response"
)

type ContributeRequest struct {
	Energy  int64 `json:"energy"`
	Water   int64 `json:"water"`
	Biomass int64 `json:"biomass"`
}

type CoreHandler struct {
	service *core.Service
}

func NewCoreHandler(service *core.Service) *CoreHandler {
	return &CoreHandler{service: service}
}

func (h *CoreHandler) State(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "get_core")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	view, err := h.service.GetState(r.Context())
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, view)
}

func (h *CoreHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "contribute")

	actor, ok := postWithIdentity(w, r, logger)
	if !ok {
		return
	}

	var req ContributeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, logger, errors.WrapValidation("invalid JSON in request body", err))
		return
	}

	result, err := h.service.Contribute(r.Context(), actor, rules.Resources{
		Energy:  req.Energy,
		Water:   req.Water,
		Biomass: req.Biomass,
	})
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, result)
}

func (h *CoreHandler) Activate(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "activate_core")

	actor, ok := postWithIdentity(w, r, logger)
	if !ok {
		return
	}

	result, err := h.service.Activate(r.Context(), actor)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, result)
}

func (h *CoreHandler) RequestRestart(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "request_restart")

	actor, ok := postWithIdentity(w, r, logger)
	if !ok {
		return
	}

	state, err := h.service.RequestRestart(r.Context(), actor)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, state)
}

func (h *CoreHandler) AcceptRestart(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "accept_restart")

	actor, ok := postWithIdentity(w, r, logger)
	if !ok {
		return
	}

	result, err := h.service.AcceptRestart(r.Context(), actor)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, result)
}

func postWithIdentity(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (auth.Identity, bool) {
	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return auth.Identity{}, false
	}

	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, r, logger, errors.Unauthorized("authentication required"))
		return auth.Identity{}, false
	}
	return actor, true
}
