package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/island"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/shared/response"
)

const maxBodyBytes = 1 << 16

type PositionRequest struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (p PositionRequest) validate() (int, int, error) {
	if p.X == nil || p.Y == nil {
		return 0, 0, errors.Validation("x and y are required")
	}
	return *p.X, *p.Y, nil
}

type BuildRequest struct {
	PositionRequest
	Type string `json:"type"`
}

type MultiplierRequest struct {
	Multiplier int `json:"multiplier"`
}

type IslandHandler struct {
	service *island.Service
}

func NewIslandHandler(service *island.Service) *IslandHandler {
	return &IslandHandler{service: service}
}

// Me returns the caller's island, reconciled to now.
func (h *IslandHandler) Me(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "get_my_island")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	actor, ok := identity(w, r, logger)
	if !ok {
		return
	}

	view, err := h.service.GetIslandForUser(r.Context(), actor)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, view)
}

func (h *IslandHandler) Create(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "create_island")

	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	actor, ok := identity(w, r, logger)
	if !ok {
		return
	}

	isl, err := h.service.CreateIsland(r.Context(), actor)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusCreated, isl)
}

func (h *IslandHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "get_island")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	islandID, err := islandIDFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	view, err := h.service.GetIsland(r.Context(), islandID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, view)
}

func (h *IslandHandler) Build(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "build")

	actor, islandID, ok := h.mutationPreamble(w, r, logger)
	if !ok {
		return
	}

	var req BuildRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, r, logger, err)
		return
	}
	x, y, err := req.validate()
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	if req.Type == "" {
		response.Error(w, r, logger, errors.Validation("building type is required"))
		return
	}

	result, err := h.service.Build(r.Context(), actor, islandID, x, y, req.Type)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusCreated, result)
}

func (h *IslandHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "upgrade")

	actor, islandID, ok := h.mutationPreamble(w, r, logger)
	if !ok {
		return
	}

	var req PositionRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, r, logger, err)
		return
	}
	x, y, err := req.validate()
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	result, err := h.service.Upgrade(r.Context(), actor, islandID, x, y)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, result)
}

func (h *IslandHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "destroy")

	actor, islandID, ok := h.mutationPreamble(w, r, logger)
	if !ok {
		return
	}

	var req PositionRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, r, logger, err)
		return
	}
	x, y, err := req.validate()
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	result, err := h.service.Destroy(r.Context(), actor, islandID, x, y)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, result)
}

func (h *IslandHandler) SetMultiplier(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "set_time_multiplier")

	actor, islandID, ok := h.mutationPreamble(w, r, logger)
	if !ok {
		return
	}

	var req MultiplierRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, r, logger, err)
		return
	}

	view, err := h.service.SetTimeMultiplier(r.Context(), actor, islandID, req.Multiplier)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, view)
}

func (h *IslandHandler) World(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "world")

	if r.Method != http.MethodGet {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return
	}

	islands, err := h.service.ListWorld(r.Context())
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, islands)
}

func (h *IslandHandler) mutationPreamble(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (auth.Identity, int64, bool) {
	if r.Method != http.MethodPost {
		response.Error(w, r, logger, errors.MethodNotAllowed(r.Method))
		return auth.Identity{}, 0, false
	}

	actor, ok := identity(w, r, logger)
	if !ok {
		return auth.Identity{}, 0, false
	}

	islandID, err := islandIDFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return auth.Identity{}, 0, false
	}

	return actor, islandID, true
}

func identity(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (auth.Identity, bool) {
	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, r, logger, errors.Unauthorized("authentication required"))
		return auth.Identity{}, false
	}
	return actor, true
}

func islandIDFromPath(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	if raw == "" {
		return 0, errors.Validation("island ID is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validationf("invalid island ID %q", raw)
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.WrapValidation("invalid JSON in request body", err)
	}
	return nil
}
