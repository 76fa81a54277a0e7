package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/quota"
	"github.com/gateward/gateward/internal/registry"
)

// QuotaHandler serves the daily usage ceiling checks and increments.
type QuotaHandler struct {
	tracker  *quota.Tracker
	registry *registry.Registry
	logger   *slog.Logger
}

// NewQuotaHandler creates a QuotaHandler.
func NewQuotaHandler(tracker *quota.Tracker, reg *registry.Registry, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{tracker: tracker, registry: reg, logger: logger}
}

// Check handles GET /api/v1/quota/{identity}. Admin identities are exempt
// from the ceiling and always report allowed.
func (h *QuotaHandler) Check(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	role, err := h.registry.Classify(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if role.IsAdmin() {
		writeJSON(w, http.StatusOK, model.QuotaStatus{Allowed: true, Remaining: -1})
		return
	}

	status, err := h.tracker.CheckLimit(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type incrementRequest struct {
	Amount int `json:"amount"`
}

type incrementResponse struct {
	Identity string `json:"identity"`
	Used     int    `json:"used"`
}

// Increment handles POST /api/v1/quota/{identity}/increment. Admin identities
// pass through without counting. A denied increment is a 429 carrying the
// current count.
func (h *QuotaHandler) Increment(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req incrementRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	role, err := h.registry.Classify(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if role.IsAdmin() {
		writeJSON(w, http.StatusOK, incrementResponse{Identity: identity, Used: 0})
		return
	}

	used, err := h.tracker.Increment(r.Context(), identity, req.Amount)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		writeJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
			Error: model.ErrorDetail{
				Code:    http.StatusTooManyRequests,
				Kind:    "quota_exceeded",
				Message: err.Error(),
			},
		})
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, incrementResponse{Identity: identity, Used: used})
}

type setLimitRequest struct {
	Ceiling int `json:"ceiling"` // 0 = unlimited
}

// SetLimit handles PUT /api/v1/quota/{identity}/limit.
func (h *QuotaHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req setLimitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Ceiling < 0 {
		writeError(w, h.logger, badRequest("ceiling must be non-negative"))
		return
	}

	if err := h.tracker.SetLimit(r.Context(), identity, req.Ceiling, actingAdmin(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}

	status, err := h.tracker.CheckLimit(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
