package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/server/middleware"
)

// AccessHandler serves the registry's role lookups and transitions.
type AccessHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewAccessHandler creates an AccessHandler.
func NewAccessHandler(reg *registry.Registry, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{registry: reg, logger: logger}
}

type classifyResponse struct {
	Identity string     `json:"identity"`
	Role     model.Role `json:"role"`
}

// Classify handles GET /api/v1/access/{identity}.
// Unknown identities are a 200 with role "unknown", not a 404.
func (h *AccessHandler) Classify(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	role, err := h.registry.Classify(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Identity: identity, Role: role})
}

type requestAccessRequest struct {
	Identity  string `json:"identity"`
	Label     string `json:"label"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	NotifyRef string `json:"notify_ref"`
}

// Request handles POST /api/v1/access/requests. Idempotent while the request
// is pending.
func (h *AccessHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req requestAccessRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Identity == "" {
		writeError(w, h.logger, badRequest("identity is required"))
		return
	}

	var m *model.Member
	err := retryStale(func() error {
		var err error
		m, err = h.registry.RequestAccess(r.Context(), req.Identity, model.Profile{
			Label:     req.Label,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		return err
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.NotifyRef != "" {
		if err := h.registry.SetNotifyRef(r.Context(), req.Identity, req.NotifyRef); err != nil {
			h.logger.Warn("set notify ref failed", "identity", req.Identity, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, m)
}

type approveRequest struct {
	ExpiresAt *time.Time `json:"expires_at"` // nil = unlimited access
}

// Approve handles POST /api/v1/access/requests/{identity}/approve.
func (h *AccessHandler) Approve(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req approveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var m *model.Member
	err := retryStale(func() error {
		var err error
		m, err = h.registry.Approve(r.Context(), identity, actingAdmin(r), req.ExpiresAt)
		return err
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Reject handles POST /api/v1/access/requests/{identity}/reject.
func (h *AccessHandler) Reject(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	err := retryStale(func() error {
		return h.registry.Reject(r.Context(), identity, actingAdmin(r))
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Identity: identity, Role: model.RoleUnknown})
}

// Promote handles POST /api/v1/access/admins/{identity}.
func (h *AccessHandler) Promote(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var m *model.Member
	err := retryStale(func() error {
		var err error
		m, err = h.registry.Promote(r.Context(), identity, actingAdmin(r))
		return err
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Demote handles DELETE /api/v1/access/admins/{identity}.
func (h *AccessHandler) Demote(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	err := retryStale(func() error {
		return h.registry.Demote(r.Context(), identity, actingAdmin(r))
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Identity: identity, Role: model.RoleUnknown})
}

type restrictRequest struct {
	Kind            model.RestrictionKind `json:"kind"`
	DurationSeconds *int64                `json:"duration_seconds"` // required for temporary
}

// Restrict handles PUT /api/v1/access/restrictions/{identity}. Restricting an
// already-restricted identity overwrites the entry.
func (h *AccessHandler) Restrict(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req restrictRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Kind != model.RestrictionTemporary && req.Kind != model.RestrictionPermanent {
		writeError(w, h.logger, badRequest(`kind must be "temporary" or "permanent"`))
		return
	}

	var duration *time.Duration
	if req.DurationSeconds != nil {
		d := time.Duration(*req.DurationSeconds) * time.Second
		duration = &d
	}

	var m *model.Member
	err := retryStale(func() error {
		var err error
		m, err = h.registry.Restrict(r.Context(), identity, req.Kind, duration, actingAdmin(r))
		return err
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Unrestrict handles DELETE /api/v1/access/restrictions/{identity}. Removing
// a missing entry is a success.
func (h *AccessHandler) Unrestrict(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	err := retryStale(func() error {
		return h.registry.Unrestrict(r.Context(), identity, actingAdmin(r))
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Identity: identity, Role: model.RoleUnknown})
}

type banUserRequest struct {
	UserID          string `json:"user_id"`
	DurationSeconds *int64 `json:"duration_seconds"` // absent or 0 = permanent
}

// BanUser handles POST /api/v1/control/ban_user, the dashboard control-plane
// message. A duration makes the restriction temporary; omitting it bans
// permanently.
func (h *AccessHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	var req banUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.UserID == "" {
		writeError(w, h.logger, badRequest("user_id is required"))
		return
	}

	kind := model.RestrictionPermanent
	var duration *time.Duration
	if req.DurationSeconds != nil && *req.DurationSeconds > 0 {
		kind = model.RestrictionTemporary
		d := time.Duration(*req.DurationSeconds) * time.Second
		duration = &d
	}

	var m *model.Member
	err := retryStale(func() error {
		var err error
		m, err = h.registry.Restrict(r.Context(), req.UserID, kind, duration, actingAdmin(r))
		return err
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type setExpirationRequest struct {
	ExpiresAt *time.Time `json:"expires_at"` // nil clears the expiration
}

// SetExpiration handles PUT /api/v1/access/whitelist/{identity}/expiration.
// Past values are accepted; the next sweep pass removes the entry.
func (h *AccessHandler) SetExpiration(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req setExpirationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var m *model.Member
	err := retryStale(func() error {
		var err error
		m, err = h.registry.SetExpiration(r.Context(), identity, req.ExpiresAt, actingAdmin(r))
		return err
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type listResponse struct {
	Members  []model.Member `json:"members"`
	PageInfo model.PageInfo `json:"page_info"`
}

// List handles GET /api/v1/access/roles/{role}?page=N&page_size=M.
func (h *AccessHandler) List(w http.ResponseWriter, r *http.Request) {
	role := model.Role(chi.URLParam(r, "role"))
	if !role.Valid() || role == model.RoleUnknown {
		writeError(w, h.logger, badRequest("unknown role"))
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 0)
	members, info, err := h.registry.ListByRole(r.Context(), role, page, pageSize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, listResponse{Members: members, PageInfo: info})
}

type expiringResponse struct {
	Members []model.Member `json:"members"`
}

// ExpiringSoon handles GET /api/v1/access/whitelist/expiring?within_hours=N.
// Collaborators poll this to deliver expiration reminders.
func (h *AccessHandler) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "within_hours", 24)
	if hours <= 0 {
		writeError(w, h.logger, badRequest("within_hours must be positive"))
		return
	}

	members, err := h.registry.ExpiringWithin(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, expiringResponse{Members: members})
}

type setNotifyRefRequest struct {
	NotifyRef string `json:"notify_ref"`
}

// SetNotifyRef handles PUT /api/v1/access/requests/{identity}/notify-ref.
func (h *AccessHandler) SetNotifyRef(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req setNotifyRefRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.registry.SetNotifyRef(r.Context(), identity, req.NotifyRef); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actingAdmin resolves the identity performing an administrative action. For
// dashboard sessions this is the session identity; service calls pass the
// acting admin explicitly via the X-Acting-Admin header.
func actingAdmin(r *http.Request) string {
	if p := middleware.GetPrincipal(r.Context()); p != nil && p.Identity != "" {
		return p.Identity
	}
	return r.Header.Get("X-Acting-Admin")
}
