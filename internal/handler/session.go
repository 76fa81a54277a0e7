package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gateward/gateward/internal/service"
)

// SessionHandler issues dashboard session tokens. Login requires the shared
// service token plus an admin identity, so sessions can only be minted by a
// caller that already holds the deployment credential.
type SessionHandler struct {
	auth       *service.AuthService
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewSessionHandler creates a SessionHandler. ttl <= 0 defaults to 12 hours.
func NewSessionHandler(auth *service.AuthService, ttl time.Duration, logger *slog.Logger) *SessionHandler {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionHandler{auth: auth, sessionTTL: ttl, logger: logger}
}

type loginRequest struct {
	ServiceToken string `json:"service_token"`
	Identity     string `json:"identity"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/v1/session. Unauthenticated by design; the service
// token inside the body is the credential.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.ServiceToken == "" || req.Identity == "" {
		writeError(w, h.logger, badRequest("service_token and identity are required"))
		return
	}

	if err := h.auth.ValidateServiceToken(r.Context(), req.ServiceToken); err != nil {
		writeError(w, h.logger, service.ErrInvalidCredentials)
		return
	}

	token, err := h.auth.IssueSessionJWT(r.Context(), req.Identity, h.sessionTTL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.sessionTTL),
	})
}
