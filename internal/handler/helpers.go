// Package handler implements the HTTP API over the registry, quota tracker,
// and audit ledger. Handlers translate between wire shapes and the domain
// packages; no business rule lives here.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gateward/gateward/internal/locking"
	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/quota"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/service"
	"github.com/gateward/gateward/internal/store"
)

// staleRetries bounds the automatic re-read-and-retry loop around
// compare-and-swap conflicts before the conflict is surfaced to the caller.
const staleRetries = 3

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps a domain error to its HTTP status and stable kind, then
// writes the standard error envelope.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, kind := classifyError(err)
	if status >= 500 {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Kind:    kind,
			Message: err.Error(),
		},
	})
}

// classifyError assigns each known domain error a status code and a stable
// machine-readable kind. Unknown errors are internal.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrAlreadyMember):
		return http.StatusConflict, "already_member"
	case errors.Is(err, registry.ErrNotPending):
		return http.StatusConflict, "not_pending"
	case errors.Is(err, registry.ErrNotWhitelisted):
		return http.StatusConflict, "not_whitelisted"
	case errors.Is(err, registry.ErrNotAdmin):
		return http.StatusConflict, "not_admin"
	case errors.Is(err, registry.ErrCannotDemoteSuperAdmin):
		return http.StatusForbidden, "cannot_demote_super_admin"
	case errors.Is(err, registry.ErrCannotRestrictAdmin):
		return http.StatusForbidden, "cannot_restrict_admin"
	case errors.Is(err, registry.ErrSuperAdminExists):
		return http.StatusConflict, "super_admin_exists"
	case errors.Is(err, registry.ErrInvalidExpiration):
		return http.StatusBadRequest, "invalid_expiration"
	case errors.Is(err, registry.ErrInvalidRestriction):
		return http.StatusBadRequest, "invalid_restriction"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, locking.ErrBusy):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, store.ErrStaleState):
		return http.StatusConflict, "stale_state"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, service.ErrNotAnAdmin):
		return http.StatusForbidden, "not_admin"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }
func (e *badRequestError) Is(target error) bool {
	return target == errBadRequest
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

// queryInt reads an integer query parameter, falling back to def when absent
// or malformed.
func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// queryTime reads an RFC 3339 query parameter, or the zero time when absent.
func queryTime(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, badRequest("invalid " + name + ": must be RFC 3339")
	}
	return t, nil
}

// retryStale re-runs op on compare-and-swap conflicts, up to staleRetries
// times. Each attempt re-reads state inside op, so a retry observes the
// winning writer's result.
func retryStale(op func() error) error {
	var err error
	for i := 0; i < staleRetries; i++ {
		err = op()
		if !errors.Is(err, store.ErrStaleState) {
			return err
		}
	}
	return err
}
