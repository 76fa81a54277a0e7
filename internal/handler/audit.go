package handler

import (
	"log/slog"
	"net/http"

	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/store"
)

// AuditHandler serves read access to the append-only event ledger.
type AuditHandler struct {
	log    *audit.Log
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(log *audit.Log, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{log: log, logger: logger}
}

type auditResponse struct {
	Events   []model.HistoryEvent `json:"events"`
	PageInfo model.PageInfo       `json:"page_info"`
}

// Query handles GET /api/v1/audit. Filters: identity, action, from, to
// (RFC 3339). Newest first.
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	filter := store.AuditFilter{
		Identity: r.URL.Query().Get("identity"),
		Action:   r.URL.Query().Get("action"),
		From:     from,
		To:       to,
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 0)
	events, info, err := h.log.Query(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []model.HistoryEvent{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Events: events, PageInfo: info})
}
