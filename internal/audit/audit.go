// Package audit exposes the append-only event ledger. Registry mutations
// write their events inside the mutation transaction; this package is the
// read side plus the standalone append for events with no state change.
package audit

import (
	"context"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/store"
)

// DefaultPageSize for ledger queries.
const DefaultPageSize = 20

// Log is the audit ledger. No update or delete is exposed anywhere.
type Log struct {
	store *store.Store
}

// New creates a Log over the store.
func New(st *store.Store) *Log {
	return &Log{store: st}
}

// Append inserts one event. It always succeeds unless the underlying store
// is unavailable, which is fatal to the caller and not retried here.
func (l *Log) Append(ctx context.Context, ev *model.HistoryEvent) error {
	return l.store.AppendEvent(ctx, ev)
}

// Query returns one page of events matching the filter, newest first.
// Pages are 1-based; out-of-range pages are empty, not errors.
func (l *Log) Query(ctx context.Context, f store.AuditFilter, page, pageSize int) ([]model.HistoryEvent, model.PageInfo, error) {
	return l.store.QueryEvents(ctx, f, page, pageSize, DefaultPageSize)
}
