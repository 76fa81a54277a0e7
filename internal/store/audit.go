package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gateward/gateward/internal/model"
)

// AuditFilter narrows an audit ledger query. Zero values mean "no filter".
type AuditFilter struct {
	Identity string
	Action   string
	From     time.Time
	To       time.Time
}

// AppendEvent inserts a single audit event outside any registry transaction.
// Registry mutations use the in-transaction path instead; this entry point is
// for events with no accompanying state change (e.g. quota rejections).
func (s *Store) AppendEvent(ctx context.Context, ev *model.HistoryEvent) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertEvent(ctx, tx, ev)
	})
}

// insertEvent appends an audit event within an open transaction. A nil event
// is a no-op so read-only paths can share the transactional helpers.
func (s *Store) insertEvent(ctx context.Context, tx *sqlx.Tx, ev *model.HistoryEvent) error {
	if ev == nil {
		return nil
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if s.driver == "postgres" {
		const q = `INSERT INTO history_events
			(identity, label, role, action, status, handled_by, details, created_at)
			VALUES (:identity, :label, :role, :action, :status, :handled_by, :details, :created_at)
			RETURNING id`
		rows, err := tx.NamedQuery(q, ev)
		if err != nil {
			return fmt.Errorf("insert history event: %w", err)
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&ev.ID); err != nil {
				return fmt.Errorf("scan history event id: %w", err)
			}
		}
		return nil
	}

	const q = `INSERT INTO history_events
		(identity, label, role, action, status, handled_by, details, created_at)
		VALUES (:identity, :label, :role, :action, :status, :handled_by, :details, :created_at)`
	result, err := tx.NamedExecContext(ctx, q, ev)
	if err != nil {
		return fmt.Errorf("insert history event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get history event id: %w", err)
	}
	ev.ID = id
	return nil
}

// QueryEvents returns one page of audit events matching the filter, newest
// first. Ties on timestamp fall back to the insert sequence so completed
// queries always come back in non-increasing time order.
func (s *Store) QueryEvents(ctx context.Context, f AuditFilter, page, pageSize, defaultSize int) ([]model.HistoryEvent, model.PageInfo, error) {
	where := "1 = 1"
	var args []interface{}
	if f.Identity != "" {
		where += " AND identity = ?"
		args = append(args, f.Identity)
	}
	if f.Action != "" {
		where += " AND action = ?"
		args = append(args, f.Action)
	}
	if !f.From.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, f.To.UTC())
	}

	var total int64
	countQ := s.rebind("SELECT COUNT(*) FROM history_events WHERE " + where)
	if err := s.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return nil, model.PageInfo{}, fmt.Errorf("count history events: %w", err)
	}

	info := model.NewPageInfo(page, pageSize, total, defaultSize)

	var events []model.HistoryEvent
	listQ := s.rebind(`SELECT id, identity, label, role, action, status, handled_by, details, created_at
		FROM history_events WHERE ` + where + `
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	args = append(args, info.PageSize, info.Offset())
	if err := s.db.SelectContext(ctx, &events, listQ, args...); err != nil {
		return nil, model.PageInfo{}, fmt.Errorf("query history events: %w", err)
	}
	return events, info, nil
}
