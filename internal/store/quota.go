package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gateward/gateward/internal/model"
)

// GetQuota returns the quota record for an identity, or ErrNotFound when no
// record exists yet (quota records are created lazily on first use).
func (s *Store) GetQuota(ctx context.Context, identity string) (*model.QuotaRecord, error) {
	var rec model.QuotaRecord
	q := s.rebind("SELECT identity, label, daily_limit, day, used, last_reset_at, updated_at FROM quota_records WHERE identity = ?")
	if err := s.db.GetContext(ctx, &rec, q, identity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &rec, nil
}

// SaveQuota upserts a quota record. UpdatedAt is refreshed automatically.
func (s *Store) SaveQuota(ctx context.Context, rec *model.QuotaRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	const q = `INSERT INTO quota_records
		(identity, label, daily_limit, day, used, last_reset_at, updated_at)
		VALUES (:identity, :label, :daily_limit, :day, :used, :last_reset_at, :updated_at)
		ON CONFLICT (identity) DO UPDATE SET
			label = excluded.label,
			daily_limit = excluded.daily_limit,
			day = excluded.day,
			used = excluded.used,
			last_reset_at = excluded.last_reset_at,
			updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("save quota: %w", err)
	}
	return nil
}
