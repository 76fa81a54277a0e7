package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gateward/gateward/internal/model"
)

const memberColumns = `identity, role, label, first_name, last_name,
	is_super_admin, promoted_by, promoted_at,
	approved_by, approved_at, expires_at,
	restriction_kind, restriction_end, restricted_by, restricted_at,
	requested_at, notify_ref, version, created_at, updated_at`

// GetMember returns the registry record for an identity, or ErrNotFound when
// the identity is unknown.
func (s *Store) GetMember(ctx context.Context, identity string) (*model.Member, error) {
	var m model.Member
	q := s.rebind("SELECT " + memberColumns + " FROM members WHERE identity = ?")
	if err := s.db.GetContext(ctx, &m, q, identity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

// CreateMember inserts a new registry record and its audit event as one
// transaction. A colliding identity returns ErrDuplicate. Version, CreatedAt,
// and UpdatedAt are populated on m.
func (s *Store) CreateMember(ctx context.Context, m *model.Member, ev *model.HistoryEvent) error {
	now := time.Now().UTC()
	m.Version = 1
	m.CreatedAt = now
	m.UpdatedAt = now

	const q = `INSERT INTO members
		(identity, role, label, first_name, last_name,
		 is_super_admin, promoted_by, promoted_at,
		 approved_by, approved_at, expires_at,
		 restriction_kind, restriction_end, restricted_by, restricted_at,
		 requested_at, notify_ref, version, created_at, updated_at)
		VALUES
		(:identity, :role, :label, :first_name, :last_name,
		 :is_super_admin, :promoted_by, :promoted_at,
		 :approved_by, :approved_at, :expires_at,
		 :restriction_kind, :restriction_end, :restricted_by, :restricted_at,
		 :requested_at, :notify_ref, :version, :created_at, :updated_at)`

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, m); err != nil {
			if isDuplicateErr(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert member: %w", err)
		}
		return s.insertEvent(ctx, tx, ev)
	})
}

// UpdateMember rewrites a registry record and appends its audit event as one
// transaction. The write is a compare-and-swap against m.Version (the version
// the caller read); a lost race returns ErrStaleState and a vanished row
// returns ErrNotFound. On success m.Version reflects the stored value.
func (s *Store) UpdateMember(ctx context.Context, m *model.Member, ev *model.HistoryEvent) error {
	m.UpdatedAt = time.Now().UTC()

	const q = `UPDATE members SET
		role = :role, label = :label, first_name = :first_name, last_name = :last_name,
		is_super_admin = :is_super_admin, promoted_by = :promoted_by, promoted_at = :promoted_at,
		approved_by = :approved_by, approved_at = :approved_at, expires_at = :expires_at,
		restriction_kind = :restriction_kind, restriction_end = :restriction_end,
		restricted_by = :restricted_by, restricted_at = :restricted_at,
		requested_at = :requested_at, notify_ref = :notify_ref,
		version = :version + 1, updated_at = :updated_at
		WHERE identity = :identity AND version = :version`

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, q, m)
		if err != nil {
			return fmt.Errorf("update member: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update member rows affected: %w", err)
		}
		if n == 0 {
			return s.staleOrMissing(ctx, tx, m.Identity)
		}
		return s.insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return err
	}
	m.Version++
	return nil
}

// DeleteMember removes a registry record and appends its audit event as one
// transaction, compare-and-swapped against version.
func (s *Store) DeleteMember(ctx context.Context, identity string, version int64, ev *model.HistoryEvent) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		q := s.rebind("DELETE FROM members WHERE identity = ? AND version = ?")
		result, err := tx.ExecContext(ctx, q, identity, version)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete member rows affected: %w", err)
		}
		if n == 0 {
			return s.staleOrMissing(ctx, tx, identity)
		}
		return s.insertEvent(ctx, tx, ev)
	})
}

// SetNotifyRef stores the collaborator's opaque notification reference for a
// pending request. Pure bookkeeping: no version bump, no audit event.
func (s *Store) SetNotifyRef(ctx context.Context, identity, ref string) error {
	q := s.rebind("UPDATE members SET notify_ref = ? WHERE identity = ?")
	result, err := s.db.ExecContext(ctx, q, ref, identity)
	if err != nil {
		return fmt.Errorf("set notify ref: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set notify ref rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByRole returns one page of registry records holding the given role,
// ordered by creation time then identity for a stable listing.
func (s *Store) ListByRole(ctx context.Context, role model.Role, page, pageSize, defaultSize int) ([]model.Member, model.PageInfo, error) {
	where, args := roleFilter(role)

	var total int64
	countQ := s.rebind("SELECT COUNT(*) FROM members WHERE " + where)
	if err := s.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return nil, model.PageInfo{}, fmt.Errorf("count members: %w", err)
	}

	info := model.NewPageInfo(page, pageSize, total, defaultSize)

	var members []model.Member
	listQ := s.rebind("SELECT " + memberColumns + " FROM members WHERE " + where +
		" ORDER BY created_at, identity LIMIT ? OFFSET ?")
	args = append(args, info.PageSize, info.Offset())
	if err := s.db.SelectContext(ctx, &members, listQ, args...); err != nil {
		return nil, model.PageInfo{}, fmt.Errorf("list members: %w", err)
	}
	return members, info, nil
}

func roleFilter(role model.Role) (string, []interface{}) {
	switch role {
	case model.RoleSuperAdmin:
		return "role = ? AND is_super_admin = ?", []interface{}{model.RoleAdmin, true}
	case model.RoleAdmin:
		return "role = ?", []interface{}{model.RoleAdmin}
	default:
		return "role = ?", []interface{}{role}
	}
}

// HasSuperAdmin reports whether the designated super admin exists. Used for
// first-run detection to trigger the bootstrap flow.
func (s *Store) HasSuperAdmin(ctx context.Context) (bool, error) {
	var count int
	q := s.rebind("SELECT COUNT(*) FROM members WHERE role = ? AND is_super_admin = ?")
	if err := s.db.GetContext(ctx, &count, q, model.RoleAdmin, true); err != nil {
		return false, fmt.Errorf("count super admins: %w", err)
	}
	return count > 0, nil
}

// ListExpiredWhitelist returns whitelist entries whose expiration is at or
// before now.
func (s *Store) ListExpiredWhitelist(ctx context.Context, now time.Time) ([]model.Member, error) {
	var members []model.Member
	q := s.rebind("SELECT " + memberColumns + ` FROM members
		WHERE role = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at`)
	if err := s.db.SelectContext(ctx, &members, q, model.RoleWhitelisted, now.UTC()); err != nil {
		return nil, fmt.Errorf("list expired whitelist: %w", err)
	}
	return members, nil
}

// ListExpiredTemporaryBlacklist returns temporary blacklist entries whose
// restriction period has elapsed.
func (s *Store) ListExpiredTemporaryBlacklist(ctx context.Context, now time.Time) ([]model.Member, error) {
	var members []model.Member
	q := s.rebind("SELECT " + memberColumns + ` FROM members
		WHERE role = ? AND restriction_kind = ? AND restriction_end IS NOT NULL AND restriction_end <= ?
		ORDER BY restriction_end`)
	if err := s.db.SelectContext(ctx, &members, q, model.RoleBlacklisted, model.RestrictionTemporary, now.UTC()); err != nil {
		return nil, fmt.Errorf("list expired blacklist: %w", err)
	}
	return members, nil
}

// ListWhitelistExpiringWithin returns whitelist entries that will expire
// within d of now, for the collaborator's reminder messages.
func (s *Store) ListWhitelistExpiringWithin(ctx context.Context, now time.Time, d time.Duration) ([]model.Member, error) {
	var members []model.Member
	q := s.rebind("SELECT " + memberColumns + ` FROM members
		WHERE role = ? AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at`)
	if err := s.db.SelectContext(ctx, &members, q, model.RoleWhitelisted, now.UTC(), now.UTC().Add(d)); err != nil {
		return nil, fmt.Errorf("list expiring whitelist: %w", err)
	}
	return members, nil
}

// ListAllMembers returns every registry record, ordered by role then
// identity. Used by the backup exporter.
func (s *Store) ListAllMembers(ctx context.Context) ([]model.Member, error) {
	var members []model.Member
	q := "SELECT " + memberColumns + " FROM members ORDER BY role, identity"
	if err := s.db.SelectContext(ctx, &members, q); err != nil {
		return nil, fmt.Errorf("list all members: %w", err)
	}
	return members, nil
}

// staleOrMissing distinguishes a lost CAS race from a vanished row after a
// zero-row write.
func (s *Store) staleOrMissing(ctx context.Context, tx *sqlx.Tx, identity string) error {
	var count int
	q := s.rebind("SELECT COUNT(*) FROM members WHERE identity = ?")
	if err := tx.GetContext(ctx, &count, q, identity); err != nil {
		return fmt.Errorf("check member existence: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
