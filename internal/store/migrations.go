package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	migrations := []string{
		// One row per identity: membership in the four role sets is mutually
		// exclusive by primary key, not by application discipline. The
		// version column backs compare-and-swap writes.
		`CREATE TABLE IF NOT EXISTS members (
			identity TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			is_super_admin BOOLEAN NOT NULL DEFAULT FALSE,
			promoted_by TEXT NOT NULL DEFAULT '',
			promoted_at TIMESTAMP,
			approved_by TEXT NOT NULL DEFAULT '',
			approved_at TIMESTAMP,
			expires_at TIMESTAMP,
			restriction_kind TEXT NOT NULL DEFAULT '',
			restriction_end TIMESTAMP,
			restricted_by TEXT NOT NULL DEFAULT '',
			restricted_at TIMESTAMP,
			requested_at TIMESTAMP,
			notify_ref TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_members_role ON members(role)`,
		`CREATE INDEX IF NOT EXISTS idx_members_expires_at ON members(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_members_restriction_end ON members(restriction_end)`,

		`CREATE TABLE IF NOT EXISTS quota_records (
			identity TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			daily_limit INTEGER NOT NULL DEFAULT 5,
			day TEXT NOT NULL DEFAULT '',
			used INTEGER NOT NULL DEFAULT 0,
			last_reset_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS history_events (
			id %s,
			identity TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			handled_by TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`, serial),

		`CREATE INDEX IF NOT EXISTS idx_history_identity ON history_events(identity)`,
		`CREATE INDEX IF NOT EXISTS idx_history_action ON history_events(action)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created_at ON history_events(created_at)`,

		// Key-value settings (service token hash, instance ID, etc.)
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
