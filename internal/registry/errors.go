package registry

import (
	"errors"

	"github.com/gateward/gateward/internal/locking"
)

// Role-precondition violations. These are recoverable business outcomes
// returned to the caller for user-facing messaging, never logged as system
// errors.
var (
	ErrAlreadyMember          = errors.New("identity is already a member")
	ErrNotPending             = errors.New("identity has no pending request")
	ErrNotWhitelisted         = errors.New("identity is not whitelisted")
	ErrNotAdmin               = errors.New("identity is not an admin")
	ErrCannotDemoteSuperAdmin = errors.New("super admin cannot be demoted")
	ErrCannotRestrictAdmin    = errors.New("admins cannot be restricted")

	// ErrBusy is returned when the per-identity lock could not be acquired
	// within the configured timeout. Callers may retry with backoff.
	ErrBusy = locking.ErrBusy
)

// kind maps a precondition error to its stable short name, used as a metric
// label.
func kind(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, ErrNotPending):
		return "not_pending"
	case errors.Is(err, ErrNotWhitelisted):
		return "not_whitelisted"
	case errors.Is(err, ErrNotAdmin):
		return "not_admin"
	case errors.Is(err, ErrCannotDemoteSuperAdmin):
		return "cannot_demote_super_admin"
	case errors.Is(err, ErrCannotRestrictAdmin):
		return "cannot_restrict_admin"
	default:
		return "other"
	}
}
