// Package registry is the access-control core: it decides who may operate the
// gateway, at what role, and for how long. All role transitions go through
// here, one atomic compare-and-swap per identity, each committed together
// with its audit event.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateward/gateward/internal/locking"
	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/telemetry"
)

var (
	// ErrInvalidExpiration is returned when an approval carries an expiration
	// that is not after the approval time.
	ErrInvalidExpiration = errors.New("expiration must be after approval time")

	// ErrInvalidRestriction is returned when a temporary restriction has no
	// positive duration.
	ErrInvalidRestriction = errors.New("temporary restriction requires a positive duration")

	// ErrSuperAdminExists is returned when bootstrap runs against a registry
	// that already has its designated super admin.
	ErrSuperAdminExists = errors.New("super admin already exists")
)

const (
	defaultLockStripes = 256
	defaultLockTimeout = 2 * time.Second

	// DefaultPageSize matches the listing page size the collaborators render.
	DefaultPageSize = 5
)

// Registry owns the four mutually-exclusive membership sets and their
// transitions. Operations on the same identity are serialized by a striped
// lock; the store's version column catches writers from other processes.
type Registry struct {
	store    *store.Store
	locks    *locking.Table
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	lockTimeout time.Duration
	now         func() time.Time
}

// New creates a Registry on top of the given store.
func New(st *store.Store, notifier notify.Notifier, metrics *telemetry.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		store:       st,
		locks:       locking.NewTable(defaultLockStripes),
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
}

// Classify returns the identity's current role. Unknown identities are not an
// error. No side effect.
func (r *Registry) Classify(ctx context.Context, identity string) (model.Role, error) {
	m, err := r.store.GetMember(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return model.RoleUnknown, nil
	}
	if err != nil {
		return model.RoleUnknown, err
	}
	return m.EffectiveRole(), nil
}

// RequestAccess records a pending access request for an unknown identity.
// Re-invocation while already pending is an idempotent no-op that returns the
// existing request; an already-admitted identity fails with ErrAlreadyMember.
func (r *Registry) RequestAccess(ctx context.Context, identity string, profile model.Profile) (*model.Member, error) {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	existing, err := r.store.GetMember(ctx, identity)
	if err == nil {
		if existing.Role == model.RolePending {
			return existing, nil
		}
		return nil, r.reject(ErrAlreadyMember)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := r.now().UTC()
	m := &model.Member{
		Identity:    identity,
		Role:        model.RolePending,
		Label:       profile.Label,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		RequestedAt: &now,
	}
	ev := r.event(m, model.ActionRequested, model.StatusSuccess, "", "access requested")

	if err := r.store.CreateMember(ctx, m, ev); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a cross-process race; surface it as stale so the caller
			// re-reads instead of overwriting.
			return nil, store.ErrStaleState
		}
		return nil, err
	}

	r.recordTransition(ctx, model.ActionRequested, identity, model.RoleUnknown, model.RolePending, "access requested")
	return m, nil
}

// Approve transitions a pending request to the whitelist. A nil expiration
// grants unlimited access; a set expiration must lie after the approval time.
func (r *Registry) Approve(ctx context.Context, identity, byAdmin string, expiresAt *time.Time) (*model.Member, error) {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if err != nil {
		return nil, r.precondition(err, ErrNotPending)
	}
	if m.Role != model.RolePending {
		return nil, r.reject(ErrNotPending)
	}

	now := r.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, ErrInvalidExpiration
	}

	m.Role = model.RoleWhitelisted
	m.ApprovedBy = byAdmin
	m.ApprovedAt = &now
	m.ExpiresAt = expiresAt
	m.NotifyRef = ""

	ev := r.event(m, model.ActionApproved, model.StatusSuccess, byAdmin, expirationDetails(expiresAt))
	if err := r.update(ctx, m, ev); err != nil {
		return nil, err
	}

	r.recordTransition(ctx, model.ActionApproved, identity, model.RolePending, model.RoleWhitelisted, "request approved")
	return m, nil
}

// Reject removes a pending request. The identity returns to unknown.
func (r *Registry) Reject(ctx context.Context, identity, byAdmin string) error {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if err != nil {
		return r.precondition(err, ErrNotPending)
	}
	if m.Role != model.RolePending {
		return r.reject(ErrNotPending)
	}

	ev := r.event(m, model.ActionRejected, model.StatusSuccess, byAdmin, "access request rejected")
	if err := r.delete(ctx, m, ev); err != nil {
		return err
	}

	r.recordTransition(ctx, model.ActionRejected, identity, model.RolePending, model.RoleUnknown, "request rejected")
	return nil
}

// Promote raises a whitelisted identity to admin.
func (r *Registry) Promote(ctx context.Context, identity, byAdmin string) (*model.Member, error) {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if err != nil {
		return nil, r.precondition(err, ErrNotWhitelisted)
	}
	if m.Role != model.RoleWhitelisted {
		return nil, r.reject(ErrNotWhitelisted)
	}

	now := r.now().UTC()
	m.Role = model.RoleAdmin
	m.PromotedBy = byAdmin
	m.PromotedAt = &now
	m.ApprovedBy = ""
	m.ApprovedAt = nil
	m.ExpiresAt = nil

	ev := r.event(m, model.ActionPromoted, model.StatusSuccess, byAdmin, "promoted to admin")
	if err := r.update(ctx, m, ev); err != nil {
		return nil, err
	}

	r.recordTransition(ctx, model.ActionPromoted, identity, model.RoleWhitelisted, model.RoleAdmin, "promoted to admin")
	return m, nil
}

// Demote removes a regular admin. The identity returns to unknown, not to the
// whitelist. The designated super admin cannot be demoted this way.
func (r *Registry) Demote(ctx context.Context, identity, byAdmin string) error {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if err != nil {
		return r.precondition(err, ErrNotAdmin)
	}
	if m.Role != model.RoleAdmin {
		return r.reject(ErrNotAdmin)
	}
	if m.IsSuperAdmin {
		return r.reject(ErrCannotDemoteSuperAdmin)
	}

	ev := r.event(m, model.ActionDemoted, model.StatusSuccess, byAdmin, "demoted from admin")
	if err := r.delete(ctx, m, ev); err != nil {
		return err
	}

	r.recordTransition(ctx, model.ActionDemoted, identity, model.RoleAdmin, model.RoleUnknown, "demoted from admin")
	return nil
}

// Restrict moves a non-admin identity to the blacklist. Restricting an
// already-blacklisted identity overwrites the prior entry (edit semantics).
// A temporary restriction ends at now + duration; permanent ones never end.
func (r *Registry) Restrict(ctx context.Context, identity string, kind model.RestrictionKind, duration *time.Duration, byAdmin string) (*model.Member, error) {
	if kind == model.RestrictionTemporary && (duration == nil || *duration <= 0) {
		return nil, ErrInvalidRestriction
	}

	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	now := r.now().UTC()
	var end *time.Time
	if kind == model.RestrictionTemporary {
		t := now.Add(*duration)
		end = &t
	}

	m, err := r.store.GetMember(ctx, identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		m = &model.Member{Identity: identity}
	case err != nil:
		return nil, err
	case m.EffectiveRole().IsAdmin():
		return nil, r.reject(ErrCannotRestrictAdmin)
	}

	oldRole := m.EffectiveRole()
	if m.Version == 0 {
		oldRole = model.RoleUnknown
	}

	m.Role = model.RoleBlacklisted
	m.RestrictionKind = kind
	m.RestrictionEnd = end
	m.RestrictedBy = byAdmin
	m.RestrictedAt = &now
	m.ApprovedBy = ""
	m.ApprovedAt = nil
	m.ExpiresAt = nil
	m.RequestedAt = nil
	m.NotifyRef = ""

	ev := r.event(m, model.ActionRestricted, model.StatusSuccess, byAdmin, restrictionDetails(kind, end))
	if m.Version == 0 {
		err = r.store.CreateMember(ctx, m, ev)
		if errors.Is(err, store.ErrDuplicate) {
			err = store.ErrStaleState
		}
	} else {
		err = r.update(ctx, m, ev)
	}
	if err != nil {
		return nil, err
	}

	r.recordTransition(ctx, model.ActionRestricted, identity, oldRole, model.RoleBlacklisted, restrictionDetails(kind, end))
	return m, nil
}

// Unrestrict removes a blacklist entry. Removing an entry that does not exist
// is a no-op success: admin UIs retry freely.
func (r *Registry) Unrestrict(ctx context.Context, identity, byAdmin string) error {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Role != model.RoleBlacklisted {
		return nil
	}

	ev := r.event(m, model.ActionUnrestricted, model.StatusSuccess, byAdmin, "restriction removed")
	if err := r.delete(ctx, m, ev); err != nil {
		return err
	}

	r.recordTransition(ctx, model.ActionUnrestricted, identity, model.RoleBlacklisted, model.RoleUnknown, "restriction removed")
	return nil
}

// SetExpiration replaces a whitelist entry's expiration. A nil expiration
// clears it, granting unlimited access. Past values are accepted; the next
// sweep pass expires the entry.
func (r *Registry) SetExpiration(ctx context.Context, identity string, expiresAt *time.Time, byAdmin string) (*model.Member, error) {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if err != nil {
		return nil, r.precondition(err, ErrNotWhitelisted)
	}
	if m.Role != model.RoleWhitelisted {
		return nil, r.reject(ErrNotWhitelisted)
	}

	m.ExpiresAt = expiresAt
	ev := r.event(m, model.ActionExpirationSet, model.StatusSuccess, byAdmin, expirationDetails(expiresAt))
	if err := r.update(ctx, m, ev); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByRole returns one stably-ordered page of entries holding the role.
// Pages are 1-based; out-of-range pages are empty, not errors.
func (r *Registry) ListByRole(ctx context.Context, role model.Role, page, pageSize int) ([]model.Member, model.PageInfo, error) {
	return r.store.ListByRole(ctx, role, page, pageSize, DefaultPageSize)
}

// SetNotifyRef stores the collaborator's opaque notification reference on a
// pending request.
func (r *Registry) SetNotifyRef(ctx context.Context, identity, ref string) error {
	return r.store.SetNotifyRef(ctx, identity, ref)
}

// ExpiringWithin returns whitelist entries expiring within d, for reminder
// delivery by the collaborator.
func (r *Registry) ExpiringWithin(ctx context.Context, d time.Duration) ([]model.Member, error) {
	return r.store.ListWhitelistExpiringWithin(ctx, r.now(), d)
}

// BootstrapSuperAdmin creates the designated super admin. It can only run
// once per registry; the super admin is never removable afterwards.
func (r *Registry) BootstrapSuperAdmin(ctx context.Context, identity, label string) (*model.Member, error) {
	exists, err := r.store.HasSuperAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrSuperAdminExists
	}

	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	now := r.now().UTC()
	m := &model.Member{
		Identity:     identity,
		Role:         model.RoleAdmin,
		Label:        label,
		IsSuperAdmin: true,
		PromotedAt:   &now,
	}
	ev := r.event(m, model.ActionPromoted, model.StatusSuccess, "", "super admin bootstrap")
	if err := r.store.CreateMember(ctx, m, ev); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}

	r.recordTransition(ctx, model.ActionPromoted, identity, model.RoleUnknown, model.RoleSuperAdmin, "super admin bootstrap")
	return m, nil
}

// ---------------------------------------------------------------------------
// Sweep transitions (called by the expiration sweeper)
// ---------------------------------------------------------------------------

// ExpireWhitelisted removes a whitelist entry whose expiration has passed.
// The check re-runs under the identity lock so a racing setExpiration cannot
// be clobbered. Returns the removed entry, or nil if nothing was due.
func (r *Registry) ExpireWhitelisted(ctx context.Context, identity string) (*model.Member, error) {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Role != model.RoleWhitelisted || m.ExpiresAt == nil || m.ExpiresAt.After(r.now()) {
		return nil, nil
	}

	ev := r.event(m, model.ActionExpired, model.StatusExpired, "",
		fmt.Sprintf("whitelist access expired at %s", m.ExpiresAt.UTC().Format(time.RFC3339)))
	if err := r.delete(ctx, m, ev); err != nil {
		return nil, err
	}

	r.recordTransition(ctx, model.ActionExpired, identity, model.RoleWhitelisted, model.RoleUnknown, "access expired")
	return m, nil
}

// LiftRestriction removes a temporary blacklist entry whose restriction
// period has elapsed. Returns the removed entry, or nil if nothing was due.
func (r *Registry) LiftRestriction(ctx context.Context, identity string) (*model.Member, error) {
	release, err := r.locks.Acquire(ctx, identity, r.lockTimeout)
	if err != nil {
		return nil, r.lockErr(err)
	}
	defer release()

	m, err := r.store.GetMember(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Role != model.RoleBlacklisted || m.RestrictionKind != model.RestrictionTemporary ||
		m.RestrictionEnd == nil || m.RestrictionEnd.After(r.now()) {
		return nil, nil
	}

	ev := r.event(m, model.ActionRestrictionLifted, model.StatusLifted, "",
		fmt.Sprintf("restriction ended at %s", m.RestrictionEnd.UTC().Format(time.RFC3339)))
	if err := r.delete(ctx, m, ev); err != nil {
		return nil, err
	}

	r.recordTransition(ctx, model.ActionRestrictionLifted, identity, model.RoleBlacklisted, model.RoleUnknown, "restriction lifted")
	return m, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (r *Registry) update(ctx context.Context, m *model.Member, ev *model.HistoryEvent) error {
	err := r.store.UpdateMember(ctx, m, ev)
	if errors.Is(err, store.ErrStaleState) {
		r.metrics.StaleConflicts.Inc()
	}
	return err
}

func (r *Registry) delete(ctx context.Context, m *model.Member, ev *model.HistoryEvent) error {
	err := r.store.DeleteMember(ctx, m.Identity, m.Version, ev)
	if errors.Is(err, store.ErrStaleState) {
		r.metrics.StaleConflicts.Inc()
	}
	return err
}

func (r *Registry) event(m *model.Member, action, status, handledBy, details string) *model.HistoryEvent {
	return &model.HistoryEvent{
		Identity:  m.Identity,
		Label:     m.Label,
		Role:      m.EffectiveRole(),
		Action:    action,
		Status:    status,
		HandledBy: handledBy,
		Details:   details,
		CreatedAt: r.now().UTC(),
	}
}

func (r *Registry) recordTransition(ctx context.Context, action, identity string, oldRole, newRole model.Role, reason string) {
	r.metrics.Transitions.WithLabelValues(action).Inc()
	r.notifier.RoleChanged(ctx, model.RoleChange{
		Identity: identity,
		OldRole:  oldRole,
		NewRole:  newRole,
		Reason:   reason,
		At:       r.now().UTC(),
	})
}

// precondition maps a missing record to the operation's role-precondition
// error; other store failures pass through.
func (r *Registry) precondition(err error, missing error) error {
	if errors.Is(err, store.ErrNotFound) {
		return r.reject(missing)
	}
	return err
}

func (r *Registry) reject(err error) error {
	r.metrics.Rejections.WithLabelValues(kind(err)).Inc()
	return err
}

func (r *Registry) lockErr(err error) error {
	if errors.Is(err, ErrBusy) {
		r.metrics.LockTimeouts.Inc()
	}
	return err
}

func expirationDetails(t *time.Time) string {
	if t == nil {
		return "unlimited access"
	}
	return "expires at " + t.UTC().Format(time.RFC3339)
}

func restrictionDetails(kind model.RestrictionKind, end *time.Time) string {
	if kind == model.RestrictionPermanent || end == nil {
		return "permanent restriction"
	}
	return "restricted until " + end.UTC().Format(time.RFC3339)
}
