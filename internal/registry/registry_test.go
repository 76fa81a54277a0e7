package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/telemetry"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := New(st, &notify.LogNotifier{Logger: logger}, telemetry.New(), logger)
	return reg, st
}

func TestClassifyUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)

	role, err := reg.Classify(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if role != model.RoleUnknown {
		t.Errorf("got %q, want unknown", role)
	}
}

func TestRequestAccessLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	m, err := reg.RequestAccess(ctx, "u1", model.Profile{Label: "User One"})
	if err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if m.Role != model.RolePending {
		t.Errorf("got role %q, want pending", m.Role)
	}
	if m.RequestedAt == nil {
		t.Error("expected RequestedAt to be set")
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RolePending {
		t.Errorf("got %q, want pending", role)
	}

	// Re-requesting while pending is an idempotent no-op.
	again, err := reg.RequestAccess(ctx, "u1", model.Profile{Label: "User One"})
	if err != nil {
		t.Fatalf("second RequestAccess: %v", err)
	}
	if again.Version != m.Version {
		t.Errorf("idempotent re-request changed version: %d -> %d", m.Version, again.Version)
	}
}

func TestApprove(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.RequestAccess(ctx, "u1", model.Profile{}); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	exp := time.Now().UTC().Add(24 * time.Hour)
	m, err := reg.Approve(ctx, "u1", "admin", &exp)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if m.Role != model.RoleWhitelisted || m.ApprovedBy != "admin" {
		t.Errorf("got %+v", m)
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleWhitelisted {
		t.Errorf("got %q, want whitelisted", role)
	}

	// Approving again fails: no longer pending.
	if _, err := reg.Approve(ctx, "u1", "admin", nil); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}

	// A member cannot re-request access.
	if _, err := reg.RequestAccess(ctx, "u1", model.Profile{}); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestApproveRejectsPastExpiration(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.RequestAccess(ctx, "u1", model.Profile{}); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if _, err := reg.Approve(ctx, "u1", "admin", &past); !errors.Is(err, ErrInvalidExpiration) {
		t.Errorf("expected ErrInvalidExpiration, got %v", err)
	}

	// The request is still pending after the failed approval.
	role, _ := reg.Classify(ctx, "u1")
	if role != model.RolePending {
		t.Errorf("got %q, want pending", role)
	}
}

func TestReject(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.RequestAccess(ctx, "u1", model.Profile{}); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if err := reg.Reject(ctx, "u1", "admin"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleUnknown {
		t.Errorf("got %q, want unknown after reject", role)
	}

	// Rejected identities may request again.
	if _, err := reg.RequestAccess(ctx, "u1", model.Profile{}); err != nil {
		t.Errorf("re-request after reject: %v", err)
	}
}

func TestPromoteDemote(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	// Promoting a non-whitelisted identity fails.
	if _, err := reg.Promote(ctx, "u1", "admin"); !errors.Is(err, ErrNotWhitelisted) {
		t.Errorf("expected ErrNotWhitelisted, got %v", err)
	}

	reg.RequestAccess(ctx, "u1", model.Profile{})
	reg.Approve(ctx, "u1", "admin", nil)

	m, err := reg.Promote(ctx, "u1", "boss")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if m.Role != model.RoleAdmin || m.PromotedBy != "boss" {
		t.Errorf("got %+v", m)
	}

	// Demote returns the identity to unknown, not to the whitelist.
	if err := reg.Demote(ctx, "u1", "boss"); err != nil {
		t.Fatalf("Demote: %v", err)
	}
	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleUnknown {
		t.Errorf("got %q, want unknown after demote", role)
	}
}

func TestSuperAdminCannotBeDemoted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	m, err := reg.BootstrapSuperAdmin(ctx, "boss", "The Boss")
	if err != nil {
		t.Fatalf("BootstrapSuperAdmin: %v", err)
	}
	if !m.IsSuperAdmin {
		t.Fatal("expected super admin flag")
	}

	role, _ := reg.Classify(ctx, "boss")
	if role != model.RoleSuperAdmin {
		t.Errorf("got %q, want super_admin", role)
	}

	if err := reg.Demote(ctx, "boss", "rival"); !errors.Is(err, ErrCannotDemoteSuperAdmin) {
		t.Errorf("expected ErrCannotDemoteSuperAdmin, got %v", err)
	}

	// Bootstrap only runs once.
	if _, err := reg.BootstrapSuperAdmin(ctx, "other", ""); !errors.Is(err, ErrSuperAdminExists) {
		t.Errorf("expected ErrSuperAdminExists, got %v", err)
	}
}

func TestRestrict(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	// Restricting an unknown identity creates the blacklist entry directly.
	d := 48 * time.Hour
	m, err := reg.Restrict(ctx, "u1", model.RestrictionTemporary, &d, "admin")
	if err != nil {
		t.Fatalf("Restrict: %v", err)
	}
	if m.Role != model.RoleBlacklisted || m.RestrictionEnd == nil {
		t.Errorf("got %+v", m)
	}

	// Overwriting with a permanent restriction (edit semantics).
	m, err = reg.Restrict(ctx, "u1", model.RestrictionPermanent, nil, "admin")
	if err != nil {
		t.Fatalf("Restrict overwrite: %v", err)
	}
	if m.RestrictionKind != model.RestrictionPermanent || m.RestrictionEnd != nil {
		t.Errorf("got %+v", m)
	}

	// Temporary restrictions need a positive duration.
	if _, err := reg.Restrict(ctx, "u2", model.RestrictionTemporary, nil, "admin"); !errors.Is(err, ErrInvalidRestriction) {
		t.Errorf("expected ErrInvalidRestriction, got %v", err)
	}
	zero := time.Duration(0)
	if _, err := reg.Restrict(ctx, "u2", model.RestrictionTemporary, &zero, "admin"); !errors.Is(err, ErrInvalidRestriction) {
		t.Errorf("expected ErrInvalidRestriction for zero duration, got %v", err)
	}
}

func TestRestrictWhitelistedClearsGrant(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.RequestAccess(ctx, "u1", model.Profile{})
	exp := time.Now().UTC().Add(24 * time.Hour)
	reg.Approve(ctx, "u1", "admin", &exp)

	m, err := reg.Restrict(ctx, "u1", model.RestrictionPermanent, nil, "admin")
	if err != nil {
		t.Fatalf("Restrict: %v", err)
	}
	if m.ExpiresAt != nil || m.ApprovedBy != "" {
		t.Errorf("whitelist fields not cleared: %+v", m)
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleBlacklisted {
		t.Errorf("got %q, want blacklisted", role)
	}
}

func TestCannotRestrictAdmin(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.BootstrapSuperAdmin(ctx, "boss", "")
	if _, err := reg.Restrict(ctx, "boss", model.RestrictionPermanent, nil, "rival"); !errors.Is(err, ErrCannotRestrictAdmin) {
		t.Errorf("expected ErrCannotRestrictAdmin, got %v", err)
	}
}

func TestUnrestrict(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	// Removing a missing entry is a no-op success.
	if err := reg.Unrestrict(ctx, "nobody", "admin"); err != nil {
		t.Errorf("Unrestrict missing: %v", err)
	}

	reg.Restrict(ctx, "u1", model.RestrictionPermanent, nil, "admin")
	if err := reg.Unrestrict(ctx, "u1", "admin"); err != nil {
		t.Fatalf("Unrestrict: %v", err)
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleUnknown {
		t.Errorf("got %q, want unknown", role)
	}
}

func TestSetExpirationAcceptsPast(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.RequestAccess(ctx, "u1", model.Profile{})
	future := time.Now().UTC().Add(24 * time.Hour)
	reg.Approve(ctx, "u1", "admin", &future)

	// A past value is stored as-is; the sweeper removes it later.
	past := time.Now().UTC().Add(-time.Hour)
	m, err := reg.SetExpiration(ctx, "u1", &past, "admin")
	if err != nil {
		t.Fatalf("SetExpiration: %v", err)
	}
	if m.ExpiresAt == nil || !m.ExpiresAt.Equal(past) {
		t.Errorf("got %+v", m.ExpiresAt)
	}

	// Until the sweep runs the identity still classifies as whitelisted.
	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleWhitelisted {
		t.Errorf("got %q, want whitelisted before sweep", role)
	}

	// Clearing the expiration grants unlimited access.
	m, err = reg.SetExpiration(ctx, "u1", nil, "admin")
	if err != nil {
		t.Fatalf("SetExpiration clear: %v", err)
	}
	if m.ExpiresAt != nil {
		t.Errorf("expected nil expiration, got %v", m.ExpiresAt)
	}
}

func TestExpireWhitelisted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.RequestAccess(ctx, "u1", model.Profile{Label: "User One"})
	future := time.Now().UTC().Add(24 * time.Hour)
	reg.Approve(ctx, "u1", "admin", &future)

	// Not yet due: nil-nil.
	removed, err := reg.ExpireWhitelisted(ctx, "u1")
	if err != nil || removed != nil {
		t.Fatalf("got %v, %v; want nil, nil", removed, err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	reg.SetExpiration(ctx, "u1", &past, "admin")

	removed, err = reg.ExpireWhitelisted(ctx, "u1")
	if err != nil {
		t.Fatalf("ExpireWhitelisted: %v", err)
	}
	if removed == nil || removed.Identity != "u1" {
		t.Fatalf("got %+v", removed)
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleUnknown {
		t.Errorf("got %q, want unknown after expiry", role)
	}
}

func TestLiftRestriction(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	d := time.Hour
	reg.Restrict(ctx, "u1", model.RestrictionTemporary, &d, "admin")

	// Not yet due.
	removed, err := reg.LiftRestriction(ctx, "u1")
	if err != nil || removed != nil {
		t.Fatalf("got %v, %v; want nil, nil", removed, err)
	}

	// Backdate the restriction end.
	m, _ := st.GetMember(ctx, "u1")
	past := time.Now().UTC().Add(-time.Minute)
	m.RestrictionEnd = &past
	if err := st.UpdateMember(ctx, m, nil); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	removed, err = reg.LiftRestriction(ctx, "u1")
	if err != nil {
		t.Fatalf("LiftRestriction: %v", err)
	}
	if removed == nil {
		t.Fatal("expected entry to be lifted")
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleUnknown {
		t.Errorf("got %q, want unknown after lift", role)
	}

	// Permanent restrictions are never lifted by the sweep path.
	reg.Restrict(ctx, "u2", model.RestrictionPermanent, nil, "admin")
	removed, err = reg.LiftRestriction(ctx, "u2")
	if err != nil || removed != nil {
		t.Errorf("permanent restriction lifted: %v, %v", removed, err)
	}
}

func TestAuditTrail(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	reg.RequestAccess(ctx, "u1", model.Profile{Label: "User One"})
	reg.Approve(ctx, "u1", "admin", nil)
	reg.Promote(ctx, "u1", "boss")
	reg.Demote(ctx, "u1", "boss")

	events, _, err := st.QueryEvents(ctx, store.AuditFilter{Identity: "u1"}, 1, 10, 10)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}

	// Newest first.
	want := []string{model.ActionDemoted, model.ActionPromoted, model.ActionApproved, model.ActionRequested}
	for i, ev := range events {
		if ev.Action != want[i] {
			t.Errorf("event %d: got %q, want %q", i, ev.Action, want[i])
		}
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.RequestAccess(ctx, "u1", model.Profile{})

	// Many goroutines race to approve the same pending request; exactly one
	// wins, the rest see ErrNotPending.
	const n = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Approve(ctx, "u1", "admin", nil); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("got %d winners, want 1", count)
	}

	role, _ := reg.Classify(ctx, "u1")
	if role != model.RoleWhitelisted {
		t.Errorf("got %q, want whitelisted", role)
	}
}
