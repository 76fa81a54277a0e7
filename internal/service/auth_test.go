package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/telemetry"
)

func newTestAuth(t *testing.T) (*AuthService, *registry.Registry) {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(st, &notify.LogNotifier{Logger: logger}, telemetry.New(), logger)
	return NewAuthService(st, reg, "test-secret"), reg
}

func TestServiceToken(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	// Unconfigured deployments reject everything.
	if err := auth.ValidateServiceToken(ctx, "anything"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	if err := auth.SetServiceToken(ctx, "correct-horse-battery-staple"); err != nil {
		t.Fatalf("SetServiceToken: %v", err)
	}

	if err := auth.ValidateServiceToken(ctx, "correct-horse-battery-staple"); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	if err := auth.ValidateServiceToken(ctx, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	// Rotation invalidates the old token.
	if err := auth.SetServiceToken(ctx, "new-token-after-rotation"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := auth.ValidateServiceToken(ctx, "correct-horse-battery-staple"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old token still valid after rotation: %v", err)
	}
}

func TestSessionJWT(t *testing.T) {
	auth, reg := newTestAuth(t)
	ctx := context.Background()

	// Only admins get sessions.
	if _, err := auth.IssueSessionJWT(ctx, "stranger", time.Hour); !errors.Is(err, ErrNotAnAdmin) {
		t.Fatalf("expected ErrNotAnAdmin, got %v", err)
	}

	if _, err := reg.BootstrapSuperAdmin(ctx, "boss", "The Boss"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	token, err := auth.IssueSessionJWT(ctx, "boss", time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionJWT: %v", err)
	}

	p, err := auth.ValidateSessionJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSessionJWT: %v", err)
	}
	if p.Identity != "boss" || p.Role != model.RoleSuperAdmin {
		t.Errorf("got %+v", p)
	}

	if _, err := auth.ValidateSessionJWT(ctx, token+"tampered"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for tampered token, got %v", err)
	}
}

func TestSessionDiesWithDemotion(t *testing.T) {
	auth, reg := newTestAuth(t)
	ctx := context.Background()

	// A regular admin: whitelist then promote.
	reg.RequestAccess(ctx, "helper", model.Profile{})
	reg.Approve(ctx, "helper", "boss", nil)
	reg.Promote(ctx, "helper", "boss")

	token, err := auth.IssueSessionJWT(ctx, "helper", time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionJWT: %v", err)
	}
	if _, err := auth.ValidateSessionJWT(ctx, token); err != nil {
		t.Fatalf("ValidateSessionJWT: %v", err)
	}

	// Demotion kills the live session even though the JWT has not expired.
	if err := reg.Demote(ctx, "helper", "boss"); err != nil {
		t.Fatalf("Demote: %v", err)
	}
	if _, err := auth.ValidateSessionJWT(ctx, token); !errors.Is(err, ErrNotAnAdmin) {
		t.Errorf("expected ErrNotAnAdmin after demotion, got %v", err)
	}
}

func TestHashToken(t *testing.T) {
	if HashToken("a") == HashToken("b") {
		t.Error("distinct tokens must hash differently")
	}
	if len(HashToken("x")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashToken("x")))
	}
}
