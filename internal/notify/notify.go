// Package notify delivers the core's outbound notifications to collaborators.
// The registry and quota tracker only produce events; rendering and delivery
// (chat message, dashboard push) happen on the other side of a Notifier.
package notify

import (
	"context"
	"log/slog"

	"github.com/gateward/gateward/internal/model"
)

// Notifier receives the two outbound event shapes the core emits. Delivery
// failures must not fail the mutation that produced the event; implementations
// log and move on.
type Notifier interface {
	RoleChanged(ctx context.Context, change model.RoleChange)
	QuotaExceeded(ctx context.Context, ev model.QuotaExceeded)
}

// LogNotifier writes notifications to structured logs. It is the default when
// no message broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) RoleChanged(ctx context.Context, change model.RoleChange) {
	n.Logger.InfoContext(ctx, "role changed",
		"identity", change.Identity,
		"old_role", change.OldRole,
		"new_role", change.NewRole,
		"reason", change.Reason,
	)
}

func (n *LogNotifier) QuotaExceeded(ctx context.Context, ev model.QuotaExceeded) {
	n.Logger.InfoContext(ctx, "quota exceeded",
		"identity", ev.Identity,
		"used", ev.Used,
		"limit", ev.Limit,
	)
}
