// Package quota enforces the per-user daily usage ceiling. Counters roll over
// lazily: the day boundary is applied whenever a record is next touched, so
// inactive users never need a background reset job.
package quota

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

// ErrQuotaExceeded is returned when an increment would push usage past the
// identity's daily ceiling. Expected and frequent; a business outcome, not a
// system error.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// DefaultDailyLimit is the ceiling applied when no per-identity override
// exists. A limit of zero means unlimited.
const DefaultDailyLimit = 5

const (
	lockStripes = 128
	lockTimeout = 2 * time.Second
)

// Tracker is the quota component. Its locks are independent of the registry's
// so a user's own activity never contends with administrative actions on the
// same identity.
type Tracker struct {
	store    *store.Store
	locks    *locking.Table
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	defaultLimit int
	now          func() time.Time
}

// New creates a Tracker. defaultLimit <= 0 falls back to DefaultDailyLimit.
func New(st *store.Store, notifier notify.Notifier, metrics *telemetry.Metrics, logger *slog.Logger, defaultLimit int) *Tracker {
	if defaultLimit <= 0 {
		defaultLimit = DefaultDailyLimit
	}
	return &Tracker{
		store:        st,
		locks:        locking.NewTable(lockStripes),
		notifier:     notifier,
		metrics:      metrics,
		logger:       logger,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// effectiveRecord applies the lazy day rollover: if rec's stored day differs
// from today, the returned record counts from zero. Pure; rec is not written
// back here.
func effectiveRecord(rec model.QuotaRecord, today string, now time.Time) model.QuotaRecord {
	if rec.Day == today {
		return rec
	}
	rec.Day = today
	rec.Used = 0
	rec.LastResetAt = now
	return rec
}

// CheckLimit reports whether the identity may perform more billable work
// today. The rollover check is applied to the read; no write happens here.
func (t *Tracker) CheckLimit(ctx context.Context, identity string) (model.QuotaStatus, error) {
	now := t.now().UTC()
	rec, err := t.load(ctx, identity, now)
	if err != nil {
		return model.QuotaStatus{}, err
	}
	return status(rec), nil
}

// Increment adds amount (at least 1) to today's usage. It re-validates the
// ceiling defensively and fails with ErrQuotaExceeded when the post-increment
// count would pass it, leaving the stored count untouched.
func (t *Tracker) Increment(ctx context.Context, identity string, amount int) (int, error) {
	if amount < 1 {
		amount = 1
	}

	release, err := t.locks.Acquire(ctx, identity, lockTimeout)
	if err != nil {
		return 0, err
	}
	defer release()

	now := t.now().UTC()
	rec, err := t.load(ctx, identity, now)
	if err != nil {
		return 0, err
	}

	if rec.DailyLimit > 0 && rec.Used+amount > rec.DailyLimit {
		t.metrics.QuotaDenials.Inc()
		t.notifier.QuotaExceeded(ctx, model.QuotaExceeded{
			Identity: identity,
			Used:     rec.Used,
			Limit:    rec.DailyLimit,
			At:       now,
		})
		return rec.Used, ErrQuotaExceeded
	}

	rec.Used += amount
	if err := t.store.SaveQuota(ctx, &rec); err != nil {
		return 0, err
	}
	return rec.Used, nil
}

// SetLimit overrides the daily ceiling for one identity. Zero means
// unlimited. Historical counts are unaffected.
func (t *Tracker) SetLimit(ctx context.Context, identity string, ceiling int, byAdmin string) error {
	if ceiling < 0 {
		return fmt.Errorf("ceiling must be non-negative, got %d", ceiling)
	}

	release, err := t.locks.Acquire(ctx, identity, lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	now := t.now().UTC()
	rec, err := t.load(ctx, identity, now)
	if err != nil {
		return err
	}
	rec.DailyLimit = ceiling

	if err := t.store.SaveQuota(ctx, &rec); err != nil {
		return err
	}

	return t.store.AppendEvent(ctx, &model.HistoryEvent{
		Identity:  identity,
		Label:     rec.Label,
		Action:    model.ActionQuotaLimitSet,
		Status:    model.StatusSuccess,
		HandledBy: byAdmin,
		Details:   fmt.Sprintf("daily ceiling set to %d", ceiling),
		CreatedAt: now,
	})
}

// load fetches the identity's record (creating a fresh in-memory one on first
// use) with the rollover already applied.
func (t *Tracker) load(ctx context.Context, identity string, now time.Time) (model.QuotaRecord, error) {
	today := now.Format(model.QuotaDayFormat)

	rec, err := t.store.GetQuota(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return model.QuotaRecord{
			Identity:    identity,
			DailyLimit:  t.defaultLimit,
			Day:         today,
			Used:        0,
			LastResetAt: now,
		}, nil
	}
	if err != nil {
		return model.QuotaRecord{}, err
	}
	return effectiveRecord(*rec, today, now), nil
}

func status(rec model.QuotaRecord) model.QuotaStatus {
	if rec.DailyLimit == 0 {
		return model.QuotaStatus{Allowed: true, Used: rec.Used, Limit: 0, Remaining: -1}
	}
	remaining := rec.DailyLimit - rec.Used
	if remaining < 0 {
		remaining = 0
	}
	return model.QuotaStatus{
		Allowed:   remaining > 0,
		Used:      rec.Used,
		Limit:     rec.DailyLimit,
		Remaining: remaining,
	}
}
