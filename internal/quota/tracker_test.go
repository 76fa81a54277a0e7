package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/notify"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/telemetry"
)

func newTestTracker(t *testing.T, defaultLimit int) *Tracker {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, &notify.LogNotifier{Logger: logger}, telemetry.New(), logger, defaultLimit)
}

func TestCheckLimitFreshIdentity(t *testing.T) {
	tr := newTestTracker(t, 5)

	status, err := tr.CheckLimit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if !status.Allowed || status.Used != 0 || status.Limit != 5 || status.Remaining != 5 {
		t.Errorf("got %+v", status)
	}
}

func TestIncrementToCeiling(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		used, err := tr.Increment(ctx, "u1", 1)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if used != i {
			t.Errorf("got used %d, want %d", used, i)
		}
	}

	// The sixth attempt is denied and leaves the count untouched.
	used, err := tr.Increment(ctx, "u1", 1)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if used != 5 {
		t.Errorf("got used %d after denial, want 5", used)
	}

	status, _ := tr.CheckLimit(ctx, "u1")
	if status.Allowed || status.Remaining != 0 || status.Used != 5 {
		t.Errorf("got %+v", status)
	}
}

func TestIncrementAmountBelowOne(t *testing.T) {
	tr := newTestTracker(t, 5)

	// Amounts below 1 count as 1.
	used, err := tr.Increment(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if used != 1 {
		t.Errorf("got used %d, want 1", used)
	}
}

func TestIncrementOvershootDenied(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	if _, err := tr.Increment(ctx, "u1", 4); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	// 4 + 2 would pass the ceiling: denied, count stays at 4.
	if _, err := tr.Increment(ctx, "u1", 2); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	status, _ := tr.CheckLimit(ctx, "u1")
	if status.Used != 4 {
		t.Errorf("got used %d, want 4", status.Used)
	}
}

func TestLazyDayRollover(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 29, 23, 50, 0, 0, time.UTC)
	tr.now = func() time.Time { return day1 }

	for i := 0; i < 5; i++ {
		if _, err := tr.Increment(ctx, "u1", 1); err != nil {
			t.Fatalf("day1 increment: %v", err)
		}
	}
	if _, err := tr.Increment(ctx, "u1", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ceiling on day1, got %v", err)
	}

	// Crossing midnight resets the effective count without a background job.
	day2 := time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)
	tr.now = func() time.Time { return day2 }

	status, err := tr.CheckLimit(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckLimit day2: %v", err)
	}
	if !status.Allowed || status.Used != 0 || status.Remaining != 5 {
		t.Errorf("got %+v after rollover", status)
	}

	used, err := tr.Increment(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("day2 increment: %v", err)
	}
	if used != 1 {
		t.Errorf("got used %d, want 1", used)
	}
}

func TestUnlimitedCeiling(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	// Ceiling 0 means unlimited.
	if err := tr.SetLimit(ctx, "u1", 0, "admin"); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}

	for i := 0; i < 20; i++ {
		if _, err := tr.Increment(ctx, "u1", 1); err != nil {
			t.Fatalf("unlimited increment %d: %v", i, err)
		}
	}

	status, _ := tr.CheckLimit(ctx, "u1")
	if !status.Allowed || status.Remaining != -1 || status.Used != 20 {
		t.Errorf("got %+v", status)
	}
}

func TestSetLimit(t *testing.T) {
	tr := newTestTracker(t, 5)
	ctx := context.Background()

	if err := tr.SetLimit(ctx, "u1", -1, "admin"); err == nil {
		t.Error("expected error for negative ceiling")
	}

	if err := tr.SetLimit(ctx, "u1", 2, "admin"); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}

	tr.Increment(ctx, "u1", 1)
	tr.Increment(ctx, "u1", 1)
	if _, err := tr.Increment(ctx, "u1", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ceiling of 2, got %v", err)
	}

	// Raising the ceiling mid-day keeps the count.
	if err := tr.SetLimit(ctx, "u1", 10, "admin"); err != nil {
		t.Fatalf("SetLimit raise: %v", err)
	}
	status, _ := tr.CheckLimit(ctx, "u1")
	if status.Used != 2 || status.Remaining != 8 {
		t.Errorf("got %+v", status)
	}
}

func TestEffectiveRecord(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rec := model.QuotaRecord{Identity: "u1", DailyLimit: 5, Day: "2026-08-29", Used: 4}

	got := effectiveRecord(rec, "2026-08-30", now)
	if got.Used != 0 || got.Day != "2026-08-30" {
		t.Errorf("got %+v", got)
	}
	if !got.LastResetAt.Equal(now) {
		t.Errorf("got LastResetAt %v, want %v", got.LastResetAt, now)
	}

	// Same day: unchanged.
	same := effectiveRecord(rec, "2026-08-29", now)
	if same.Used != 4 {
		t.Errorf("same-day record changed: %+v", same)
	}
}
