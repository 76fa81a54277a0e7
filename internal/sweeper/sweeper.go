// Package sweeper runs the periodic pass that demotes whitelist entries past
// their expiry and lifts blacklist restrictions past their restriction
// period. It mutates nothing directly: every transition goes through the
// registry under the same per-identity locking as request traffic.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/telemetry"
)

const (
	// DefaultInterval is how often the sweeper scans for due entries.
	DefaultInterval = 10 * time.Minute

	// DefaultIdentityTimeout bounds the processing of a single identity; a
	// timed-out identity is skipped and retried on the next pass.
	DefaultIdentityTimeout = 5 * time.Second
)

// Config controls a Sweeper.
type Config struct {
	Interval        time.Duration
	IdentityTimeout time.Duration

	// RequeueExpired re-creates a pending access request for identities whose
	// whitelist access just expired, so the collaborator can re-post the
	// request for approval.
	RequeueExpired bool
}

// Result summarizes one sweep pass.
type Result struct {
	Expired  int
	Lifted   int
	Failures int
}

// Sweeper is the expiration background task. It runs independently of
// request volume and only talks to the registry.
type Sweeper struct {
	cfg      Config
	store    *store.Store
	registry *registry.Registry
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Sweeper. Zero config fields fall back to defaults.
func New(cfg Config, st *store.Store, reg *registry.Registry, metrics *telemetry.Metrics, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = DefaultIdentityTimeout
	}
	return &Sweeper{
		cfg:      cfg,
		store:    st,
		registry: reg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes sweep passes on the configured interval until ctx is
// cancelled. An immediate first pass runs on startup.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res := s.SweepOnce(ctx)
	if res.Expired > 0 || res.Lifted > 0 || res.Failures > 0 {
		s.logger.InfoContext(ctx, "sweep pass complete",
			"expired", res.Expired, "lifted", res.Lifted, "failures", res.Failures)
	}
}

// SweepOnce runs a single pass. Each identity is processed independently
// under its own timeout: one failure never aborts the remainder of the pass,
// it is logged and retried next time.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	var res Result
	now := s.now()

	expired, err := s.store.ListExpiredWhitelist(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "scan expired whitelist", "error", err)
		res.Failures++
	}
	for _, m := range expired {
		if s.expireOne(ctx, m) {
			res.Expired++
			s.metrics.SweepExpired.Inc()
		} else {
			res.Failures++
			s.metrics.SweepFailures.Inc()
		}
	}

	elapsed, err := s.store.ListExpiredTemporaryBlacklist(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "scan expired blacklist", "error", err)
		res.Failures++
	}
	for _, m := range elapsed {
		if s.liftOne(ctx, m) {
			res.Lifted++
			s.metrics.SweepLifted.Inc()
		} else {
			res.Failures++
			s.metrics.SweepFailures.Inc()
		}
	}

	return res
}

func (s *Sweeper) expireOne(ctx context.Context, m model.Member) bool {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.IdentityTimeout)
	defer cancel()

	removed, err := s.registry.ExpireWhitelisted(opCtx, m.Identity)
	if err != nil {
		s.logger.WarnContext(ctx, "expire whitelist entry", "identity", m.Identity, "error", err)
		return false
	}
	if removed == nil {
		// Raced with a concurrent extension or removal; nothing to do.
		return true
	}

	if s.cfg.RequeueExpired {
		profile := model.Profile{Label: removed.Label, FirstName: removed.FirstName, LastName: removed.LastName}
		if _, err := s.registry.RequestAccess(opCtx, removed.Identity, profile); err != nil {
			s.logger.WarnContext(ctx, "requeue expired identity", "identity", m.Identity, "error", err)
		}
	}
	return true
}

func (s *Sweeper) liftOne(ctx context.Context, m model.Member) bool {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.IdentityTimeout)
	defer cancel()

	if _, err := s.registry.LiftRestriction(opCtx, m.Identity); err != nil {
		s.logger.WarnContext(ctx, "lift restriction", "identity", m.Identity, "error", err)
		return false
	}
	return true
}
