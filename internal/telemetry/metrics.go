// Package telemetry exposes Prometheus metrics for the access core.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters the core increments as it works.
type Metrics struct {
	registry *prometheus.Registry

	Transitions    *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	QuotaDenials   prometheus.Counter
	SweepExpired   prometheus.Counter
	SweepLifted    prometheus.Counter
	SweepFailures  prometheus.Counter
	LockTimeouts   prometheus.Counter
	StaleConflicts prometheus.Counter
}

// New creates the metric set on a dedicated Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateward_role_transitions_total",
			Help: "Registry role transitions by action.",
		}, []string{"action"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateward_precondition_rejections_total",
			Help: "Operations rejected by role preconditions, by error kind.",
		}, []string{"kind"}),
		QuotaDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateward_quota_denials_total",
			Help: "Increments rejected because the daily ceiling was reached.",
		}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateward_sweep_expired_total",
			Help: "Whitelist entries expired by the sweeper.",
		}),
		SweepLifted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateward_sweep_lifted_total",
			Help: "Temporary restrictions lifted by the sweeper.",
		}),
		SweepFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateward_sweep_failures_total",
			Help: "Per-identity sweep failures (retried next pass).",
		}),
		LockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateward_lock_timeouts_total",
			Help: "Per-identity lock acquisitions that timed out.",
		}),
		StaleConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateward_stale_conflicts_total",
			Help: "Writes rejected because the record changed since it was read.",
		}),
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
