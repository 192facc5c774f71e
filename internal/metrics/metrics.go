// Package metrics exposes renewal sweep figures to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "renewals"

// Metrics holds the collectors on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	SweepsTotal     *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	SweepsSkipped   prometheus.Counter
	LastSweep       prometheus.Gauge
	Outcomes        *prometheus.CounterVec
	ChargedMinor    *prometheus.CounterVec
	CampaignsPaused prometheus.Counter
	PendingCascades prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed renewal sweeps by result.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Renewal sweep duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}),
		SweepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_skipped_total",
			Help:      "Triggers dropped because a sweep was already running.",
		}),
		LastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last sweep finished.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_outcomes_total",
			Help:      "Per-subscription sweep outcomes.",
		}, []string{"outcome"}),
		ChargedMinor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charged_minor_units_total",
			Help:      "Amount captured by sweeps, in minor currency units.",
		}, []string{"currency"}),
		CampaignsPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_paused_total",
			Help:      "Campaigns paused by entitlement enforcement.",
		}),
		PendingCascades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_enforcements",
			Help:      "Tenants whose entitlement cascade is awaiting a retry.",
		}),
	}

	reg.MustRegister(
		m.SweepsTotal, m.SweepDuration, m.SweepsSkipped, m.LastSweep,
		m.Outcomes, m.ChargedMinor, m.CampaignsPaused, m.PendingCascades,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome labels.
const (
	OutcomeReminder  = "reminder_sent"
	OutcomeDowngrade = "downgrade_applied"
	OutcomeRenewed   = "renewed"
	OutcomeFailed    = "renewal_failed"
	OutcomeDegraded  = "degraded_to_free"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

func (m *Metrics) SweepFinished(started, finished time.Time, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.SweepsTotal.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(finished.Sub(started).Seconds())
	m.LastSweep.Set(float64(finished.Unix()))
}

func (m *Metrics) SweepSkipped() {
	if m == nil {
		return
	}
	m.SweepsSkipped.Inc()
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Charged(currency string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.ChargedMinor.WithLabelValues(currency).Add(float64(amount))
}

func (m *Metrics) Paused(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CampaignsPaused.Add(float64(n))
}

func (m *Metrics) SetPendingCascades(n int) {
	if m == nil {
		return
	}
	m.PendingCascades.Set(float64(n))
}
