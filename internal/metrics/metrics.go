// Package metrics exposes Prometheus counters and gauges for the
// decision engine. Everything registers on a private registry so tests
// can instantiate the package without colliding with the global one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the engine emits.
type Metrics struct {
	registry *prometheus.Registry

	DecisionsTotal      *prometheus.CounterVec
	BlocksTotal         *prometheus.CounterVec
	WatchdogAdjustments *prometheus.CounterVec
	ArbitrationLosses   prometheus.Counter

	CompositeScore    *prometheus.GaugeVec
	AllocationWeight  *prometheus.GaugeVec
	ControlValue      *prometheus.GaugeVec
	SignalFreshness   *prometheus.GaugeVec
	CounterfactualPnL *prometheus.GaugeVec
}

// New builds a metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradebot",
			Name:      "decisions_total",
			Help:      "Decisions evaluated, by final status.",
		}, []string{"status"}),
		BlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradebot",
			Name:      "blocks_total",
			Help:      "Blocked decisions, by reason.",
		}, []string{"reason"}),
		WatchdogAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradebot",
			Name:      "watchdog_adjustments_total",
			Help:      "Applied watchdog control steps, by control.",
		}, []string{"control"}),
		ArbitrationLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradebot",
			Name:      "arbitration_losses_total",
			Help:      "Candidates rejected by same-symbol-side arbitration.",
		}),
		CompositeScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradebot",
			Name:      "composite_score",
			Help:      "Latest composite conviction score per symbol and side.",
		}, []string{"symbol", "side"}),
		AllocationWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradebot",
			Name:      "allocation_weight",
			Help:      "Capital allocation weight per strategy.",
		}, []string{"strategy"}),
		ControlValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradebot",
			Name:      "control_value",
			Help:      "Current value of each governance control.",
		}, []string{"control"}),
		SignalFreshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradebot",
			Name:      "signal_age_seconds",
			Help:      "Age of the latest reading per signal and symbol.",
		}, []string{"signal", "symbol"}),
		CounterfactualPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradebot",
			Name:      "counterfactual_pnl",
			Help:      "Rolling counterfactual net PnL by cohort.",
		}, []string{"cohort"}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.BlocksTotal,
		m.WatchdogAdjustments,
		m.ArbitrationLosses,
		m.CompositeScore,
		m.AllocationWeight,
		m.ControlValue,
		m.SignalFreshness,
		m.CounterfactualPnL,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
