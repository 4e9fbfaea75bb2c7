// Package metrics provides Prometheus metrics for the game service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GameMetrics collects round, wager and claim metrics on a private registry.
type GameMetrics struct {
	registry *prometheus.Registry

	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	StakesTotal     *prometheus.CounterVec
	RoundsSettled   *prometheus.CounterVec
	CurrentRound    prometheus.Gauge
	OracleFetches   *prometheus.CounterVec
	ClaimsTotal     *prometheus.CounterVec
}

// NewGameMetrics creates and registers all collectors.
func NewGameMetrics() *GameMetrics {
	registry := prometheus.NewRegistry()

	m := &GameMetrics{
		registry: registry,

		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spacewager_commands_total",
				Help: "Commands executed, by command and result",
			},
			[]string{"command", "result"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spacewager_command_duration_seconds",
				Help:    "Command latency including the store transaction",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"command"},
		),
		StakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spacewager_stakes_total",
				Help: "Accepted stakes by direction",
			},
			[]string{"direction"},
		),
		RoundsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spacewager_rounds_settled_total",
				Help: "Settled rounds by outcome",
			},
			[]string{"outcome"},
		),
		CurrentRound: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spacewager_current_round",
				Help: "Id of the round currently accepting stakes",
			},
		),
		OracleFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spacewager_oracle_fetches_total",
				Help: "Reference price fetches by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spacewager_claimed_rounds_total",
				Help: "Claimed wagers by kind (win, loss, refund)",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.StakesTotal,
		m.RoundsSettled,
		m.CurrentRound,
		m.OracleFetches,
		m.ClaimsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *GameMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *GameMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCommand records the outcome and latency of one command.
func (m *GameMetrics) ObserveCommand(command string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CommandsTotal.WithLabelValues(command, result).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}
