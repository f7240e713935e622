// Package metrics exposes the engine's Prometheus gauges/counters for the
// ops HTTP API to serve. They are registered on the default Prometheus
// registry; only ProviderFallbackTotal is updated by the engine (through
// RecordFallback), and nothing in the engine sets the other collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderFallbackTotal counts every time the Market Data Gateway moved
	// from one provider to the next within a single call (spec.md §8
	// Scenario C).
	ProviderFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionstrike_provider_fallback_total",
		Help: "Count of market data provider fallbacks, labeled by (from, to).",
	}, []string{"from", "to"})

	// TickDuration observes wall-clock time for a full orchestrator tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optionstrike_tick_duration_seconds",
		Help:    "Duration of one orchestrator tick across all four phases.",
		Buckets: prometheus.DefBuckets,
	})

	// PlaysByState reports the count of plays in each lifecycle state; no
	// code in the engine sets it.
	PlaysByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "optionstrike_plays_by_state",
		Help: "Current number of plays in each lifecycle state.",
	}, []string{"state"})

	// RiskDenialsTotal counts Risk Gate denials, labeled by reason.
	RiskDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionstrike_risk_denials_total",
		Help: "Count of Risk Gate denials, labeled by structured reason.",
	}, []string{"reason"})

	// BrokerOrdersTotal counts broker order submissions, labeled by side and
	// terminal outcome.
	BrokerOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionstrike_broker_orders_total",
		Help: "Count of broker order submissions, labeled by side and outcome.",
	}, []string{"side", "outcome"})
)

// RecordFallback is a marketdata.FallbackRecorder implementation wiring the
// gateway's provider-failover events into ProviderFallbackTotal.
func RecordFallback(from, to string) {
	ProviderFallbackTotal.WithLabelValues(from, to).Inc()
}
