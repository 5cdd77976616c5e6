// Package metrics provides Prometheus instrumentation for the exposure engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesProcessed counts trades run through the trade exposure calculator.
	TradesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xva_trades_processed_total",
		Help: "Trades processed by the trade exposure calculator",
	})

	// TradesZeroed counts trades whose exposure was zeroed after a recoverable error.
	TradesZeroed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xva_trades_zeroed_total",
		Help: "Trades with zeroed exposure after a recoverable error",
	}, []string{"trade_type"})

	// NettingSetsProcessed counts netting sets aggregated by the netted calculator.
	NettingSetsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xva_netting_sets_processed_total",
		Help: "Netting sets processed by the netted exposure calculator",
	}, []string{"csa"})

	// BuildDuration tracks calculator build latency.
	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xva_build_duration_seconds",
		Help:    "Exposure calculator build duration in seconds",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"calculator"})

	// BuildFailures counts builds aborted by a fatal error.
	BuildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xva_build_failures_total",
		Help: "Exposure calculator builds aborted by an error",
	}, []string{"calculator"})
)

// Calculator label values.
const (
	CalculatorTrade  = "trade"
	CalculatorNetted = "netted"
)

// CSALabel returns the netting set label value for NettingSetsProcessed.
func CSALabel(active bool) string {
	if active {
		return "active"
	}
	return "none"
}
