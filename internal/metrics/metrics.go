// Package metrics holds the Prometheus collectors shared by the dealer and
// the query service:
//   - dealer_bars_total{symbol,outcome}        bars seen (decided|outside_session|error)
//   - dealer_instructions_total{symbol,action} parsed instructions
//   - dealer_forced_closes_total{symbol,session}
//   - dealer_net_position{symbol}              net lots after each bar
//   - llm_calls_total{provider,mode,status}    mode: chat|stream
//   - query_runs_total{variant,status}         variant: batch|stream
//   - query_repairs_total{outcome}             outcome: fixed|retry|exhausted|refused
//   - sandbox_exec_seconds                     wall time per sandbox run
//
// Collectors are registered in init() and exposed at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DealerBars = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealer_bars_total",
			Help: "Bars processed by dealers",
		},
		[]string{"symbol", "outcome"},
	)

	DealerInstructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealer_instructions_total",
			Help: "Trade instructions parsed from LLM replies",
		},
		[]string{"symbol", "action"},
	)

	DealerForcedCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealer_forced_closes_total",
			Help: "Forced liquidations split by session",
		},
		[]string{"symbol", "session"}, // session: day|night|date_change
	)

	DealerNetPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dealer_net_position",
			Help: "Net open lots (long minus short)",
		},
		[]string{"symbol"},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "LLM requests",
		},
		[]string{"provider", "mode", "status"},
	)

	QueryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_runs_total",
			Help: "Analytical queries run",
		},
		[]string{"variant", "status"},
	)

	QueryRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_repairs_total",
			Help: "Execution-repair loop outcomes",
		},
		[]string{"outcome"},
	)

	SandboxExecSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandbox_exec_seconds",
			Help:    "Wall time of one sandbox execution",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(
		DealerBars,
		DealerInstructions,
		DealerForcedCloses,
		DealerNetPosition,
		LLMCalls,
		QueryRuns,
		QueryRepairs,
		SandboxExecSeconds,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
