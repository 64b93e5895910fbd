package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medrag_queries_total",
		Help: "Total number of processed queries by outcome",
	}, []string{"outcome"})

	queryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medrag_query_latency_seconds",
		Help:    "Wall-clock latency of ProcessQuery in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 90},
	})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medrag_tool_calls_total",
		Help: "Total number of router tool calls by tool and status",
	}, []string{"tool", "status"})

	roundsObserved = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medrag_rounds",
		Help:    "Tool rounds executed per query",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	roundCapTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medrag_round_cap_total",
		Help: "Queries whose tool loop was cut off by the round cap",
	})
)

// Query outcomes reported on medrag_queries_total.
const (
	outcomeDirect = "direct"
	outcomeTools  = "tools"
	outcomeError  = "error"
)

func recordQuery(outcome string, latency time.Duration, rounds int, capReached bool) {
	queriesTotal.WithLabelValues(outcome).Inc()
	queryLatency.Observe(latency.Seconds())
	roundsObserved.Observe(float64(rounds))
	if capReached {
		roundCapTotal.Inc()
	}
}

func recordToolCall(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}
