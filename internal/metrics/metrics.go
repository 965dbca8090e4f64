// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts agent-loop runs by tier, segment and outcome
	// (completed | gated | failed).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadgate",
		Name:      "runs_total",
		Help:      "Agent loop runs by tier, segment and outcome.",
	}, []string{"tier", "segment", "outcome"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "leadgate",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of one agent loop run.",
		Buckets:   prometheus.DefBuckets,
	})

	// ApprovalsTotal counts ledger transitions by resulting status.
	ApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadgate",
		Name:      "approvals_total",
		Help:      "Approval requests by resulting status.",
	}, []string{"status"})

	// ScoringFallbacks counts LLM scoring attempts that fell back to rules.
	ScoringFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadgate",
		Name:      "scoring_fallbacks_total",
		Help:      "LLM scoring fallbacks to the rule-based scorer, by reason.",
	}, []string{"reason"})

	// MemoryLookups counts company-memory lookups by result (hit | miss | error).
	MemoryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadgate",
		Name:      "memory_lookups_total",
		Help:      "Company memory lookups by result.",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
