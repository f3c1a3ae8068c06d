// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolInvocations counts tool calls by tool name and outcome class.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codectx_tool_invocations_total",
		Help: "Tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// SearchCollectionsSkipped counts collections dropped from a fan-out for
	// exceeding their budget.
	SearchCollectionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codectx_search_collections_skipped_total",
		Help: "Collections skipped by per-collection timeout during search_all.",
	})

	// IndexingRuns counts indexing runs by outcome.
	IndexingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codectx_indexing_runs_total",
		Help: "Indexing runs by outcome.",
	}, []string{"outcome"})

	// RateLimited counts requests rejected by the per-address rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codectx_rate_limited_total",
		Help: "Requests rejected with 429 by the rate limiter.",
	})

	// AuthFailures counts rejected authentication attempts.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codectx_auth_failures_total",
		Help: "Requests rejected with 401.",
	})

	// ActiveSessions tracks live network sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codectx_active_sessions",
		Help: "Currently active network transport sessions.",
	})

	// SyncRuns counts sync loop passes.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codectx_sync_runs_total",
		Help: "Sync loop reconcile passes by outcome.",
	}, []string{"outcome"})
)
