package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ghosttab",
		Name:      "pages_indexed_total",
		Help:      "Pages accepted by the index endpoint.",
	})
	chunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ghosttab",
		Name:      "chunks_indexed_total",
		Help:      "Chunks written to the vector index.",
	})
	pagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ghosttab",
		Name:      "pages_deleted_total",
		Help:      "Pages removed from the index.",
	})
	searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghosttab",
		Name:      "searches_total",
		Help:      "Search requests served, by mode.",
	}, []string{"mode"})
	agentRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ghosttab",
		Name:      "agent_runs_total",
		Help:      "Agent chat runs started.",
	})
	agentSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ghosttab",
		Name:      "agent_steps",
		Help:      "Reasoning steps used per answered agent run.",
		Buckets:   prometheus.LinearBuckets(1, 1, 15),
	})
)
