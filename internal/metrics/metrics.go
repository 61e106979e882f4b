// Package metrics exposes prometheus counters for sync runs and ledger writes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector registered by duedeck.
var Registry = prometheus.NewRegistry()

var (
	// SyncRuns counts finished runs by provider (lms, grading) and result (ok, error kind).
	SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duedeck",
		Name:      "sync_runs_total",
		Help:      "Finished sync runs by provider and result.",
	}, []string{"provider", "result"})

	// Upserts counts reconciliation outcomes by source and outcome (inserted, merged).
	Upserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duedeck",
		Name:      "assignment_upserts_total",
		Help:      "Reconciled assignment candidates by source and outcome.",
	}, []string{"source", "outcome"})

	// SkippedItems counts per-item failures swallowed during a run.
	SkippedItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duedeck",
		Name:      "skipped_items_total",
		Help:      "Courses or activities skipped after a per-item failure.",
	}, []string{"provider"})

	// Extractions counts syllabus extraction attempts by result.
	Extractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duedeck",
		Name:      "syllabus_extractions_total",
		Help:      "Syllabus extraction attempts by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(SyncRuns, Upserts, SkippedItems, Extractions)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
