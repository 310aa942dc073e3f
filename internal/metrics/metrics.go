// Package metrics exposes hlldb-server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlldb_column_updates_total",
		Help: "The total number of Update calls processed per column.",
	}, []string{"table", "column"})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlldb_column_merges_total",
		Help: "The total number of Merge calls processed per column.",
	}, []string{"table", "column"})

	UpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlldb_sketch_kind_upgrades_total",
		Help: "The total number of times a sketch moved to a denser encoding.",
	}, []string{"table", "column", "to_kind"})

	EstimatedCardinality = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlldb_estimated_cardinality",
		Help: "The most recently computed cardinality estimate per column.",
	}, []string{"table", "column"})

	SerializedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlldb_sketch_serialized_bytes",
		Help: "The current serialized size of the sketch per column.",
	}, []string{"table", "column"})

	IngestEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlldb_ingest_events_total",
		Help: "The total number of replicated column values seen, by whether they were folded into a sketch (applied) or skipped.",
	}, []string{"table", "status"})
)
