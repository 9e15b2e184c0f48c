// Package telemetry exposes prometheus counters for the capture and
// delivery paths. Collection and scraping are external concerns, the
// counters are mounted on the management server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegos_events_captured_total",
		Help: "Row change records decoded from the source binlog",
	}, []string{"source"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegos_events_published_total",
		Help: "Change events published to the event log",
	}, []string{"topic"})

	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegos_events_applied_total",
		Help: "Sink operations acknowledged by the target store",
	}, []string{"topic"})

	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegos_events_skipped_total",
		Help: "Poison events skipped under the skip-poison policy",
	}, []string{"topic"})

	ApplyRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegos_apply_retries_total",
		Help: "Transient sink failures that triggered a backoff retry",
	}, []string{"topic"})

	PartitionsHalted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegos_partitions_halted_total",
		Help: "Partition appliers that entered the terminal halted state",
	}, []string{"topic"})
)
