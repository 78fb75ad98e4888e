/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes Prometheus counters and histograms for the
// reconciliation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_cycles_total",
			Help: "Total reconciliation cycles run, by repository",
		},
		[]string{"repository"},
	)

	decisionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_decisions_total",
			Help: "Total thread decisions, by action",
		},
		[]string{"repository", "action"},
	)

	outcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_lifecycle_outcomes_total",
			Help: "Terminal lifecycle outcomes, by phase",
		},
		[]string{"repository", "outcome"},
	)

	staleCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_stale_recollections_total",
			Help: "Re-collections triggered by branch head drift",
		},
		[]string{"repository"},
	)

	lifecycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewflow_lifecycle_duration_seconds",
			Help:    "Wall-clock time from first sighting to terminal phase",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12),
		},
		[]string{"repository", "outcome"},
	)
)

// RecordCycle counts one reconciliation cycle for the repository.
func RecordCycle(repo string) {
	cyclesCounter.WithLabelValues(repo).Inc()
}

// RecordDecision counts one thread decision.
func RecordDecision(repo, action string) {
	decisionsCounter.WithLabelValues(repo, action).Inc()
}

// RecordStale counts one stale-triggered re-collection.
func RecordStale(repo string) {
	staleCounter.WithLabelValues(repo).Inc()
}

// RecordOutcome counts a terminal lifecycle outcome and its duration.
func RecordOutcome(repo, outcome string, elapsed time.Duration) {
	outcomeCounter.WithLabelValues(repo, outcome).Inc()
	lifecycleDuration.WithLabelValues(repo, outcome).Observe(elapsed.Seconds())
}
