// SPDX-License-Identifier: MIT

// Package metrics exposes the service's business-level prometheus metrics.
// HTTP-level metrics live in the API middleware.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome",
	}, []string{"outcome"})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "attendance_transitions_total",
		Help:      "Attendance state transitions by target status and actor",
	}, []string{"status", "actor"})

	samplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "rssi_samples_ingested_total",
		Help:      "RSSI samples accepted by the ingestion path",
	})

	clockOffsets = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "verisit",
		Name:      "clock_offset_seconds",
		Help:      "Absolute device clock offsets observed at ingestion",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "anomalies_total",
		Help:      "Anomalies upserted by severity",
	}, []string{"severity"})

	analyzerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "analyzer_runs_total",
		Help:      "Analyzer runs by outcome",
	}, []string{"outcome"})

	analyzerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "verisit",
		Name:      "analyzer_run_duration_seconds",
		Help:      "Wall time of one analyzer run",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	janitorExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "janitor_expired_total",
		Help:      "Provisional records expired by the janitor",
	})

	janitorPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verisit",
		Name:      "janitor_pruned_total",
		Help:      "Rows pruned by the janitor, by kind",
	}, []string{"kind"})
)

// RecordCheckIn counts a check-in attempt; outcome is one of
// created, folded, replayed, device_mismatch, unauthorized, error.
func RecordCheckIn(outcome string) {
	checkIns.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a state transition performed by the given actor
// (client, analyzer, janitor, review).
func RecordTransition(status, actor string) {
	transitions.WithLabelValues(status, actor).Inc()
}

// RecordIngestion counts accepted samples and observes the clock offset.
func RecordIngestion(sampleCount int, offsetMS int64) {
	samplesIngested.Add(float64(sampleCount))
	offset := float64(offsetMS) / 1000.0
	if offset < 0 {
		offset = -offset
	}
	clockOffsets.Observe(offset)
}

// RecordAnomaly counts one anomaly upsert.
func RecordAnomaly(severity string) {
	anomalies.WithLabelValues(severity).Inc()
}

// RecordAnalyzerRun counts a run and observes its duration.
func RecordAnalyzerRun(outcome string, d time.Duration) {
	analyzerRuns.WithLabelValues(outcome).Inc()
	analyzerDuration.Observe(d.Seconds())
}

// RecordJanitorExpired counts provisional records flipped to cancelled.
func RecordJanitorExpired(n int) {
	janitorExpired.Add(float64(n))
}

// RecordJanitorPruned counts deleted rows by kind
// (cancelled_attendance, idempotency, anomalies).
func RecordJanitorPruned(kind string, n int) {
	janitorPruned.WithLabelValues(kind).Add(float64(n))
}
