// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package prefs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Flush outcome labels.
const (
	FlushSuccess = "success"
	FlushError   = "error"
)

// Flushes counts preference flushes that had something to write.
// Use RegisterMetrics to register this with a Prometheus registry.
var Flushes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marktime_prefs_flushes_total",
		Help: "Total number of preference flushes",
	},
	[]string{"result"},
)

// FlushDuration observes how long writing dirty records takes.
var FlushDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "marktime_prefs_flush_duration_seconds",
		Help:    "Preference flush duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// PendingChanges is the number of writes waiting for the next flush.
var PendingChanges = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "marktime_prefs_pending_changes",
		Help: "Preference writes not yet flushed",
	},
)

// RegisterMetrics registers prefs package metrics with the given Prometheus
// registry. Panics if registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Flushes)
	reg.MustRegister(FlushDuration)
	reg.MustRegister(PendingChanges)
}

// RecordFlush increments the flush counter.
func RecordFlush(result string) {
	Flushes.WithLabelValues(result).Inc()
}
