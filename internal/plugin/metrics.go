// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Load outcome labels.
const (
	LoadSuccess = "success"
	LoadFailure = "failure"
)

// Loads counts plugin load attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Loads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marktime_plugin_loads_total",
		Help: "Total number of plugin loads by result",
	},
	[]string{"result"},
)

// LoadDuration observes how long each plugin takes to load, excluding its
// dependencies.
var LoadDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "marktime_plugin_load_duration_seconds",
		Help:    "Plugin load duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"plugin"},
)

// LoadedPlugins is the number of plugins currently loaded, the core included.
var LoadedPlugins = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "marktime_plugins_loaded",
		Help: "Number of loaded plugins",
	},
)

// ManifestFetches counts manifest and entry reads by result.
var ManifestFetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marktime_plugin_fetches_total",
		Help: "Total number of plugin file fetches by result",
	},
	[]string{"result"},
)

// RegisterMetrics registers plugin package metrics with the given Prometheus
// registry. Panics if registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Loads)
	reg.MustRegister(LoadDuration)
	reg.MustRegister(LoadedPlugins)
	reg.MustRegister(ManifestFetches)
}

// RecordLoad increments the load counter.
func RecordLoad(result string) {
	Loads.WithLabelValues(result).Inc()
}
