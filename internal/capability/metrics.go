// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache outcome labels.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultDenied = "denied"
	ResultError  = "error"
)

// Requests counts capability lookups by provider, capability, and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marktime_capability_requests_total",
		Help: "Total number of capability lookups",
	},
	[]string{"provider", "capability", "result"},
)

// Initializations counts capability initialize signals by provider.
// Use RegisterMetrics to register this with a Prometheus registry.
var Initializations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marktime_capability_initializations_total",
		Help: "Total number of capability initialize signals",
	},
	[]string{"provider", "capability"},
)

// RegisterMetrics registers capability package metrics with the given
// Prometheus registry. Panics if registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests)
	reg.MustRegister(Initializations)
}

// RecordRequest increments the lookup counter.
func RecordRequest(provider, capability, result string) {
	Requests.WithLabelValues(provider, capability, result).Inc()
}
