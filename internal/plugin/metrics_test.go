// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/internal/plugin"
)

func TestMetrics_RegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NotPanics(t, func() { plugin.RegisterMetrics(reg) })
}

func TestMetrics_LoadOutcomes(t *testing.T) {
	success := plugin.Loads.WithLabelValues(plugin.LoadSuccess)
	failure := plugin.Loads.WithLabelValues(plugin.LoadFailure)
	beforeSuccess, beforeFailure := testutil.ToFloat64(success), testutil.ToFloat64(failure)

	hs := newHarness(t)
	hs.add("ok", "name: ok\n", ``)
	hs.add("broken", "name: broken\n", `error("boom")`)
	hs.install(t, "ok", "broken")

	require.Error(t, hs.host.Initialize(context.Background()))

	assert.InDelta(t, beforeSuccess+1, testutil.ToFloat64(success), 0)
	assert.InDelta(t, beforeFailure+1, testutil.ToFloat64(failure), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(plugin.LoadedPlugins), 0, "ok and the core")
}
