// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/internal/plugin"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/prefs/store"
)

// The plugins shipped in the repository's plugins/ directory load against
// the default folder layout.
func TestHost_BundledPlugins(t *testing.T) {
	ctx := context.Background()
	root := prefs.NewRoot(store.NewMemory(), prefs.WithAutosaveInterval(0))
	require.NoError(t, root.Load(ctx))
	t.Cleanup(func() { _ = root.Close(ctx) })

	for run := 1; run <= 2; run++ {
		h := plugin.NewHost(root, plugin.NewFSSource(os.DirFS(filepath.Join("..", ".."))))
		if run == 1 {
			require.NoError(t, h.Install(ctx, "greeter"))
			require.NoError(t, h.Install(ctx, "counter"))
		}
		require.NoError(t, h.Initialize(ctx))
		assert.Equal(t, []string{"counter", "greeter"}, h.LoadOrder())
		require.NoError(t, h.Close(ctx))

		d, err := root.Dictionary(ctx, "counter", prefs.ReadOnly)
		require.NoError(t, err)
		n, err := d.Get("counters.greeter.greetings")
		require.NoError(t, err)
		assert.InDelta(t, float64(run), n, 0)
	}

	d, err := root.Dictionary(ctx, "greeter", prefs.ReadOnly)
	require.NoError(t, err)
	greeting, err := d.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "Hello", greeting)
}
