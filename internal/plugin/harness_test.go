// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/internal/plugin"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/prefs/store"
)

type harness struct {
	files fstest.MapFS
	mem   *store.Memory
	root  *prefs.Root
	host  *plugin.Host
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	root := prefs.NewRoot(mem, prefs.WithAutosaveInterval(0))
	require.NoError(t, root.Load(context.Background()))
	t.Cleanup(func() { _ = root.Close(context.Background()) })

	files := fstest.MapFS{}
	h := plugin.NewHost(root, plugin.NewFSSource(files),
		plugin.WithFetchBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
		}),
		plugin.WithSandboxTimeout(5*time.Second),
	)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return &harness{files: files, mem: mem, root: root, host: h}
}

// add writes a plugin's manifest and entry chunk under plugins/<name>/.
func (hs *harness) add(name, manifest, code string) {
	hs.files["plugins/"+name+"/plugin.yaml"] = &fstest.MapFile{Data: []byte(manifest)}
	hs.files["plugins/"+name+"/main.lua"] = &fstest.MapFile{Data: []byte(code)}
}

func (hs *harness) install(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, hs.host.Install(context.Background(), name))
	}
}

// pref reads a value from a plugin's own preferences.
func (hs *harness) pref(t *testing.T, plugin, path string) any {
	t.Helper()
	d, err := hs.root.Dictionary(context.Background(), plugin, prefs.ReadOnly)
	require.NoError(t, err)
	v, err := d.Get(path)
	require.NoError(t, err)
	return v
}
