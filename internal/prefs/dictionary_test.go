// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package prefs_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/prefs/store"
	"github.com/holomush/marktime/internal/sandbox"
	"github.com/holomush/marktime/pkg/errutil"
)

func newRoot(t *testing.T, s store.RecordStore, opts ...prefs.Option) *prefs.Root {
	t.Helper()
	opts = append([]prefs.Option{prefs.WithAutosaveInterval(time.Hour)}, opts...)
	r := prefs.NewRoot(s, opts...)
	require.NoError(t, r.Load(context.Background()))
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func newDictionary(t *testing.T, mode prefs.AccessMode) *prefs.Dictionary {
	t.Helper()
	d, err := newRoot(t, store.NewMemory()).Dictionary(context.Background(), "notes", mode)
	require.NoError(t, err)
	return d
}

func TestDictionary_SetThenGetNestedPath(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)

	require.NoError(t, d.Set("a.b.c", 5))

	got, err := d.Get("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestDictionary_ReadOnlyChildCannotOverwrite(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)
	require.NoError(t, d.Set("a.b.c", 5))

	child, err := d.GetChild("a.b", true)
	require.NoError(t, err)
	err = child.Set("c", 6)

	require.Error(t, err)
	assert.ErrorIs(t, err, prefs.ErrReadOnly)
	errutil.AssertErrorCode(t, err, prefs.CodeReadOnly)
	got, err := d.Get("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestDictionary_ReadOnlyIsInherited(t *testing.T) {
	d := newDictionary(t, prefs.ReadOnly)

	direct, err := d.GetChild("a", false)
	require.NoError(t, err)
	nested, err := d.GetChild("a.b.c", false)
	require.NoError(t, err)
	grandchild, err := direct.GetChild("x", false)
	require.NoError(t, err)

	for _, dict := range []*prefs.Dictionary{d, direct, nested, grandchild} {
		assert.True(t, dict.ReadOnly(), dict.Path())
		assert.ErrorIs(t, dict.Set("k", 1), prefs.ErrReadOnly, dict.Path())
	}
	assert.ErrorIs(t, d.Set("a.k", 1), prefs.ErrReadOnly)
	assert.ErrorIs(t, d.Clear(), prefs.ErrReadOnly)
	_, err = d.Maybe("missing", 1)
	assert.ErrorIs(t, err, prefs.ErrReadOnly)
}

func TestDictionary_ReadOnlyViewSeesWrites(t *testing.T) {
	r := newRoot(t, store.NewMemory())
	rw, err := r.Dictionary(context.Background(), "notes", prefs.ReadWrite)
	require.NoError(t, err)
	ro, err := r.Dictionary(context.Background(), "notes", prefs.ReadOnly)
	require.NoError(t, err)

	require.NoError(t, rw.Set("theme", "dark"))

	got, err := ro.Get("theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", got)
}

func TestDictionary_MaybeIsIdempotent(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)

	first, err := d.Maybe("plugin.list", []any{})
	require.NoError(t, err)
	second, err := d.Maybe("plugin.list", []any{"other"})
	require.NoError(t, err)
	third, err := d.Maybe("plugin.list", "ignored")
	require.NoError(t, err)

	assert.Equal(t, []any{}, first)
	assert.Equal(t, []any{}, second)
	assert.Equal(t, []any{}, third)
}

func TestDictionary_MaybeReplacesNilValue(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)
	require.NoError(t, d.Set("k", nil))

	got, err := d.Maybe("k", "default")

	require.NoError(t, err)
	assert.Equal(t, "default", got)
}

func TestDictionary_GetMissingLeafDoesNotCreate(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)

	got, err := d.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, d.Keys())

	_, err = d.Get("section.missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"section"}, d.Keys(), "navigation creates the dictionary")
	ok, err := d.Exists("section.missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDictionary_NodeKindIsFixed(t *testing.T) {
	tests := []struct {
		name string
		run  func(d *prefs.Dictionary) error
	}{
		{"property used as dictionary on set", func(d *prefs.Dictionary) error {
			return d.Set("leaf.child", 1)
		}},
		{"property used as dictionary on get", func(d *prefs.Dictionary) error {
			_, err := d.Get("leaf.child")
			return err
		}},
		{"property used as dictionary on getChild", func(d *prefs.Dictionary) error {
			_, err := d.GetChild("leaf", false)
			return err
		}},
		{"dictionary used as property on set", func(d *prefs.Dictionary) error {
			return d.Set("section", 1)
		}},
		{"dictionary used as property on get", func(d *prefs.Dictionary) error {
			_, err := d.Get("section")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDictionary(t, prefs.ReadWrite)
			require.NoError(t, d.Set("leaf", "value"))
			require.NoError(t, d.Set("section.key", "value"))

			err := tt.run(d)

			require.Error(t, err)
			assert.ErrorIs(t, err, prefs.ErrNodeKind)
			errutil.AssertErrorCode(t, err, prefs.CodeNodeKind)
		})
	}
}

func TestDictionary_GetChildIsCachedPerMode(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)

	a1, err := d.GetChild("a", false)
	require.NoError(t, err)
	a2, err := d.GetChild("a", false)
	require.NoError(t, err)
	aRO, err := d.GetChild("a", true)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, aRO)
	assert.Equal(t, "a", a1.Name())
	assert.Equal(t, "notes.a", a1.Path())
}

func TestDictionary_ExistsAndKeys(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)
	require.NoError(t, d.Set("b", 1))
	require.NoError(t, d.Set("a.x", 2))
	require.NoError(t, d.Set("n", nil))

	for path, want := range map[string]bool{"a": true, "b": true, "a.x": true, "n": false, "z": false} {
		got, err := d.Exists(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
	assert.Equal(t, []string{"a", "b", "n"}, d.Keys())
}

func TestDictionary_Clear(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)
	require.NoError(t, d.Set("a.b", 1))
	require.NoError(t, d.Set("c", 2))

	require.NoError(t, d.Clear())

	assert.Empty(t, d.Keys())
	got, err := d.Get("a.b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDictionary_ExportedToPluginCode(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)
	c, err := sandbox.New(context.Background(), "notes", nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Copy(map[string]any{"prefs": d}))

	out, err := c.Run(context.Background(), "prefs", `
		prefs:set("a.b.c", 5)
		prefs.set("flag", true)
		local ro = prefs:getChild("a.b", true)
		local ok = pcall(ro.set, "c", 6)
		return prefs:get("a.b.c"), prefs.maybe("flag", false), ro.readonly, ok, prefs:keys()
	`, nil)

	require.NoError(t, err)
	assert.Equal(t, []any{float64(5), true, true, false, []any{"a", "flag"}}, out)
}

func TestDictionary_RejectsUnencodableValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"NaN", math.NaN()},
		{"infinity", math.Inf(1)},
		{"function", func() {}},
		{"host function", sandbox.Func(func(context.Context, ...any) ([]any, error) { return nil, nil })},
		{"channel", make(chan int)},
		{"nested NaN", map[string]any{"n": math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r := newRoot(t, store.NewMemory())
			d, err := r.Dictionary(ctx, "notes", prefs.ReadWrite)
			require.NoError(t, err)
			require.NoError(t, d.Set("x", 1.0))
			pending := r.Pending()

			err = d.Set("x", tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, prefs.ErrValue)
			errutil.AssertErrorCode(t, err, prefs.CodeValue)

			_, err = d.Maybe("y", tt.value)
			assert.ErrorIs(t, err, prefs.ErrValue)

			got, err := d.Get("x")
			require.NoError(t, err)
			assert.InDelta(t, 1.0, got, 0)
			assert.Equal(t, pending, r.Pending())
			require.NoError(t, r.Flush(ctx))
		})
	}
}

func TestDictionary_PluginCodeCannotStoreNaN(t *testing.T) {
	d := newDictionary(t, prefs.ReadWrite)
	c, err := sandbox.New(context.Background(), "notes", nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Copy(map[string]any{"prefs": d}))

	out, err := c.Run(context.Background(), "prefs", `
		local ok = pcall(prefs.set, prefs, "x", 0/0)
		return ok, prefs:exists("x")
	`, nil)

	require.NoError(t, err)
	assert.Equal(t, []any{false, false}, out)
}
