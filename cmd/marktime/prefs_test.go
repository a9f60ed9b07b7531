// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/pkg/errutil"
)

func TestPrefsCommands_SetGetKeys(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("prefs", "set", "notes", "greeting.text", "hello")
	require.NoError(t, err)
	_, err = env.run("prefs", "set", "notes", "count", "3")
	require.NoError(t, err)
	_, err = env.run("prefs", "set", "notes", "tags", "[a, b]")
	require.NoError(t, err)

	out, err := env.run("prefs", "get", "notes", "greeting.text")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = env.run("prefs", "get", "notes", "count")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = env.run("prefs", "get", "notes", "tags")
	require.NoError(t, err)
	assert.Equal(t, "- a\n- b\n", out)

	out, err = env.run("prefs", "keys", "notes")
	require.NoError(t, err)
	assert.Equal(t, "count\ngreeting\ntags\n", out)

	out, err = env.run("prefs", "keys", "notes", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "text\n", out)

	out, err = env.run("prefs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "notes\n")
}

func TestPrefsCommands_UnknownPlugin(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("prefs", "get", "ghost", "anything")
	errutil.AssertErrorCode(t, err, "PREFS_NOT_FOUND")

	out, err := env.run("prefs", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "ghost", "reading does not create a record")
}

func TestPrefsCommands_SetThroughPropertyFails(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("prefs", "set", "notes", "count", "3")
	require.NoError(t, err)

	_, err = env.run("prefs", "set", "notes", "count.nested", "4")
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{name: "string", input: "hello", want: "hello"},
		{name: "integer", input: "42", want: 42},
		{name: "float", input: "1.5", want: 1.5},
		{name: "boolean", input: "true", want: true},
		{name: "quoted number stays string", input: `"42"`, want: "42"},
		{name: "list", input: "[a, 1]", want: []any{"a", 1}},
		{name: "mapping", input: "{a: 1}", want: map[string]any{"a": 1}},
		{name: "empty stays string", input: "", want: ""},
		{name: "null", input: "~", want: nil},
		{name: "malformed", input: "[a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VALUE")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
