// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliEnv points XDG directories and the plugin dir at temp directories so
// commands share one SQLite store per test.
type cliEnv struct {
	pluginsDir string
	deps       *RunDeps
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	return &cliEnv{pluginsDir: t.TempDir()}
}

func (e *cliEnv) writePlugin(t *testing.T, name, manifest, code string) {
	t.Helper()
	dir := filepath.Join(e.pluginsDir, "plugins", name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(code), 0o600))
}

func (e *cliEnv) run(args ...string) (string, error) {
	configFile = ""

	cmd := newRootCmd(e.deps)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--plugins-dir", e.pluginsDir, "--log-level", "error"}, args...))

	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"run", "plugins", "prefs", "migrate", "schema"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
	for _, flag := range []string{"--config", "--store-dsn", "--plugins-dir", "--s3-bucket", "--sandbox-timeout"} {
		assert.Contains(t, output, flag, "Help missing %q flag", flag)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/marktime.yaml", "--help"},
			wantFlag: "/etc/marktime.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestRootCommand_MissingExplicitConfigFails(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("--config", filepath.Join(t.TempDir(), "absent.yaml"), "plugins", "list")

	require.Error(t, err)
}

func TestRootCommand_ConfigFileIsRead(t *testing.T) {
	env := newCLIEnv(t)
	env.writePlugin(t, "notes", "name: notes\n", "")

	// The XDG config file moves plugins to a directory holding nothing.
	path := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "marktime", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  dir: "+t.TempDir()+"\n"), 0o600))

	configFile = ""
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"plugins", "install", "notes"})

	assert.Error(t, cmd.Execute(), "config file dir has no notes plugin")
}
