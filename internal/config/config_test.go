// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/marktime/internal/config"
	"github.com/holomush/marktime/pkg/errutil"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.Source{Defaults: config.Defaults("memory://"), Flags: newFlags(t)})
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory://", cfg.Store.DSN)
	assert.Equal(t, ".", cfg.Plugins.Dir)
	assert.Equal(t, 5*time.Second, cfg.Prefs.AutosaveInterval)
	assert.Equal(t, 50, cfg.Prefs.AutosaveMaxChanges)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
log:
  format: text
store:
  dsn: sqlite:///var/lib/marktime/prefs.db
plugins:
  s3:
    bucket: plugins
    prefix: prod
    path_style: true
prefs:
  autosave_interval: 250ms
`)

	cfg, err := config.Load(config.Source{Defaults: config.Defaults("memory://"), Path: path})
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "sqlite:///var/lib/marktime/prefs.db", cfg.Store.DSN)
	assert.Equal(t, "plugins", cfg.Plugins.S3.Bucket)
	assert.Equal(t, "prod", cfg.Plugins.S3.Prefix)
	assert.True(t, cfg.Plugins.S3.PathStyle)
	assert.Equal(t, 250*time.Millisecond, cfg.Prefs.AutosaveInterval)
	assert.Equal(t, 50, cfg.Prefs.AutosaveMaxChanges, "unset keys keep defaults")
}

func TestLoad_SetFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "log:\n  format: text\nmetrics:\n  addr: 127.0.0.1:9100\n")
	flags := newFlags(t, "--log-format=json", "--max-changes=7", "--autosave=1m")

	cfg, err := config.Load(config.Source{Defaults: config.Defaults("memory://"), Path: path, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr, "unset flags leave the file alone")
	assert.Equal(t, 7, cfg.Prefs.AutosaveMaxChanges)
	assert.Equal(t, time.Minute, cfg.Prefs.AutosaveInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := config.Load(config.Source{Defaults: config.Defaults("memory://"), Path: missing})
	assert.NoError(t, err, "optional file may be absent")

	_, err = config.Load(config.Source{Defaults: config.Defaults("memory://"), Path: missing, Required: true})
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "log: [text")

	_, err := config.Load(config.Source{Defaults: config.Defaults("memory://"), Path: path})

	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorDomain(t, err, "config")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Log:     config.LogConfig{Format: "json", Level: "info"},
			Store:   config.StoreConfig{DSN: "memory://"},
			Plugins: config.PluginsConfig{Dir: "."},
			Prefs:   config.PrefsConfig{AutosaveInterval: time.Second, AutosaveMaxChanges: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		key    string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "bad log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, key: "log.format"},
		{name: "bad log level", mutate: func(c *config.Config) { c.Log.Level = "loud" }, key: "log.level"},
		{name: "empty dsn", mutate: func(c *config.Config) { c.Store.DSN = " " }, key: "store.dsn"},
		{name: "no plugin source", mutate: func(c *config.Config) { c.Plugins.Dir = "" }, key: "plugins.dir"},
		{
			name:   "bucket without dir",
			mutate: func(c *config.Config) { c.Plugins.Dir = ""; c.Plugins.S3.Bucket = "b" },
		},
		{name: "zero autosave", mutate: func(c *config.Config) { c.Prefs.AutosaveInterval = 0 }, key: "prefs.autosave_interval"},
		{name: "zero max changes", mutate: func(c *config.Config) { c.Prefs.AutosaveMaxChanges = 0 }, key: "prefs.autosave_max_changes"},
		{name: "negative timeout", mutate: func(c *config.Config) { c.Sandbox.Timeout = -time.Second }, key: "sandbox.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.key == "" {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}
