// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads marktime's runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// command-line flags the user actually set. Flag names map to keys by
// turning dashes into dots under a fixed prefix table, so --store-dsn sets
// store.dsn.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/marktime/internal/logging"
)

// Config is the complete runtime configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Store   StoreConfig   `koanf:"store"`
	Plugins PluginsConfig `koanf:"plugins"`
	Prefs   PrefsConfig   `koanf:"prefs"`
	Sandbox SandboxConfig `koanf:"sandbox"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the observability server. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// StoreConfig selects the preference record store.
type StoreConfig struct {
	DSN string `koanf:"dsn"`
}

// PluginsConfig says where plugin folders are read from. When S3.Bucket is
// set the bucket is used instead of Dir.
type PluginsConfig struct {
	Dir string   `koanf:"dir"`
	S3  S3Config `koanf:"s3"`
}

// S3Config locates plugin folders in a bucket.
type S3Config struct {
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	PathStyle bool   `koanf:"path_style"`
}

// PrefsConfig tunes preference autosave.
type PrefsConfig struct {
	AutosaveInterval   time.Duration `koanf:"autosave_interval"`
	AutosaveMaxChanges int           `koanf:"autosave_max_changes"`
}

// SandboxConfig bounds plugin execution.
type SandboxConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Defaults returns the built-in values. storeDSN is computed by the caller
// because it depends on the XDG data directory.
func Defaults(storeDSN string) map[string]any {
	return map[string]any{
		"log.format":                 logging.FormatJSON,
		"log.level":                  "info",
		"metrics.addr":               "",
		"store.dsn":                  storeDSN,
		"plugins.dir":                ".",
		"plugins.s3.bucket":          "",
		"plugins.s3.prefix":          "",
		"plugins.s3.region":          "",
		"plugins.s3.endpoint":        "",
		"plugins.s3.path_style":      false,
		"prefs.autosave_interval":    "5s",
		"prefs.autosave_max_changes": 50,
		"sandbox.timeout":            "30s",
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics.addr",
	"store-dsn":       "store.dsn",
	"plugins-dir":     "plugins.dir",
	"s3-bucket":       "plugins.s3.bucket",
	"s3-prefix":       "plugins.s3.prefix",
	"s3-region":       "plugins.s3.region",
	"s3-endpoint":     "plugins.s3.endpoint",
	"autosave":        "prefs.autosave_interval",
	"max-changes":     "prefs.autosave_max_changes",
	"sandbox-timeout": "sandbox.timeout",
}

// Source names the layers Load reads.
type Source struct {
	// Defaults come first; see Defaults.
	Defaults map[string]any
	// Path is a YAML file. A missing file is an error only when Required.
	Path     string
	Required bool
	// Flags override everything else, but only the flags that were set.
	Flags *pflag.FlagSet
}

// Load merges the layers of src and validates the result.
func Load(src Source) (*Config, error) {
	k := koanf.New(".")

	for key, value := range src.Defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.In("config").With("key", key).Wrap(err)
		}
	}

	if src.Path != "" {
		_, statErr := os.Stat(src.Path)
		switch {
		case statErr == nil:
			if err := k.Load(file.Provider(src.Path), yaml.Parser()); err != nil {
				return nil, oops.In("config").Code("CONFIG_INVALID").With("path", src.Path).Wrap(err)
			}
		case errors.Is(statErr, fs.ErrNotExist) && !src.Required:
		default:
			return nil, oops.In("config").Code("CONFIG_INVALID").With("path", src.Path).Wrap(statErr)
		}
	}

	if src.Flags != nil {
		provider := posflag.ProviderWithFlag(src.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(src.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	fail := func(key, format string, args ...any) error {
		return oops.In("config").Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if !logging.ValidFormat(c.Log.Format) {
		return fail("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fail("log.level", "log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fail("store.dsn", "store dsn is required")
	}
	if c.Plugins.S3.Bucket == "" && c.Plugins.Dir == "" {
		return fail("plugins.dir", "plugins dir or s3 bucket is required")
	}
	if c.Prefs.AutosaveInterval <= 0 {
		return fail("prefs.autosave_interval", "autosave interval must be positive, got %s", c.Prefs.AutosaveInterval)
	}
	if c.Prefs.AutosaveMaxChanges <= 0 {
		return fail("prefs.autosave_max_changes", "autosave max changes must be positive, got %d", c.Prefs.AutosaveMaxChanges)
	}
	if c.Sandbox.Timeout < 0 {
		return fail("sandbox.timeout", "sandbox timeout cannot be negative")
	}
	return nil
}

// RegisterFlags adds the flags Load understands to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("log-format", logging.FormatJSON, "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.String("store-dsn", "", "preference store (sqlite://<path>, postgres://..., memory://)")
	flags.String("plugins-dir", ".", "directory holding the plugin folder root")
	flags.String("s3-bucket", "", "read plugins from this S3 bucket instead of plugins-dir")
	flags.String("s3-prefix", "", "key prefix inside the S3 bucket")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-endpoint", "", "S3-compatible endpoint URL")
	flags.Duration("autosave", 5*time.Second, "preference autosave interval")
	flags.Int("max-changes", 50, "flush preferences after this many pending writes")
	flags.Duration("sandbox-timeout", 30*time.Second, "limit for each call into plugin code (0 = none)")
}
