// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/marktime/internal/config"
	"github.com/holomush/marktime/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the marktime CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *RunDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marktime",
		Short: "marktime - a sandboxed Lua plugin host",
		Long: `marktime loads Lua plugins into isolated sandboxes in dependency order,
lets them share capabilities with each other, and keeps their preferences
in a persistent store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/marktime/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCmd(deps))
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewPrefsCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig layers defaults, the config file and the flags set on cmd.
// An explicit --config must exist; the XDG default may be absent.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dbPath, err := xdg.PrefsDB()
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "locate data directory").Wrap(err)
	}

	path, required := configFile, configFile != ""
	if !required {
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("operation", "locate config directory").Wrap(err)
		}
	}

	return config.Load(config.Source{ //nolint:wrapcheck // config errors carry codes
		Defaults: config.Defaults("sqlite://" + dbPath),
		Path:     path,
		Required: required,
		Flags:    cmd.Flags(),
	})
}
