// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/holomush/marktime/pkg/errutil"
)

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage installed plugins",
		Long:  `List, install, remove and check the plugins recorded in plugin.list.`,
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsInstallCmd())
	cmd.AddCommand(newPluginsRemoveCmd())
	cmd.AddCommand(newPluginsCheckCmd())

	return cmd
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins in installation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				names, err := rt.host.InstalledPlugins(ctx)
				if err != nil {
					return err //nolint:wrapcheck // host errors carry codes
				}
				for _, name := range names {
					cmd.Println(name)
				}
				return nil
			})
		},
	}
}

func newPluginsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install NAME...",
		Short: "Install plugins; they load on the next run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				for _, name := range args {
					if err := rt.host.Install(ctx, name); err != nil {
						return err //nolint:wrapcheck // host errors carry codes
					}
					cmd.Printf("Installed %s\n", name)
				}
				return nil
			})
		},
	}
}

func newPluginsRemoveCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "remove NAME...",
		Short: "Remove plugins from plugin.list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				for _, name := range args {
					if err := rt.host.Uninstall(ctx, name, purge); err != nil {
						return err //nolint:wrapcheck // host errors carry codes
					}
					cmd.Printf("Removed %s\n", name)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the plugin's preferences")
	return cmd
}

func newPluginsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every installed plugin once and report the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				initErr := rt.host.Initialize(ctx)

				names, err := rt.host.InstalledPlugins(ctx)
				if err != nil {
					return err //nolint:wrapcheck // host errors carry codes
				}
				for _, name := range names {
					p, ok := rt.host.Plugin(name)
					switch {
					case !ok:
						cmd.Printf("%-24s %s\n", name, "not loaded")
					case p.Err() != nil:
						cmd.Printf("%-24s %-10s [%s] %s\n", name, p.State(), errutil.Code(p.Err()), p.Err())
					default:
						cmd.Printf("%-24s %-10s %s\n", name, p.State(), p.Version())
					}
				}
				if initErr == nil {
					cmd.Printf("Load order: %v\n", rt.host.LoadOrder())
				}
				return initErr //nolint:wrapcheck // host errors carry codes
			})
		},
	}
}
