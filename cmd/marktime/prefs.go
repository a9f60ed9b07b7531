// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/marktime/internal/prefs"
)

// NewPrefsCmd creates the prefs subcommand.
func NewPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Inspect and edit plugin preferences",
		Long: `Read and write entries in a plugin's preference tree. Paths are
dot-separated; values are parsed as YAML, so 3 is a number, true a boolean
and [a, b] a list.`,
	}

	cmd.AddCommand(newPrefsListCmd())
	cmd.AddCommand(newPrefsGetCmd())
	cmd.AddCommand(newPrefsSetCmd())
	cmd.AddCommand(newPrefsKeysCmd())

	return cmd
}

func newPrefsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugins that have stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				for _, name := range rt.root.Plugins() {
					cmd.Println(name)
				}
				return nil
			})
		},
	}
}

func newPrefsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get PLUGIN PATH",
		Short: "Print the value stored at PATH as YAML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				dict, err := existingDictionary(ctx, rt, args[0])
				if err != nil {
					return err //nolint:wrapcheck // prefs errors carry context
				}
				v, err := dict.Get(args[1])
				if err != nil {
					return err //nolint:wrapcheck // prefs errors carry context
				}
				out, err := yaml.Marshal(v)
				if err != nil {
					return oops.Code("PREFS_ENCODE_FAILED").With("path", args[1]).Wrap(err)
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}
}

func newPrefsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set PLUGIN PATH VALUE",
		Short: "Store a YAML value at PATH",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[2])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				dict, err := rt.root.Dictionary(ctx, args[0], prefs.ReadWrite)
				if err != nil {
					return err //nolint:wrapcheck // prefs errors carry context
				}
				if err := dict.Set(args[1], value); err != nil {
					return err //nolint:wrapcheck // prefs errors carry context
				}
				return dict.Save(ctx) //nolint:wrapcheck // prefs errors carry context
			})
		},
	}
}

func newPrefsKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys PLUGIN [PATH]",
		Short: "List the keys of a preference dictionary",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				dict, err := existingDictionary(ctx, rt, args[0])
				if err != nil {
					return err //nolint:wrapcheck // prefs errors carry context
				}
				if len(args) == 2 {
					if dict, err = dict.GetChild(args[1], true); err != nil {
						return err //nolint:wrapcheck // prefs errors carry context
					}
				}
				for _, k := range dict.Keys() {
					cmd.Println(k)
				}
				return nil
			})
		},
	}
}

// existingDictionary opens plugin's tree read-only without creating a
// record for a plugin that never stored anything.
func existingDictionary(ctx context.Context, rt *runtime, plugin string) (*prefs.Dictionary, error) {
	if !slices.Contains(rt.root.Plugins(), plugin) {
		return nil, oops.Code("PREFS_NOT_FOUND").With("plugin", plugin).Errorf("no preferences stored for %q", plugin)
	}
	return rt.root.Dictionary(ctx, plugin, prefs.ReadOnly) //nolint:wrapcheck // prefs errors carry context
}

// parseValue decodes a command-line value as YAML. An empty string stays a
// string.
func parseValue(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return s, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, oops.Code("INVALID_VALUE").With("value", s).Wrap(err)
	}
	return v, nil
}
