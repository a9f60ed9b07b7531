// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/marktime/internal/plugin"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var validate string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin manifest JSON Schema",
		Long: `Print the JSON Schema for plugin.yaml manifests, or with --validate check
a manifest file against it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validate != "" {
				data, err := os.ReadFile(validate)
				if err != nil {
					return oops.Code("MANIFEST_LOAD_FAILED").With("path", validate).Wrap(err)
				}
				if err := plugin.ValidateSchema(data); err != nil {
					cmd.PrintErrln(plugin.FormatSchemaError(err))
					return err //nolint:wrapcheck // schema errors are descriptive
				}
				cmd.Printf("%s: valid\n", validate)
				return nil
			}

			schema, err := plugin.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // schema errors are descriptive
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}

	cmd.Flags().StringVar(&validate, "validate", "", "manifest file to validate instead of printing the schema")
	return cmd
}
