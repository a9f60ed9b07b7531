// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/marktime/internal/prefs/store"
	"github.com/holomush/marktime/pkg/errutil"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL preference schema",
		Long: `Apply, roll back or inspect the preference schema migrations. Only
PostgreSQL stores are migrated; SQLite and memory stores create their schema
on open.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err //nolint:wrapcheck // migrator errors carry codes
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, deleting all stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // migrator errors carry codes
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err //nolint:wrapcheck // migrator errors carry codes
				}
				pending, err := m.Pending()
				if err != nil {
					return err //nolint:wrapcheck // migrator errors carry codes
				}
				cmd.Printf("Version: %d\n", version)
				if dirty {
					cmd.Println("State:   dirty (repair, then run migrate force)")
				}
				cmd.Printf("Pending: %d\n", len(pending))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Force(version); err != nil {
					return err //nolint:wrapcheck // migrator errors carry codes
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

// parseForceVersion parses the force argument as a non-negative integer.
func parseForceVersion(s string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	if version < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be non-negative, got %d", version)
	}
	return version, nil
}

// postgresDSN returns dsn when it names a PostgreSQL database.
func postgresDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dsn, nil
	}
	return "", oops.Code("CONFIG_INVALID").With("key", "store.dsn").
		Hint("set --store-dsn to a postgres:// url").
		Errorf("migrations only apply to PostgreSQL stores")
}

func withMigrator(cmd *cobra.Command, fn func(m *store.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dsn, err := postgresDSN(cfg.Store.DSN)
	if err != nil {
		return err
	}

	m, err := store.NewMigrator(dsn)
	if err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(newLogger(cfg, cmd.ErrOrStderr()), "error closing migrator", closeErr)
		}
	}()
	return fn(m)
}
