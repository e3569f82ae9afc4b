// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/store"
)

// newMigrateCmd creates the migrate subcommand tree.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the role store schema",
		Long: `Apply, roll back, or inspect the PostgreSQL schema migrations for the
role store. The database URL comes from database_url in the config file
or the GATEWAY_DATABASE_URL environment variable.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateVersionCmd())

	return cmd
}

// newMigrateUpCmd creates the migrate up subcommand.
func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, nil)
		},
	}
}

// newMigrateDownCmd creates the migrate down subcommand.
func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations, dropping role data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateDown(cmd, nil)
		},
	}
}

// newMigrateVersionCmd creates the migrate version subcommand.
func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateVersion(cmd, nil)
		},
	}
}

// runMigrateUp applies all pending migrations.
func runMigrateUp(cmd *cobra.Command, deps *MigrateDeps) error {
	migrator, err := openMigrator(deps)
	if err != nil {
		return err
	}
	defer closeMigrator(migrator)

	cmd.Println("Applying migrations...")
	if err := migrator.Up(); err != nil {
		return err
	}

	cmd.Println("Migrations applied")
	return nil
}

// runMigrateDown rolls back every migration.
func runMigrateDown(cmd *cobra.Command, deps *MigrateDeps) error {
	migrator, err := openMigrator(deps)
	if err != nil {
		return err
	}
	defer closeMigrator(migrator)

	cmd.Println("Rolling back all migrations...")
	if err := migrator.Down(); err != nil {
		return err
	}

	cmd.Println("Migrations rolled back")
	return nil
}

// runMigrateVersion prints the current schema version.
func runMigrateVersion(cmd *cobra.Command, deps *MigrateDeps) error {
	migrator, err := openMigrator(deps)
	if err != nil {
		return err
	}
	defer closeMigrator(migrator)

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}

	if version == 0 {
		cmd.Println("No migrations applied yet")
		return nil
	}

	cmd.Printf("Schema version %d\n", version)
	if dirty {
		cmd.Println("WARNING: the last migration failed partway through; fix the database before migrating again")
	}
	return nil
}

// openMigrator fills defaults and builds the migrator from configuration.
func openMigrator(deps *MigrateDeps) (SchemaMigrator, error) {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	if deps.SettingsLoader == nil {
		deps.SettingsLoader = loadSettings
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (SchemaMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}

	settings, err := deps.SettingsLoader(configFile)
	if err != nil {
		return nil, err
	}
	if settings.DatabaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("database_url is required; set it in the config file or GATEWAY_DATABASE_URL")
	}

	return deps.MigratorFactory(settings.DatabaseURL)
}

// closeMigrator releases the migrator, logging rather than failing on close
// errors so they cannot mask a migration result.
func closeMigrator(m SchemaMigrator) {
	if err := m.Close(); err != nil {
		slog.Warn("error closing migrator", "error", err)
	}
}
