package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tagtrack/internal/db"
)

// migrateCmd manages the schema without running the server. The database is
// opened without migrating so a dirty schema can be inspected and forced.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withDB := func(run func(cmd *cobra.Command, database *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			database, err := db.OpenDB(resolveDBPath(cfg))
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()
			return run(cmd, database, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, database *db.DB, _ []string) error {
			log.Printf("Running migrations...")
			if err := database.MigrateUp(); err != nil {
				return fmt.Errorf("migration up failed: %w", err)
			}
			log.Println("✓ All migrations applied successfully")
			return printVersion(cmd, database)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back one migration",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, database *db.DB, _ []string) error {
			log.Printf("Rolling back one migration...")
			if err := database.MigrateDown(); err != nil {
				return fmt.Errorf("migration down failed: %w", err)
			}
			log.Println("✓ Migration rolled back successfully")
			return printVersion(cmd, database)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current and latest schema versions",
		Args:  cobra.NoArgs,
		RunE: withDB(func(cmd *cobra.Command, database *db.DB, _ []string) error {
			if err := printVersion(cmd, database); err != nil {
				return err
			}
			latest, err := db.LatestMigrationVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Latest version: %d\n", latest)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations (recovery only)",
		Args:  cobra.ExactArgs(1),
		RunE: withDB(func(cmd *cobra.Command, database *db.DB, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}
			if err := database.MigrateForce(v); err != nil {
				return fmt.Errorf("force version %d: %w", v, err)
			}
			log.Printf("✓ Forced version to %d", v)
			return printVersion(cmd, database)
		}),
	})

	return cmd
}

func printVersion(cmd *cobra.Command, database *db.DB) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(cmd.OutOrStdout(), "WARNING: a migration failed mid-execution; fix the schema and run: tagtrack migrate force <version>")
	}
	return nil
}
