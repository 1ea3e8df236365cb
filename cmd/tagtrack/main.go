package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tagtrack/internal/config"
	"github.com/banshee-data/tagtrack/internal/db"
	"github.com/banshee-data/tagtrack/internal/version"
)

// Global flags
var (
	configPath string
	dbPath     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tagtrack",
		Short: "Live and historical position tracking for UWB tags",
		Long: `tagtrack ingests position messages from UWB anchors, records them to
SQLite and serves a live or replayed view of every tag on the site plan
over HTTP and gRPC.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides db_path in the config)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importRosterCmd())
	rootCmd.AddCommand(exportRosterCmd())
	rootCmd.AddCommand(fetchBeaconsCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// loadConfig reads --config. A missing file at the default path falls back
// to built-in defaults; a missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		log.Printf("[config] %s not found, using defaults", configPath)
		return config.Empty(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func resolveDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.GetDBPath()
}

// openDB opens and migrates the configured database.
func openDB(cmd *cobra.Command) (*config.Config, *db.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.NewDB(resolveDBPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("database error: %w", err)
	}
	database.StatsOptions = db.StatsOptions{
		GapLimit:    cfg.GetStatsGapLimit(),
		MovingSpeed: cfg.GetStatsMovingSpeed(),
	}
	return cfg, database, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
