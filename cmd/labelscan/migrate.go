package main

import (
	"context"
	"fmt"

	"github.com/jonathan/labelscan/internal/db"
	"github.com/jonathan/labelscan/internal/db/sqlite"
	"github.com/spf13/cobra"
)

var migrateSQLite bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long:  "Apply the embedded schema to the Postgres database at database.url, or to the local SQLite file with --sqlite. The schema is idempotent.",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSQLite, "sqlite", false, "Initialize the local SQLite database instead of Postgres")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if migrateSQLite {
		store, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return err
		}
		fmt.Printf("SQLite schema ready at %s\n", cfg.Database.SQLitePath)
		return store.Close()
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required (set LABELSCAN_DATABASE_URL)")
	}
	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Postgres schema is up to date")
	return nil
}
