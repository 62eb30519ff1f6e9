package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/db/sqlite"
	"github.com/jonathan/labelscan/internal/observability"
	"github.com/spf13/cobra"
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List, show or delete locally saved scans",
}

var scansUser string

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLocalStore(cmd, func(ctx context.Context, store *sqlite.Store, userID uuid.UUID) error {
			items, err := store.ListScans(ctx, userID)
			if err != nil {
				return err
			}
			observability.NewPrinter(os.Stdout).PrintScanList(items)
			return nil
		})
	},
}

var scansShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show a saved scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[0], err)
		}
		return withLocalStore(cmd, func(ctx context.Context, store *sqlite.Store, userID uuid.UUID) error {
			scan, err := store.LoadScan(ctx, scanID, userID)
			if err != nil {
				return err
			}
			if scan == nil {
				return fmt.Errorf("scan %s not found", scanID)
			}
			observability.NewPrinter(os.Stdout).PrintScan(scan)
			return nil
		})
	},
}

var scansDeleteCmd = &cobra.Command{
	Use:   "delete <scan-id>",
	Short: "Delete a saved scan and its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[0], err)
		}
		return withLocalStore(cmd, func(ctx context.Context, store *sqlite.Store, userID uuid.UUID) error {
			deleted, err := store.DeleteScan(ctx, scanID, userID)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("scan %s not found", scanID)
			}
			fmt.Printf("Deleted scan %s\n", scanID)
			return nil
		})
	},
}

func init() {
	scansCmd.PersistentFlags().StringVar(&scansUser, "user", "", "User ID owning the scans (default: the local user)")
	scansCmd.AddCommand(scansListCmd, scansShowCmd, scansDeleteCmd)
	rootCmd.AddCommand(scansCmd)
}

// withLocalStore opens the configured SQLite database for one command.
func withLocalStore(cmd *cobra.Command, fn func(ctx context.Context, store *sqlite.Store, userID uuid.UUID) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	user, _ := cmd.Flags().GetString("user")
	userID, err := parseUserID(user)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(ctx, store, userID)
}
