package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/db/sqlite"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or replace the local health profile",
}

var (
	profileUser       string
	profileAllergies  []string
	profileConditions []string
	profileDiets      []string
)

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored health profile as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLocalStore(cmd, func(ctx context.Context, store *sqlite.Store, userID uuid.UUID) error {
			profile, err := store.GetProfile(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(profile.Normalized())
		})
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the stored health profile",
	Long:  "Replace the stored health profile. Lists not given on the command line are cleared.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := types.UpdateProfileRequest{
			Allergies:          profileAllergies,
			ChronicConditions:  profileConditions,
			DietaryPreferences: profileDiets,
		}
		if err := req.Validate(); err != nil {
			return err
		}
		return withLocalStore(cmd, func(ctx context.Context, store *sqlite.Store, userID uuid.UUID) error {
			profile := req.Profile()
			if err := store.UpsertProfile(ctx, userID, profile); err != nil {
				return err
			}
			return printJSON(profile)
		})
	},
}

func init() {
	profileCmd.PersistentFlags().StringVar(&profileUser, "user", "", "User ID owning the profile (default: the local user)")
	profileSetCmd.Flags().StringSliceVar(&profileAllergies, "allergy", nil, "Allergy (repeatable)")
	profileSetCmd.Flags().StringSliceVar(&profileConditions, "condition", nil, "Chronic condition (repeatable)")
	profileSetCmd.Flags().StringSliceVar(&profileDiets, "diet", nil, "Dietary preference (repeatable)")

	profileCmd.AddCommand(profileShowCmd, profileSetCmd)
	rootCmd.AddCommand(profileCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
