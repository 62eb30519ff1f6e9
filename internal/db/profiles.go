package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/labelscan/internal/types"
)

// GetProfile returns the user's health profile, or an empty profile when
// none is stored.
func (db *DB) GetProfile(ctx context.Context, userID uuid.UUID) (types.HealthProfile, error) {
	var allergies, conditions, preferences StringArray
	err := db.pool.QueryRow(ctx,
		`SELECT allergies, chronic_conditions, dietary_preferences
		 FROM health_profiles WHERE user_id = $1`,
		userID,
	).Scan(&allergies, &conditions, &preferences)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.HealthProfile{}, nil
		}
		return types.HealthProfile{}, fmt.Errorf("failed to get health profile: %w", err)
	}
	return types.HealthProfile{
		Allergies:          allergies.Strings(),
		ChronicConditions:  conditions.Strings(),
		DietaryPreferences: preferences.Strings(),
	}, nil
}

// UpsertProfile replaces the user's health profile.
func (db *DB) UpsertProfile(ctx context.Context, userID uuid.UUID, profile types.HealthProfile) error {
	profile = profile.Normalized()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO health_profiles (user_id, allergies, chronic_conditions, dietary_preferences)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		     allergies = $2,
		     chronic_conditions = $3,
		     dietary_preferences = $4,
		     updated_at = NOW()`,
		userID, StringArray(profile.Allergies), StringArray(profile.ChronicConditions), StringArray(profile.DietaryPreferences),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert health profile: %w", err)
	}
	return nil
}
