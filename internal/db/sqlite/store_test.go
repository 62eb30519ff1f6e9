package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "labelscan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleScan(userID uuid.UUID, name string, createdAt time.Time) *types.ScanResult {
	limit := 50.0
	return &types.ScanResult{
		UserID:      userID,
		ProductName: name,
		RawText:     "İçindekiler: şeker, fındık",
		Language:    "tr",
		Ingredients: []types.ParsedIngredient{
			{Name: "Şeker", NormalizedName: "seker"},
			{Name: "Fındık", NormalizedName: "findik"},
		},
		Nutrients: []types.ParsedNutrient{
			{Label: "sugar_g", Value: 48.2, MaxRecommended: &limit},
			{Label: "energy_kcal", Value: 530},
		},
		IngredientRisks: []types.IngredientRisk{
			{Ingredient: types.ParsedIngredient{Name: "Şeker", NormalizedName: "seker"}, Level: types.RiskMedium, Reasons: []string{"risk for diyabet: seker"}},
			{Ingredient: types.ParsedIngredient{Name: "Fındık", NormalizedName: "findik"}, Level: types.RiskLow, Reasons: []string{}},
		},
		SummaryExplanation: "Şeker oranı yüksek.",
		SummaryRisk:        types.RiskMedium,
		CreatedAt:          createdAt,
	}
}

func TestStore_ScanRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	created := time.Date(2026, 4, 2, 9, 30, 0, 123000000, time.UTC)

	scan := sampleScan(userID, "Fındık Kreması", created)
	id, err := s.SaveScan(ctx, scan)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	loaded, err := s.LoadScan(ctx, id, userID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	scan.ID = id
	assert.Equal(t, scan, loaded)
}

func TestStore_LoadScanNotOwned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()

	id, err := s.SaveScan(ctx, sampleScan(owner, "bar", time.Now()))
	require.NoError(t, err)

	tests := []struct {
		name   string
		scanID uuid.UUID
		userID uuid.UUID
	}{
		{name: "other user", scanID: id, userID: uuid.New()},
		{name: "unknown scan", scanID: uuid.New(), userID: owner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan, err := s.LoadScan(ctx, tt.scanID, tt.userID)
			require.NoError(t, err)
			assert.Nil(t, scan)
		})
	}
}

func TestStore_SaveScanRejectsMismatchedRisks(t *testing.T) {
	s := openTestStore(t)
	scan := sampleScan(uuid.New(), "bar", time.Now())
	scan.IngredientRisks = scan.IngredientRisks[:1]

	_, err := s.SaveScan(context.Background(), scan)
	assert.Error(t, err)
}

func TestStore_ListScansNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"first", "second", "third"} {
		_, err := s.SaveScan(ctx, sampleScan(userID, name, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.SaveScan(ctx, sampleScan(uuid.New(), "someone else", base))
	require.NoError(t, err)

	items, err := s.ListScans(ctx, userID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "third", items[0].ProductName)
	assert.Equal(t, "first", items[2].ProductName)
	assert.Equal(t, types.RiskMedium, items[0].SummaryRisk)

	empty, err := s.ListScans(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_DeleteScanRemovesHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	id, err := s.SaveScan(ctx, sampleScan(userID, "bar", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.AppendTurns(ctx, userID, []types.ConversationTurn{
		{ID: uuid.New(), Role: types.RoleUser, Text: "hi", ScanID: &id},
	}))

	removed, err := s.DeleteScan(ctx, id, uuid.New())
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.DeleteScan(ctx, id, userID)
	require.NoError(t, err)
	assert.True(t, removed)

	scan, err := s.LoadScan(ctx, id, userID)
	require.NoError(t, err)
	assert.Nil(t, scan)

	turns, err := s.ListTurns(ctx, userID, &id)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStore_Profile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	profile, err := s.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, profile.IsEmpty())

	require.NoError(t, s.UpsertProfile(ctx, userID, types.HealthProfile{
		Allergies:         []string{"Peanuts", " peanuts "},
		ChronicConditions: []string{"diabetes"},
	}))
	require.NoError(t, s.UpsertProfile(ctx, userID, types.HealthProfile{
		Allergies:          []string{"milk"},
		DietaryPreferences: []string{"vegan"},
	}))

	profile, err = s.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"milk"}, profile.Allergies)
	assert.Equal(t, []string{}, profile.ChronicConditions)
	assert.Equal(t, []string{"vegan"}, profile.DietaryPreferences)
}

func TestStore_Conversations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	id, err := s.SaveScan(ctx, sampleScan(userID, "bar", time.Now()))
	require.NoError(t, err)

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, s.AppendTurns(ctx, userID, []types.ConversationTurn{
		{ID: uuid.New(), Role: types.RoleUser, Text: "Şeker var mı?", ScanID: &id, CreatedAt: at},
		{ID: uuid.New(), Role: types.RoleAssistant, Text: "Evet.", ScanID: &id, CreatedAt: at},
	}))
	require.NoError(t, s.AppendTurns(ctx, userID, []types.ConversationTurn{
		{ID: uuid.New(), Role: types.RoleUser, Text: "profile question", CreatedAt: at},
	}))
	require.NoError(t, s.AppendTurns(ctx, userID, nil))

	turns, err := s.ListTurns(ctx, userID, &id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Şeker var mı?", turns[0].Text)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, &id, turns[1].ScanID)
	assert.True(t, at.Equal(turns[0].CreatedAt))

	profileTurns, err := s.ListTurns(ctx, userID, nil)
	require.NoError(t, err)
	require.Len(t, profileTurns, 1)
	assert.Nil(t, profileTurns[0].ScanID)

	others, err := s.ListTurns(ctx, uuid.New(), &id)
	require.NoError(t, err)
	assert.Empty(t, others)
}
